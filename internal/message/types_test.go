package message

import "testing"

func TestAdvances(t *testing.T) {
	t.Parallel()

	cases := []struct {
		current Status
		next    Status
		want    bool
	}{
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusDelivered, StatusRead, true},
		{StatusDelivered, StatusSent, false},
		{StatusRead, StatusDelivered, false},
		{StatusRead, StatusRead, false},
		{StatusSent, StatusSent, false},
		{StatusFailed, StatusDelivered, false},
		{StatusFailed, StatusRead, false},
		{StatusSent, StatusFailed, false},
		{StatusDelivered, StatusFailed, false},
	}

	for _, tc := range cases {
		got := Advances(tc.current, tc.next)
		if got != tc.want {
			t.Fatalf("Advances(%s, %s) = %v, want %v", tc.current, tc.next, got, tc.want)
		}
	}
}
