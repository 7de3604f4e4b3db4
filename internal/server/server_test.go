package server

import "testing"

func TestShouldSkipJWT(t *testing.T) {
	t.Parallel()

	cases := []struct {
		path string
		want bool
	}{
		{path: "/ping", want: true},
		{path: "/health", want: true},
		{path: "/metrics", want: true},
		{path: "/api/swagger.json", want: true},
		{path: "/webhooks/meta", want: true},
		{path: "/webhooks/whatsapp", want: true},
		{path: "/conversations", want: false},
		{path: "/ws", want: false},
		{path: "/media/whatsapp/abc", want: false},
		{path: "/api/webhooks/meta", want: false},
	}

	for _, tc := range cases {
		got := shouldSkipJWT(tc.path)
		if got != tc.want {
			t.Fatalf("path=%q want=%v got=%v", tc.path, tc.want, got)
		}
	}
}
