package db

import (
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ParseUUID converts a string UUID into a pgtype.UUID.
func ParseUUID(id string) (pgtype.UUID, error) {
	var u pgtype.UUID
	if err := u.Scan(strings.TrimSpace(id)); err != nil {
		return pgtype.UUID{}, err
	}
	return u, nil
}

// TextToString returns the string value of a nullable pg text, or "".
func TextToString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// ToPgText converts a string to a nullable pg text; blank means NULL.
func ToPgText(value string) pgtype.Text {
	value = strings.TrimSpace(value)
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}

// ToPgTimestamptz converts a time to a nullable timestamptz; zero means NULL.
func ToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
