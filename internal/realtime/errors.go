package realtime

import "errors"

var (
	errUnknownRoom   = errors.New("unknown room")
	errRoomForbidden = errors.New("token does not grant this room")
)
