package errcode

// Generic codes written to the "error" field of failed responses. Share and
// reverse-share codes live in shareerr.
const (
	Unauthorized = "unauthorized"
	Forbidden    = "forbidden"
	NotFound     = "not_found"
	Invalid      = "invalid"
	Conflict     = "conflict"
	TooMany      = "too_many_requests"
	Internal     = "internal"
)
