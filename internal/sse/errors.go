package sse

import "errors"

var (
	// ErrStreamingNotSupported is returned when the response writer can't flush.
	ErrStreamingNotSupported = errors.New("streaming not supported")

	// ErrConnectionClosed is returned when writing to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidToken is returned when authentication fails.
	ErrInvalidToken = errors.New("invalid or missing authentication token")
)
