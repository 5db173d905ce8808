// Package services holds the assistant service transports, the client of the proxy routes and the
// session archive.
package services

import "errors"

const errLoggerKey = "err"

var (
	// ErrNotFound is returned when a thread, run or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunActive is returned when a thread is changed while one of its runs is still pending.
	ErrRunActive = errors.New("thread has an active run")
)
