package domain

import "errors"

var (
	ErrDuplicateSession    = errors.New("duplicate session")
	ErrNotFound            = errors.New("session not found")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrDescriptionConflict = errors.New("description conflict")
	ErrSessionTerminated   = errors.New("session terminated")
	ErrSignalingTimeout    = errors.New("signaling timeout")
	ErrTransport           = errors.New("signaling transport error")
	ErrRateLimited         = errors.New("rate limited")

	ErrEmptyDescription = errors.New("empty session description")
)
