package dialogue

import (
	"errors"

	"github.com/ent0n29/mirrormind/internal/avatar"
	"github.com/ent0n29/mirrormind/internal/session"
)

// Caller errors are returned before any session state changes.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidState      = errors.New("session is closed to new turns")
	ErrRemoteUnavailable = errors.New("connection distorted")

	ErrNotFound           = session.ErrNotFound
	ErrBusy               = session.ErrBusy
	ErrNotReady           = avatar.ErrNotReady
	ErrRegistrationFailed = avatar.ErrRegistrationFailed
	ErrGenerationFailed   = avatar.ErrGenerationFailed
)
