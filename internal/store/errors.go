package store

import "errors"

var (
	ErrClinicNotFound      = errors.New("clinic not found")
	ErrEntryNotFound       = errors.New("entry not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrAlreadyTransitioned = errors.New("entry already transitioned")
	ErrStoreUnavailable    = errors.New("store unavailable")
)
