package service

import "errors"

var (
	ErrTemplateNotFound      = errors.New("template not found")
	ErrTemplateInactive      = errors.New("template is inactive")
	ErrInvalidTemplate       = errors.New("invalid template")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionExpired        = errors.New("session expired")
	ErrInvalidSessionTTL     = errors.New("session ttl must not be negative")
	ErrAlreadyTerminal       = errors.New("session already completed or expired")
	ErrInvalidAnswers        = errors.New("invalid answers")
	ErrRelayUnreachable      = errors.New("relay unreachable")
	ErrStorageWriteFailed    = errors.New("storage write failed")
	ErrLocalStoreUnavailable = errors.New("local store not available in this deployment")
	ErrResponseNotFound      = errors.New("response not found")
	ErrResponseAlreadyLinked = errors.New("response already linked to another patient")
	ErrInvalidPatientID      = errors.New("patient_id is required")
)
