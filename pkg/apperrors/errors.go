package apperrors

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrUploadLimitReached  = errors.New("upload limit reached")
	ErrPollingDisabled     = errors.New("polling is disabled for this workspace")
	ErrSourceNotConfigured = errors.New("workspace has no pollable data source configured")
)
