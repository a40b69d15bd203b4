package app

import (
	"fmt"
	"net/http"
)

// Error codes. INCONSISTENCY covers the dual-write gaps: an index write
// that failed after the store half committed, or an index hit with no
// store record behind it. The store side is never rolled back for these;
// the repair path is a reindex.
const (
	CodeValidation    = "VALIDATION"
	CodeNotFound      = "NOT_FOUND"
	CodeInconsistency = "INCONSISTENCY"
	CodeTransient     = "TRANSIENT"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, CodeValidation, message, details)
}

func notFoundError(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func inconsistencyError(message string) *DomainError {
	return domainError(http.StatusOK, CodeInconsistency, message, nil)
}

func transientError(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, CodeTransient, message, nil)
}
