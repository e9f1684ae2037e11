package app

import "fmt"

// DomainError carries an HTTP status and machine-readable code for a
// failure that the API surfaces verbatim, such as rejected input.
// Everything else goes through mapError's sentinel translation.
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
