// Package errors contains helper functions and types to work with errors
package errors

import (
	"errors"
	"net/http"
)

// Category classifies a ServiceError and decides its HTTP status.
type Category int

const (
	// CategoryNoError marks the absence of an error.
	CategoryNoError Category = iota
	// CategoryDataError The client sent an invalid payload or parameters.
	CategoryDataError
	// CategoryUnauthorized The client failed authentication.
	CategoryUnauthorized
	// CategoryDataConflict The request conflicts with current state, such as a run already in progress.
	CategoryDataConflict
	// CategoryGeneralError The service failed in an unexpected way.
	CategoryGeneralError
)

var categoryNames = map[Category]string{
	CategoryNoError:      "CategoryNoError",
	CategoryDataError:    "CategoryDataError",
	CategoryUnauthorized: "CategoryUnauthorized",
	CategoryDataConflict: "CategoryDataConflict",
	CategoryGeneralError: "CategoryGeneralError",
}

var categoryStatus = map[Category]int{
	CategoryNoError:      http.StatusOK,
	CategoryDataError:    http.StatusBadRequest,
	CategoryUnauthorized: http.StatusUnauthorized,
	CategoryDataConflict: http.StatusConflict,
	CategoryGeneralError: http.StatusInternalServerError,
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "CategoryGeneralError"
}

// ServiceError is the error type handlers return. Message, and Details when set, are shown to the
// caller; Err is only logged.
type ServiceError struct {
	Category Category
	Message  string
	Details  string
	Err      error
}

func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

func (err ServiceError) Unwrap() error {
	return err.Err
}

// Is matches errors carrying the same message.
func (err ServiceError) Is(target error) bool {
	return err.Message == target.Error()
}

// StatusCode returns the HTTP status code for the error category
func (err ServiceError) StatusCode() int {
	if code, ok := categoryStatus[err.Category]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func newError(cat Category, err error, fallback, message string) error {
	if err == nil {
		err = errors.New(fallback)
	}
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// GeneralError hides err behind "Internal Server Error".
func GeneralError(err error) error {
	return newError(CategoryGeneralError, err, "internal server error", "Internal Server Error")
}

// InternalError returns a general service error that also exposes err to the user as details.
// Use it only where the cause is safe and useful to show, such as a failed sync run.
func InternalError(err error, message string) error {
	if err == nil {
		err = errors.New("internal server error")
	}
	return &ServiceError{
		Category: CategoryGeneralError,
		Message:  message,
		Details:  err.Error(),
		Err:      err,
	}
}

// BadRequestError returns an error with category DataError
func BadRequestError(err error, message string) error {
	return newError(CategoryDataError, err, "bad request: "+message, message)
}

// UnAuthorizedError returns an error with category CategoryUnauthorized
func UnAuthorizedError(err error, message string) error {
	return newError(CategoryUnauthorized, err, "unauthorized", message)
}

// ConflictError returns an error with category CategoryDataConflict
func ConflictError(err error, message string) error {
	return newError(CategoryDataConflict, err, "conflict", message)
}
