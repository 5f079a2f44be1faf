package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for the inventory run.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates an invalid or unusable configuration.
	// Examples: unknown endpoint name, malformed config file, schema violation.
	// Configuration errors abort the run.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassFetch indicates a failure talking to an LXD endpoint.
	// Examples: unreachable endpoint, HTTP error, malformed response.
	// The affected endpoint or project contributes no instances.
	ErrorClassFetch ErrorClass = "fetch"

	// ErrorClassFilterPattern indicates an exclude pattern that cannot be compiled.
	// The offending pattern is skipped.
	ErrorClassFilterPattern ErrorClass = "filter_pattern"

	// ErrorClassTemplate indicates a hostname template that cannot be rendered.
	// The raw instance name is used instead.
	ErrorClassTemplate ErrorClass = "template"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Endpoint is the endpoint name involved, if applicable.
	Endpoint string `json:"endpoint,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Endpoint != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (endpoint=%s, operation=%s)", msg, e.Endpoint, e.Operation)
	} else if e.Endpoint != "" {
		msg = fmt.Sprintf("%s (endpoint=%s)", msg, e.Endpoint)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewFetchError creates a new fetch error.
func NewFetchError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFetch,
		Message: message,
		Err:     err,
	}
}

// NewFilterPatternError creates a new filter pattern error.
func NewFilterPatternError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFilterPattern,
		Message: message,
		Err:     err,
	}
}

// NewTemplateError creates a new template error.
func NewTemplateError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTemplate,
		Message: message,
		Err:     err,
	}
}

// WithEndpoint adds endpoint context to an error.
func (e *EngineError) WithEndpoint(endpoint string) *EngineError {
	e.Endpoint = endpoint
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of a classified error, or the empty class.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	return ClassOf(err) == ErrorClassConfiguration
}

// IsFetch returns true if the error is classified as a fetch error.
func IsFetch(err error) bool {
	return ClassOf(err) == ErrorClassFetch
}

// IsFilterPattern returns true if the error is classified as a filter pattern error.
func IsFilterPattern(err error) bool {
	return ClassOf(err) == ErrorClassFilterPattern
}

// IsTemplate returns true if the error is classified as a template error.
func IsTemplate(err error) bool {
	return ClassOf(err) == ErrorClassTemplate
}

// IsFatal returns true if the error must abort the run.
// Only configuration errors are fatal; everything else degrades the inventory.
func IsFatal(err error) bool {
	return IsConfiguration(err)
}

// Common error codes.
const (
	ErrCodeUnknownEndpoint  = "UNKNOWN_ENDPOINT"
	ErrCodeMalformedConfig  = "MALFORMED_CONFIG"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeUnreachable      = "UNREACHABLE"
	ErrCodeHTTPStatus       = "HTTP_STATUS"
	ErrCodeAPIError         = "API_ERROR"
	ErrCodeMalformedPayload = "MALFORMED_PAYLOAD"
	ErrCodeInvalidRegex     = "INVALID_REGEX"
	ErrCodeUnknownVariable  = "UNKNOWN_VARIABLE"
	ErrCodeMalformedFormat  = "MALFORMED_TEMPLATE"
)
