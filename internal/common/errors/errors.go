// Package errors provides the standardized error taxonomy of the assistant.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Conversation errors. These are surfaced to the user as clarifications.
const (
	ErrCodeNoConfidentIntent    ErrorCode = "NO_CONFIDENT_INTENT"
	ErrCodeAmbiguousEntity      ErrorCode = "AMBIGUOUS_ENTITY"
	ErrCodeEntityNotFound       ErrorCode = "ENTITY_NOT_FOUND"
	ErrCodeUnparseableDate      ErrorCode = "UNPARSEABLE_DATE"
	ErrCodeIncompleteParameters ErrorCode = "INCOMPLETE_PARAMETERS"
	ErrCodeUnsupportedFilter    ErrorCode = "UNSUPPORTED_FILTER"
)

// Execution errors.
const (
	ErrCodeExecutionTimeout ErrorCode = "EXECUTION_TIMEOUT"
	ErrCodeExecutionFailure ErrorCode = "EXECUTION_FAILURE"
	ErrCodeQuerySyntax      ErrorCode = "QUERY_SYNTAX"
)

// Infrastructure errors.
const (
	ErrCodeTemplateNotFound    ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeCatalogInvalid      ErrorCode = "CATALOG_INVALID"
	ErrCodeEmbeddingFailed     ErrorCode = "EMBEDDING_FAILED"
	ErrCodeSessionStoreFailed  ErrorCode = "SESSION_STORE_FAILED"
	ErrCodeReferenceDataFailed ErrorCode = "REFERENCE_DATA_FAILED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata sets a metadata key and returns the error for chaining.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewNoConfidentIntentError reports that no template scored above the
// acceptance threshold.
func NewNoConfidentIntentError(bestScore float64) *StandardError {
	return newError(ErrCodeNoConfidentIntent, "No template matched with enough confidence",
		fmt.Sprintf("bestScore: %.3f", bestScore), false, nil)
}

// NewAmbiguousEntityError reports a mention that matched several reference
// entities equally well.
func NewAmbiguousEntityError(mention string, candidates []string) *StandardError {
	return newError(ErrCodeAmbiguousEntity, "Entity mention is ambiguous",
		fmt.Sprintf("mention: %s, candidates: %v", mention, candidates), false, nil)
}

// NewEntityNotFoundError reports a mention below the similarity floor.
func NewEntityNotFoundError(mention, entityType string) *StandardError {
	return newError(ErrCodeEntityNotFound, "Entity not found",
		fmt.Sprintf("mention: %s, type: %s", mention, entityType), false, nil)
}

// NewUnparseableDateError reports a date expression outside the grammar.
func NewUnparseableDateError(expression string) *StandardError {
	return newError(ErrCodeUnparseableDate, "Date expression could not be parsed",
		fmt.Sprintf("expression: %s", expression), false, nil)
}

// NewIncompleteParametersError reports the parameters a template still needs.
func NewIncompleteParametersError(templateID string, missing []string) *StandardError {
	return newError(ErrCodeIncompleteParameters, "Template parameters are incomplete",
		fmt.Sprintf("templateId: %s, missing: %v", templateID, missing), false, nil)
}

// NewExecutionTimeoutError creates a retryable timeout error.
func NewExecutionTimeoutError(templateID string, err error) *StandardError {
	return newError(ErrCodeExecutionTimeout, "Query execution timed out",
		fmt.Sprintf("templateId: %s", templateID), true, err)
}

// NewExecutionFailureError creates a non-retryable execution error.
func NewExecutionFailureError(templateID string, err error) *StandardError {
	return newError(ErrCodeExecutionFailure, "Query execution failed",
		fmt.Sprintf("templateId: %s, error: %v", templateID, err), false, err)
}

// NewQuerySyntaxError marks a template whose query the database rejected.
// It points at a catalog defect and is never retried.
func NewQuerySyntaxError(templateID string, err error) *StandardError {
	return newError(ErrCodeQuerySyntax, "Template query rejected by the database",
		fmt.Sprintf("templateId: %s, error: %v", templateID, err), false, err)
}

// NewTemplateNotFoundError creates a non-retryable template error.
func NewTemplateNotFoundError(templateID string) *StandardError {
	return newError(ErrCodeTemplateNotFound, "Template not found in catalog",
		fmt.Sprintf("templateId: %s", templateID), false, nil)
}

// NewCatalogInvalidError reports a catalog that failed its load-time checks.
func NewCatalogInvalidError(details string) *StandardError {
	return newError(ErrCodeCatalogInvalid, "Template catalog is invalid", details, false, nil)
}

// NewEmbeddingFailedError wraps an embedding backend failure.
func NewEmbeddingFailedError(provider string, err error) *StandardError {
	return newError(ErrCodeEmbeddingFailed, "Embedding request failed",
		fmt.Sprintf("provider: %s, error: %v", provider, err), true, err)
}

// NewSessionStoreFailedError wraps a session store failure.
func NewSessionStoreFailedError(op string, err error) *StandardError {
	return newError(ErrCodeSessionStoreFailed, "Session store operation failed",
		fmt.Sprintf("op: %s, error: %v", op, err), true, err)
}

// NewReferenceDataFailedError wraps a reference set load failure.
func NewReferenceDataFailedError(entityType string, err error) *StandardError {
	return newError(ErrCodeReferenceDataFailed, "Reference data could not be loaded",
		fmt.Sprintf("type: %s, error: %v", entityType, err), true, err)
}

// CodeOf returns the ErrorCode carried by err, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is a StandardError marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Retryable
}
