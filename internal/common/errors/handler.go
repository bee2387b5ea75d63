// internal/common/errors/handler.go
package errors

import (
	"context"
	stderrors "errors"
	"time"
)

// Logger is the subset of logger.Logger the handler needs.
type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// userMessages never contain query text or driver detail.
var userMessages = map[ErrorCode]string{
	ErrCodeNoConfidentIntent:    "I'm not sure which report you're after. Could you rephrase the question?",
	ErrCodeAmbiguousEntity:      "That name matches more than one record. Which one did you mean?",
	ErrCodeEntityNotFound:       "I couldn't find that name in the sales records.",
	ErrCodeUnparseableDate:      "I couldn't understand that time period. Try something like \"last month\", \"this quarter\" or \"FY 2024-25\".",
	ErrCodeIncompleteParameters: "I need a bit more information before I can run that.",
	ErrCodeUnsupportedFilter:    "That report can't be filtered that way.",
	ErrCodeExecutionTimeout:     "That query took too long to run. Try a shorter time period or a narrower filter.",
	ErrCodeExecutionFailure:     "Something went wrong while fetching the data. Please try again in a moment.",
	ErrCodeQuerySyntax:          "That report is temporarily unavailable. The team has been notified.",
	ErrCodeTemplateNotFound:     "That report is temporarily unavailable. The team has been notified.",
	ErrCodeEmbeddingFailed:      "I'm having trouble understanding questions right now. Please try again in a moment.",
	ErrCodeSessionStoreFailed:   "I lost track of our conversation. Please ask your question again.",
	ErrCodeReferenceDataFailed:  "Something went wrong while fetching the data. Please try again in a moment.",
	ErrCodeInternal:             "Something went wrong on my side. Please try again.",
}

// UserMessage returns the user-facing text for code.
func UserMessage(code ErrorCode) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return userMessages[ErrCodeInternal]
}

// Handler turns internal errors into user-facing replies and logs them at a
// level matching their severity.
type Handler struct {
	logger Logger
}

func NewHandler(logger Logger) *Handler {
	return &Handler{logger: logger}
}

// Handle normalizes err, logs it, and returns the standardized error together
// with the message to show the user.
func (h *Handler) Handle(ctx context.Context, err error, fields map[string]interface{}) (*StandardError, string) {
	stdErr := h.normalize(ctx, err)

	logFields := map[string]interface{}{
		"errorCode": string(stdErr.Code),
		"details":   stdErr.Details,
		"retryable": stdErr.Retryable,
	}
	for k, v := range fields {
		logFields[k] = v
	}
	for k, v := range stdErr.Metadata {
		logFields[k] = v
	}

	switch stdErr.Code {
	case ErrCodeQuerySyntax, ErrCodeTemplateNotFound, ErrCodeCatalogInvalid:
		logFields["catalogDefect"] = true
		h.logger.Error("Catalog defect", logFields)
	case ErrCodeExecutionTimeout, ErrCodeEmbeddingFailed, ErrCodeSessionStoreFailed:
		h.logger.Warn("Turn failed", logFields)
	default:
		h.logger.Error("Turn failed", logFields)
	}

	return stdErr, UserMessage(stdErr.Code)
}

func (h *Handler) normalize(ctx context.Context, err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) || (ctx != nil && stderrors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return newError(ErrCodeExecutionTimeout, "Turn deadline exceeded", err.Error(), true, err)
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}
