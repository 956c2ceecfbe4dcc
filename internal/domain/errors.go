package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeCollaborator  = "COLLABORATOR_UNAVAILABLE"
	ErrCodeMalformedData = "MALFORMED_DATA"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidKnowledgeKind  = NewDomainError(ErrCodeValidation, "invalid knowledge kind")
	ErrInvalidMessageRole    = NewDomainError(ErrCodeValidation, "invalid message role")
	ErrInvalidMessageStatus  = NewDomainError(ErrCodeValidation, "invalid message status")
	ErrInvalidFeedbackRating = NewDomainError(ErrCodeValidation, "feedback rating must be +1 or -1")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")

	// ErrConversationTarget is returned when a turn supplies neither or both of
	// conversation ID and user ID.
	ErrConversationTarget = NewDomainError(ErrCodeValidation, "exactly one of conversation_id or user_id must be provided")
)

// Not found errors
var (
	ErrKnowledgeNotFound    = NewDomainError(ErrCodeNotFound, "knowledge item not found")
	ErrConversationNotFound = NewDomainError(ErrCodeNotFound, "conversation not found")
	ErrMessageNotFound      = NewDomainError(ErrCodeNotFound, "message not found")
	ErrPersonalityNotFound  = NewDomainError(ErrCodeNotFound, "personality not found")
	ErrFeedbackNotFound     = NewDomainError(ErrCodeNotFound, "feedback not found")
)

// Collaborator errors
var (
	ErrEmbeddingUnavailable  = NewDomainError(ErrCodeCollaborator, "embedding provider unavailable")
	ErrCompletionUnavailable = NewDomainError(ErrCodeCollaborator, "completion provider unavailable")
)

// Malformed data errors
var (
	ErrMalformedEmbedding = NewDomainError(ErrCodeMalformedData, "stored embedding has the wrong shape")
)
