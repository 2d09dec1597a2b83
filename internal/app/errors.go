package app

import (
	"errors"
	"net/http"
	"strings"

	"legalrag/internal/ai"
)

var (
	ErrInvalidFileType      = errors.New("invalid file type")
	ErrInvalidInput         = errors.New("invalid input")
	ErrFileNotFound         = errors.New("file not found")
	ErrJobNotFound          = errors.New("job not found")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrProcessing           = errors.New("processing failed")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrModelLoad            = ai.ErrModelLoad
	ErrDocumentExists       = errors.New("document already exists")
	ErrOperationInProgress  = errors.New("operation in progress")
	ErrRebuildRequired      = errors.New("rebuild required")
	ErrInvalidCredential    = errors.New("invalid username or password")
)

type errorMapping struct {
	code   string
	status int
}

var errorTable = []struct {
	kind    error
	mapping errorMapping
}{
	{ErrInvalidFileType, errorMapping{"INVALID_FILE_TYPE", http.StatusBadRequest}},
	{ErrInvalidInput, errorMapping{"VALIDATION_ERROR", http.StatusBadRequest}},
	{ErrFileNotFound, errorMapping{"FILE_NOT_FOUND", http.StatusNotFound}},
	{ErrJobNotFound, errorMapping{"JOB_NOT_FOUND", http.StatusNotFound}},
	{ErrConfirmationRequired, errorMapping{"CONFIRMATION_REQUIRED", http.StatusBadRequest}},
	{ErrProcessing, errorMapping{"PROCESSING_ERROR", http.StatusInternalServerError}},
	{ErrBackendUnavailable, errorMapping{"BACKEND_UNAVAILABLE", http.StatusServiceUnavailable}},
	{ErrModelLoad, errorMapping{"MODEL_LOAD_ERROR", http.StatusInternalServerError}},
	{ErrDocumentExists, errorMapping{"DOCUMENT_EXISTS", http.StatusConflict}},
	{ErrOperationInProgress, errorMapping{"OPERATION_IN_PROGRESS", http.StatusConflict}},
	{ErrRebuildRequired, errorMapping{"REBUILD_REQUIRED", http.StatusConflict}},
	{ErrInvalidCredential, errorMapping{"INVALID_CREDENTIALS", http.StatusUnauthorized}},
}

// OpError is returned by every AdminService operation. Kind is one of the
// sentinels above and decides the error code; Cause is the underlying error.
type OpError struct {
	Kind    error
	Message string
	Details map[string]any
	Cause   error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *OpError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newOpError(kind error, message string, cause error) *OpError {
	return &OpError{Kind: kind, Message: message, Cause: cause}
}

func (e *OpError) with(key string, value any) *OpError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ErrorCode maps err onto its API error code and HTTP status. Unknown errors
// are INTERNAL_ERROR/500.
func ErrorCode(err error) (string, int) {
	var op *OpError
	if errors.As(err, &op) {
		err = op.Kind
	}
	for _, row := range errorTable {
		if errors.Is(err, row.kind) {
			return row.mapping.code, row.mapping.status
		}
	}
	return "INTERNAL_ERROR", http.StatusInternalServerError
}

// ErrorDetails returns the message and details carried by an OpError.
func ErrorDetails(err error) (string, map[string]any) {
	var op *OpError
	if errors.As(err, &op) {
		return op.Message, op.Details
	}
	return err.Error(), nil
}
