package session

import (
	"errors"
	"fmt"

	"github.com/kirillkom/policy-analyzer/internal/infrastructure/analysisapi"
)

var (
	ErrChatBusy       = errors.New("a chat message is already being sent")
	ErrNoFinding      = errors.New("no finding selected")
	ErrEmptyQuestion  = errors.New("question is empty")
	ErrNotCompleted   = errors.New("document analysis is not completed")
	ErrUploadInFlight = errors.New("an upload is already in progress")
	ErrAnalysisFailed = errors.New("document analysis failed")
	ErrPollStopped    = errors.New("polling stopped before the analysis settled")

	ErrDocumentMismatch = errors.New("status response is for another document")
)

// Notice is implemented by every session error: a message safe to show the user.
type Notice interface {
	error
	UserMessage() string
}

// ValidationError rejects a file locally before any request is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) UserMessage() string {
	return e.Reason
}

const genericUploadMessage = "Upload failed. Please try again."

type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Filename, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// UserMessage prefers the server's explanation over the generic text.
func (e *UploadError) UserMessage() string {
	if detail := analysisapi.DetailOf(e.Err); detail != "" {
		return detail
	}
	return genericUploadMessage
}

// StatusPollError is surfaced once polling gives up after consecutive failures.
type StatusPollError struct {
	DocumentID string
	Attempts   int
	Err        error
}

func (e *StatusPollError) Error() string {
	return fmt.Sprintf("poll status of %s: %d consecutive failures: %v", e.DocumentID, e.Attempts, e.Err)
}

func (e *StatusPollError) Unwrap() error { return e.Err }

func (e *StatusPollError) UserMessage() string {
	return "Lost contact with the analysis service. Check the connection and open the document again."
}

type FindingsLoadError struct {
	DocumentID string
	Err        error
}

func (e *FindingsLoadError) Error() string {
	return fmt.Sprintf("load findings of %s: %v", e.DocumentID, e.Err)
}

func (e *FindingsLoadError) Unwrap() error { return e.Err }

func (e *FindingsLoadError) UserMessage() string {
	if errors.Is(e.Err, ErrNotCompleted) {
		return "Findings are available once the analysis is completed."
	}
	return "Could not load findings. Please retry."
}

type ChatSendError struct {
	FindingID int64
	Err       error
}

func (e *ChatSendError) Error() string {
	return fmt.Sprintf("send chat message for finding %d: %v", e.FindingID, e.Err)
}

func (e *ChatSendError) Unwrap() error { return e.Err }

func (e *ChatSendError) UserMessage() string {
	return "Failed to send message"
}

// UserMessage renders err for display, falling back to err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var notice Notice
	if errors.As(err, &notice) {
		return notice.UserMessage()
	}
	return err.Error()
}
