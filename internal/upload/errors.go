package upload

import (
	"fmt"

	"reelsmith/internal/job"
)

// SessionError reports a failed session negotiation, including a success
// status that arrived without a Location header, or reuse of a spent session.
type SessionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resumable init failed: %v", e.Err)
	}
	return fmt.Sprintf("resumable init failed: %d %s", e.StatusCode, e.Body)
}

func (e *SessionError) Unwrap() error { return e.Err }

func (e *SessionError) Code() string { return job.CodeUploadSessionFailed }

// TransferError reports a failed body transfer to a session location.
type TransferError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload failed: %v", e.Err)
	}
	return fmt.Sprintf("upload failed: %d %s", e.StatusCode, e.Body)
}

func (e *TransferError) Unwrap() error { return e.Err }

func (e *TransferError) Code() string { return job.CodeUploadTransferFailed }
