package job

import "errors"

// Stable machine-readable error codes surfaced at the HTTP boundary.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeDownloadFailed       = "download_failed"
	CodeTranscodeFailed      = "transcode_failed"
	CodeAssemblyFailed       = "assembly_failed"
	CodeUploadSessionFailed  = "upload_session_failed"
	CodeUploadTransferFailed = "upload_transfer_failed"
	CodeWorkspaceFailed      = "workspace_failed"
	CodeInternal             = "internal_error"
)

var ErrBusy = errors.New("server busy")

// Coder is implemented by errors that carry a stable code.
type Coder interface {
	Code() string
}

// CodeOf returns the code of the outermost coded error in err's chain.
func CodeOf(err error) string {
	var coded Coder
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeInternal
}

// ValidationError reports caller-fixable input problems. It is always returned
// before any filesystem or network I/O takes place.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Code() string { return CodeInvalidRequest }

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
