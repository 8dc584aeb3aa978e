package assembly

import (
	"errors"
	"fmt"

	"reelsmith/internal/codec"
	"reelsmith/internal/job"
)

// Pipeline stages, in execution order.
const (
	StageWorkspace      = "workspace"
	StageDownloadImages = "download_images"
	StageDownloadAudio  = "download_audio"
	StageTranscode      = "transcode"
	StageManifest       = "manifest"
	StageConcatMux      = "concat_mux"
)

// Error aborts a job at a given stage, wrapping the stage's own error.
type Error struct {
	Stage string
	JobID string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("assembly %s failed at %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Code() string { return job.CodeAssemblyFailed }

// Diagnostic returns the most useful free-form detail for err: the encoder's
// output for transcode failures, the error text otherwise.
func Diagnostic(err error) string {
	var terr *codec.TranscodeError
	if errors.As(err, &terr) && terr.Output != "" {
		return terr.Output
	}
	return err.Error()
}
