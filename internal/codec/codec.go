package codec

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"reelsmith/internal/job"
	"reelsmith/internal/telemetry"
)

// Portrait short-form output geometry.
const (
	SegmentWidth  = 720
	SegmentHeight = 1280
)

const (
	OpSegment   = "segment"
	OpConcatMux = "concat_mux"

	defaultTimeout       = 5 * time.Minute
	defaultMaxConcurrent = 2
	maxDiagnosticBytes   = 8 << 10
)

// TranscodeError reports a failed ffmpeg invocation together with the tail of
// its diagnostic output. Partial outputs are left on disk.
type TranscodeError struct {
	Op     string
	Output string
	Err    error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("ffmpeg %s: %v", e.Op, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

func (e *TranscodeError) Code() string { return job.CodeTranscodeFailed }

type Options struct {
	FFmpegPath    string
	Runner        Runner
	MaxConcurrent int
	Timeout       time.Duration
}

// Codec drives the external ffmpeg binary. Every invocation, across all jobs,
// takes a slot from one weighted semaphore.
type Codec struct {
	ffmpegPath string
	runner     Runner
	slots      *semaphore.Weighted
	timeout    time.Duration
}

func New(opts Options) *Codec {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Runner == nil {
		opts.Runner = NewCommandRunner()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Codec{
		ffmpegPath: opts.FFmpegPath,
		runner:     opts.Runner,
		slots:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		timeout:    opts.Timeout,
	}
}

// MakeSegment encodes a looped still image into a silent clip of the given
// length at the fixed portrait resolution.
func (c *Codec) MakeSegment(ctx context.Context, imagePath, outputPath string, seconds float64) (string, error) {
	if err := c.run(ctx, OpSegment, SegmentArgs(imagePath, outputPath, seconds)); err != nil {
		return outputPath, err
	}
	return outputPath, nil
}

// ConcatMux concatenates the segments listed in the manifest and muxes in the
// audio track. The shorter of the two streams decides the output length.
func (c *Codec) ConcatMux(ctx context.Context, manifestPath, audioPath, outputPath string) (string, error) {
	if err := c.run(ctx, OpConcatMux, ConcatMuxArgs(manifestPath, audioPath, outputPath)); err != nil {
		return outputPath, err
	}
	return outputPath, nil
}

// SegmentArgs builds the ffmpeg argument list for one image segment.
func SegmentArgs(imagePath, outputPath string, seconds float64) []string {
	return []string{
		"-y",
		"-loop", "1",
		"-i", imagePath,
		"-c:v", "libx264",
		"-t", strconv.FormatFloat(seconds, 'f', -1, 64),
		"-pix_fmt", "yuv420p",
		"-vf", fmt.Sprintf("scale=%d:%d", SegmentWidth, SegmentHeight),
		outputPath,
	}
}

// ConcatMuxArgs builds the ffmpeg argument list for the final concat + mux.
func ConcatMuxArgs(manifestPath, audioPath, outputPath string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-i", audioPath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-shortest",
		outputPath,
	}
}

func (c *Codec) run(ctx context.Context, op string, args []string) error {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return &TranscodeError{Op: op, Err: fmt.Errorf("wait for encoder slot: %w", err)}
	}
	defer c.slots.Release(1)
	telemetry.EncodesInFlight.Inc()
	defer telemetry.EncodesInFlight.Dec()

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	output, err := c.runner.Run(runCtx, c.ffmpegPath, args...)
	if err != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		log.Warn().Str("op", op).Err(err).Msg("ffmpeg failed")
		return &TranscodeError{Op: op, Output: tail(output, maxDiagnosticBytes), Err: err}
	}
	log.Debug().Str("op", op).Dur("took", time.Since(start)).Msg("ffmpeg finished")
	return nil
}

func tail(output []byte, limit int) string {
	if len(output) > limit {
		output = output[len(output)-limit:]
	}
	return string(output)
}
