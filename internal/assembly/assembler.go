package assembly

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"reelsmith/internal/codec"
	"reelsmith/internal/fetch"
	"reelsmith/internal/job"
	"reelsmith/internal/telemetry"
	"reelsmith/internal/workspace"
)

const (
	OutputName   = "output.mp4"
	ManifestName = "filelist.txt"
	PosterName   = "poster.jpg"

	defaultParallelism = 4
)

type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir, baseName, defaultExt string) (string, error)
}

type Encoder interface {
	MakeSegment(ctx context.Context, imagePath, outputPath string, seconds float64) (string, error)
	ConcatMux(ctx context.Context, manifestPath, audioPath, outputPath string) (string, error)
}

// Mirror copies a finished artifact somewhere else and returns its URL.
type Mirror interface {
	Put(ctx context.Context, key, path string) (string, error)
}

type Options struct {
	Workspaces  *workspace.Manager
	Fetcher     Fetcher
	Encoder     Encoder
	Mirror      Mirror
	Parallelism int
}

// Assembler turns ordered images plus one audio track into a single video.
type Assembler struct {
	workspaces  *workspace.Manager
	fetcher     Fetcher
	encoder     Encoder
	mirror      Mirror
	parallelism int
}

func New(opts Options) *Assembler {
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	return &Assembler{
		workspaces:  opts.Workspaces,
		fetcher:     opts.Fetcher,
		encoder:     opts.Encoder,
		mirror:      opts.Mirror,
		parallelism: opts.Parallelism,
	}
}

// Assemble runs download, transcode, manifest and concat+mux for one job.
// Invalid input fails with *job.ValidationError before any I/O. Any later
// failure aborts the job with *Error and leaves the workspace for inspection.
func (a *Assembler) Assemble(ctx context.Context, req job.AssemblyRequest) (job.AssemblyResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		telemetry.AssembliesTotal.WithLabelValues("invalid").Inc()
		return job.AssemblyResult{}, err
	}

	ws, err := a.workspaces.Allocate(workspace.KindAssembly)
	if err != nil {
		telemetry.AssembliesTotal.WithLabelValues("failed").Inc()
		return job.AssemblyResult{}, &Error{Stage: StageWorkspace, Err: err}
	}
	defer ws.Release()

	logger := log.With().Str("job_id", ws.ID).Logger()
	logger.Info().Int("images", len(req.Images)).Float64("seconds_per_image", req.DurationPerImage).Msg("assembly started")

	result, stage, err := a.run(ctx, ws, req, logger)
	if err != nil {
		telemetry.AssembliesTotal.WithLabelValues("failed").Inc()
		logger.Error().Str("stage", stage).Err(err).Msg("assembly failed")
		return job.AssemblyResult{}, &Error{Stage: stage, JobID: ws.ID, Err: err}
	}
	telemetry.AssembliesTotal.WithLabelValues("ok").Inc()

	if err := makePoster(result.imagePaths[0], ws.File(PosterName)); err != nil {
		logger.Warn().Err(err).Msg("poster generation failed")
	} else {
		result.PosterPath = ws.File(PosterName)
	}
	if a.mirror != nil {
		mirrorURL, err := a.mirror.Put(ctx, ws.ID+"/"+OutputName, result.OutputPath)
		if err != nil {
			logger.Warn().Err(err).Msg("mirror upload failed")
		} else {
			result.MirrorURL = mirrorURL
		}
	}

	logger.Info().Str("output", result.OutputPath).Msg("assembly finished")
	return result.AssemblyResult, nil
}

type runResult struct {
	job.AssemblyResult
	imagePaths []string
}

func (a *Assembler) run(ctx context.Context, ws *workspace.Workspace, req job.AssemblyRequest, logger zerolog.Logger) (runResult, string, error) {
	var imagePaths []string
	err := timed(StageDownloadImages, func() error {
		var err error
		imagePaths, err = fanOut(ctx, a.parallelism, len(req.Images), func(ctx context.Context, i int) (string, error) {
			p, err := a.fetcher.Fetch(ctx, req.Images[i], ws.Path, fmt.Sprintf("img_%d", i), fetch.DefaultImageExt)
			if err != nil {
				return "", fmt.Errorf("image %d: %w", i, err)
			}
			return p, nil
		})
		return err
	})
	if err != nil {
		return runResult{}, StageDownloadImages, err
	}

	var audioPath string
	err = timed(StageDownloadAudio, func() error {
		var err error
		audioPath, err = a.fetcher.Fetch(ctx, req.Audio, ws.Path, "audio", fetch.DefaultAudioExt)
		return err
	})
	if err != nil {
		return runResult{}, StageDownloadAudio, err
	}
	logger.Debug().Int("images", len(imagePaths)).Str("audio", audioPath).Msg("assets downloaded")

	var segmentPaths []string
	err = timed(StageTranscode, func() error {
		var err error
		segmentPaths, err = fanOut(ctx, a.parallelism, len(imagePaths), func(ctx context.Context, i int) (string, error) {
			p, err := a.encoder.MakeSegment(ctx, imagePaths[i], ws.File(fmt.Sprintf("seg_%d.mp4", i)), req.DurationPerImage)
			if err != nil {
				return "", fmt.Errorf("segment %d: %w", i, err)
			}
			return p, nil
		})
		return err
	})
	if err != nil {
		return runResult{}, StageTranscode, err
	}

	manifestPath := ws.File(ManifestName)
	if err := codec.WriteManifest(manifestPath, segmentPaths); err != nil {
		return runResult{}, StageManifest, err
	}

	var outputPath string
	err = timed(StageConcatMux, func() error {
		var err error
		outputPath, err = a.encoder.ConcatMux(ctx, manifestPath, audioPath, ws.File(OutputName))
		return err
	})
	if err != nil {
		return runResult{}, StageConcatMux, err
	}

	return runResult{
		AssemblyResult: job.AssemblyResult{ID: ws.ID, OutputPath: outputPath, Segments: len(segmentPaths)},
		imagePaths:     imagePaths,
	}, "", nil
}

// fanOut runs fn for indexes 0..n-1 with at most limit in flight and returns
// results by index. The first error cancels the rest.
func fanOut(ctx context.Context, limit, n int, fn func(ctx context.Context, i int) (string, error)) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	out := make([]string, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			p, err := fn(gctx, i)
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	telemetry.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return err
}
