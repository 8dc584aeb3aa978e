package upload

import (
	"context"

	"github.com/rs/zerolog/log"

	"reelsmith/internal/fetch"
	"reelsmith/internal/job"
	"reelsmith/internal/telemetry"
	"reelsmith/internal/workspace"
)

const VideoName = "video"

type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir, baseName, defaultExt string) (string, error)
}

// Publisher downloads a finished video into its own workspace and pushes it
// through a fresh upload session.
type Publisher struct {
	workspaces    *workspace.Manager
	fetcher       Fetcher
	client        *Client
	privacyStatus string
}

func NewPublisher(workspaces *workspace.Manager, fetcher Fetcher, client *Client, privacyStatus string) *Publisher {
	return &Publisher{
		workspaces:    workspaces,
		fetcher:       fetcher,
		client:        client,
		privacyStatus: privacyStatus,
	}
}

// Publish validates req, fetches the video, negotiates a session and
// transfers the file. The upload workspace is left for the sweeper.
func (p *Publisher) Publish(ctx context.Context, req job.UploadRequest) (Result, error) {
	req.ApplyDefaults(p.privacyStatus)
	if err := req.Validate(); err != nil {
		telemetry.UploadsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	result, err := p.publish(ctx, req)
	if err != nil {
		telemetry.UploadsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	telemetry.UploadsTotal.WithLabelValues("ok").Inc()
	return result, nil
}

func (p *Publisher) publish(ctx context.Context, req job.UploadRequest) (Result, error) {
	ws, err := p.workspaces.Allocate(workspace.KindUpload)
	if err != nil {
		return nil, err
	}
	defer ws.Release()
	logger := log.With().Str("job_id", ws.ID).Logger()

	videoPath, err := p.fetcher.Fetch(ctx, req.VideoURL, ws.Path, VideoName, fetch.DefaultVideoExt)
	if err != nil {
		logger.Error().Err(err).Msg("video download failed")
		return nil, err
	}

	session, err := p.client.InitSession(ctx, req.AccessToken, Metadata{
		Snippet: Snippet{Title: req.Title, Description: req.Description, Tags: req.Tags},
		Status:  Status{PrivacyStatus: req.PrivacyStatus},
	})
	if err != nil {
		logger.Error().Err(err).Msg("upload session failed")
		return nil, err
	}

	result, err := p.client.Transfer(ctx, session, videoPath)
	if err != nil {
		logger.Error().Err(err).Msg("upload transfer failed")
		return nil, err
	}
	if id, ok := result["id"].(string); ok {
		logger.Info().Str("video_id", id).Msg("upload finished")
	} else {
		logger.Info().Msg("upload finished")
	}
	return result, nil
}
