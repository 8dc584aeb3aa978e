package main

import (
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"reelsmith/internal/fetch"
	"reelsmith/internal/job"
	"reelsmith/internal/workspace"
)

type uploadFlags struct {
	accessToken string
	videoURL    string
	title       string
	description string
	tags        string
	privacy     string
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var flags uploadFlags
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Publish a video by URL through a resumable upload",
		Long: "Downloads the video and uploads it in a single resumable session.\n" +
			"Flags fall back to ACCESS_TOKEN, VIDEO_URL, TITLE, DESCRIPTION and TAGS.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			req := flags.request()
			if req.AccessToken == "" {
				return errors.New("ACCESS_TOKEN required")
			}
			if req.VideoURL == "" {
				return errors.New("VIDEO_URL required")
			}

			workspaces, err := workspace.New(cfg.DataDir)
			if err != nil {
				return err
			}
			publisher := newPublisher(cfg, workspaces, fetch.New(cfg.DownloadTimeout))
			result, err := publisher.Publish(cmd.Context(), req)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(result)
		},
	}
	cmd.Flags().StringVar(&flags.accessToken, "access-token", "", "OAuth access token")
	cmd.Flags().StringVar(&flags.videoURL, "video-url", "", "URL of the video to publish")
	cmd.Flags().StringVar(&flags.title, "title", "", "Video title")
	cmd.Flags().StringVar(&flags.description, "description", "", "Video description")
	cmd.Flags().StringVar(&flags.tags, "tags", "", "Comma-separated tags")
	cmd.Flags().StringVar(&flags.privacy, "privacy", "", "Privacy status (defaults to the configured value)")
	return cmd
}

func (f uploadFlags) request() job.UploadRequest {
	return job.UploadRequest{
		AccessToken:   firstNonEmpty(f.accessToken, os.Getenv("ACCESS_TOKEN")),
		VideoURL:      firstNonEmpty(f.videoURL, os.Getenv("VIDEO_URL")),
		Title:         firstNonEmpty(f.title, os.Getenv("TITLE")),
		Description:   firstNonEmpty(f.description, os.Getenv("DESCRIPTION")),
		Tags:          splitTags(firstNonEmpty(f.tags, os.Getenv("TAGS"))),
		PrivacyStatus: f.privacy,
	}
}

func splitTags(raw string) []string {
	tags := []string{}
	for _, part := range strings.Split(raw, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
