package job

import (
	"fmt"
	"math"
	"net/url"
	"strings"
)

const (
	DefaultDurationPerImage = 3.0
	DefaultTitle            = "Short Video"
	DefaultPrivacyStatus    = "public"
)

// AssemblyRequest is the input of one assembly job. Image order is the order
// of the produced video.
type AssemblyRequest struct {
	Images           []string `json:"images"`
	Audio            string   `json:"audio"`
	DurationPerImage float64  `json:"durationPerImage"`
}

// AssemblyResult describes the artifact produced by a successful assembly.
type AssemblyResult struct {
	ID         string `json:"id"`
	OutputPath string `json:"output"`
	PosterPath string `json:"-"`
	MirrorURL  string `json:"mirrorUrl,omitempty"`
	Segments   int    `json:"segments"`
}

// UploadRequest is the input of one publish job.
type UploadRequest struct {
	VideoURL      string   `json:"videoUrl"`
	AccessToken   string   `json:"accessToken"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags"`
	PrivacyStatus string   `json:"privacyStatus"`
}

// Normalize trims inputs and fills the per-image duration default.
func (r *AssemblyRequest) Normalize() {
	for i := range r.Images {
		r.Images[i] = strings.TrimSpace(r.Images[i])
	}
	r.Audio = strings.TrimSpace(r.Audio)
	if r.DurationPerImage == 0 {
		r.DurationPerImage = DefaultDurationPerImage
	}
}

// Validate checks the request without touching the network or disk.
func (r AssemblyRequest) Validate() error {
	if len(r.Images) == 0 {
		return invalid("images", "images array required")
	}
	if r.Audio == "" {
		return invalid("audio", "audio url required")
	}
	for i, raw := range r.Images {
		if err := checkURL(raw); err != nil {
			return invalid("images", fmt.Sprintf("images[%d]: %v", i, err))
		}
	}
	if err := checkURL(r.Audio); err != nil {
		return invalid("audio", "audio: "+err.Error())
	}
	d := r.DurationPerImage
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return invalid("durationPerImage", "durationPerImage must be a positive number of seconds")
	}
	return nil
}

// ApplyDefaults fills optional upload metadata.
func (r *UploadRequest) ApplyDefaults(privacyStatus string) {
	r.VideoURL = strings.TrimSpace(r.VideoURL)
	r.AccessToken = strings.TrimSpace(r.AccessToken)
	if strings.TrimSpace(r.Title) == "" {
		r.Title = DefaultTitle
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if r.PrivacyStatus == "" {
		r.PrivacyStatus = privacyStatus
	}
	if r.PrivacyStatus == "" {
		r.PrivacyStatus = DefaultPrivacyStatus
	}
}

func (r UploadRequest) Validate() error {
	if r.VideoURL == "" {
		return invalid("videoUrl", "videoUrl required")
	}
	if r.AccessToken == "" {
		return invalid("accessToken", "accessToken required")
	}
	if err := checkURL(r.VideoURL); err != nil {
		return invalid("videoUrl", "videoUrl: "+err.Error())
	}
	return nil
}

func checkURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty url")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
