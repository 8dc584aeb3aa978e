package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"reelsmith/internal/assembly"
	"reelsmith/internal/job"
	"reelsmith/internal/ledger"
	"reelsmith/internal/telemetry"
	"reelsmith/internal/upload"
	"reelsmith/internal/workspace"
)

type Assembler interface {
	Assemble(ctx context.Context, req job.AssemblyRequest) (job.AssemblyResult, error)
}

type Publisher interface {
	Publish(ctx context.Context, req job.UploadRequest) (upload.Result, error)
}

type assembleResponse struct {
	ID        string `json:"id"`
	Output    string `json:"output"`
	URL       string `json:"url"`
	Poster    string `json:"poster,omitempty"`
	MirrorURL string `json:"mirrorUrl,omitempty"`
}

type checkResponse struct {
	Exists bool           `json:"exists"`
	Record *ledger.Record `json:"record"`
}

type Options struct {
	Assembler      Assembler
	Publisher      Publisher
	Workspaces     *workspace.Manager
	Ledger         ledger.Store
	Gate           *job.Gate
	PublicBaseURL  string
	Retention      time.Duration
	MetricsEnabled bool
}

type API struct {
	assembler      Assembler
	publisher      Publisher
	workspaces     *workspace.Manager
	ledger         ledger.Store
	gate           *job.Gate
	publicBaseURL  string
	retention      time.Duration
	metricsEnabled bool
}

func NewAPI(opts Options) *API {
	return &API{
		assembler:      opts.Assembler,
		publisher:      opts.Publisher,
		workspaces:     opts.Workspaces,
		ledger:         opts.Ledger,
		gate:           opts.Gate,
		publicBaseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		retention:      opts.Retention,
		metricsEnabled: opts.MetricsEnabled,
	}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.POST("/assemble", a.Assemble)
	router.POST("/upload", a.Upload)
	router.GET("/cleanup", a.Cleanup)
	router.POST("/cleanup", a.Cleanup)
	router.GET("/check", a.Check)
	router.POST("/record", a.Record)
	router.GET("/tmp/:id/:file", a.ServeArtifact)
	router.GET("/healthz", a.Health)
	router.Any("/.well-known/*path", a.WellKnown)
	if a.metricsEnabled {
		router.GET("/metrics", gin.WrapH(telemetry.Handler()))
	}
}

// Assemble runs one assembly job inside the request.
func (a *API) Assemble(c *gin.Context) {
	var req job.AssemblyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid assemble request")
		c.JSON(http.StatusBadRequest, gin.H{"error": job.CodeInvalidRequest, "detail": err.Error()})
		return
	}

	var result job.AssemblyResult
	err := a.gate.Run(c.Request.Context(), func(ctx context.Context) error {
		var err error
		result, err = a.assembler.Assemble(ctx, req)
		return err
	})
	if err != nil {
		a.writeAssemblyError(c, err)
		return
	}

	base := a.baseURL(c)
	resp := assembleResponse{
		ID:        result.ID,
		Output:    result.OutputPath,
		URL:       artifactURL(base, result.ID, assembly.OutputName),
		MirrorURL: result.MirrorURL,
	}
	if result.PosterPath != "" {
		resp.Poster = artifactURL(base, result.ID, assembly.PosterName)
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) writeAssemblyError(c *gin.Context, err error) {
	var verr *job.ValidationError
	var aerr *assembly.Error
	switch {
	case errors.Is(err, job.ErrBusy):
		log.Warn().Msg("rejecting assembly: server is at max concurrency")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server_busy"})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": job.CodeInvalidRequest, "detail": verr.Message})
	case errors.As(err, &aerr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  job.CodeAssemblyFailed,
			"stage":  aerr.Stage,
			"id":     aerr.JobID,
			"detail": assembly.Diagnostic(aerr.Err),
		})
	default:
		log.Error().Err(err).Msg("assembly failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": job.CodeAssemblyFailed, "detail": err.Error()})
	}
}

// Upload publishes a finished video through a resumable upload session.
func (a *API) Upload(c *gin.Context) {
	var req job.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid upload request")
		c.JSON(http.StatusBadRequest, gin.H{"error": job.CodeInvalidRequest, "detail": err.Error()})
		return
	}

	var result upload.Result
	err := a.gate.Run(c.Request.Context(), func(ctx context.Context) error {
		var err error
		result, err = a.publisher.Publish(ctx, req)
		return err
	})
	var verr *job.ValidationError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
	case errors.Is(err, job.ErrBusy):
		log.Warn().Msg("rejecting upload: server is at max concurrency")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server_busy"})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": job.CodeInvalidRequest, "detail": verr.Message})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  "upload_failed",
			"code":   job.CodeOf(err),
			"detail": err.Error(),
		})
	}
}

// Cleanup runs one reclamation sweep on demand.
func (a *API) Cleanup(c *gin.Context) {
	removed := a.workspaces.Reclaim(a.retention)
	log.Info().Int("removed", removed).Msg("manual cleanup finished")
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// Check reports whether a content key was already published.
func (a *API) Check(c *gin.Context) {
	key := ledger.Normalize(c.Query("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key required"})
		return
	}
	rec, err := a.ledger.Check(c.Request.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("ledger check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": job.CodeInternal, "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, checkResponse{Exists: rec != nil, Record: rec})
}

// Record appends a published entry to the ledger.
func (a *API) Record(c *gin.Context) {
	var entry ledger.Entry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": job.CodeInvalidRequest, "detail": err.Error()})
		return
	}
	rec, err := a.ledger.Add(c.Request.Context(), entry)
	if errors.Is(err, ledger.ErrEmptyKey) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key required"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("ledger append failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": job.CodeInternal, "detail": err.Error()})
		return
	}
	log.Info().Str("key", rec.Key).Str("platform", rec.Platform).Msg("publication recorded")
	c.JSON(http.StatusOK, gin.H{"success": true, "record": rec})
}

// ServeArtifact serves files produced inside a job workspace.
func (a *API) ServeArtifact(c *gin.Context) {
	id := c.Param("id")
	p, err := a.workspaces.Resolve(id, c.Param("file"))
	if err != nil {
		log.Warn().Str("job_id", id).Err(err).Msg("artifact not served")
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.File(p)
}

func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "inFlight": a.gate.InFlight()})
}

func (a *API) WellKnown(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *API) baseURL(c *gin.Context) string {
	if a.publicBaseURL != "" {
		return a.publicBaseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if fwd := c.GetHeader("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + c.Request.Host
}

func artifactURL(base, id, name string) string {
	return base + "/tmp/" + id + "/" + name
}
