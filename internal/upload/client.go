package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	videoContentType = "video/mp4"
	maxErrorBody     = 64 << 10

	defaultInitTimeout     = 30 * time.Second
	defaultTransferTimeout = 30 * time.Minute
)

// State is the position of a Session in its lifecycle.
type State string

const (
	StateSessionInit  State = "session_init"
	StateTransferring State = "transferring"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// Metadata is the video resource sent during session negotiation.
type Metadata struct {
	Snippet Snippet `json:"snippet"`
	Status  Status  `json:"status"`
}

type Snippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type Status struct {
	PrivacyStatus string `json:"privacyStatus"`
}

// Result is the platform's answer to a transfer. Bodies that are not a JSON
// object are returned as {"raw": "<text>"}.
type Result map[string]any

// Session is a single-use upload location.
type Session struct {
	Location string

	mu    sync.Mutex
	state State
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// begin moves the session into transferring exactly once.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSessionInit {
		return false
	}
	s.state = StateTransferring
	return true
}

func (s *Session) finish(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

type ClientOptions struct {
	Endpoint        string
	HTTPClient      *http.Client
	InitTimeout     time.Duration
	TransferTimeout time.Duration
}

// Client speaks the two-phase session-then-transfer upload protocol. It never
// retries and never resumes a partial transfer.
type Client struct {
	endpoint        string
	httpClient      *http.Client
	initTimeout     time.Duration
	transferTimeout time.Duration
}

func NewClient(opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = defaultInitTimeout
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = defaultTransferTimeout
	}
	return &Client{
		endpoint:        opts.Endpoint,
		httpClient:      opts.HTTPClient,
		initTimeout:     opts.InitTimeout,
		transferTimeout: opts.TransferTimeout,
	}
}

// InitSession declares the upload and returns the session location. Both a
// 200/201 status and a Location header are required.
func (c *Client) InitSession(ctx context.Context, accessToken string, metadata Metadata) (*Session, error) {
	body, err := json.Marshal(metadata)
	if err != nil {
		return nil, &SessionError{Err: fmt.Errorf("encode metadata: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.initTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &SessionError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SessionError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &SessionError{StatusCode: resp.StatusCode, Body: string(text)}
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, &SessionError{StatusCode: resp.StatusCode, Err: errors.New("no upload URL returned")}
	}
	log.Debug().Int("status", resp.StatusCode).Msg("upload session created")
	return &Session{Location: location, state: StateSessionInit}, nil
}

// Transfer streams the file to the session location in one request. A session
// can be used once; it ends in StateDone or StateFailed.
func (c *Client) Transfer(ctx context.Context, session *Session, filePath string) (Result, error) {
	if session == nil || session.Location == "" {
		return nil, &SessionError{Err: errors.New("no upload session")}
	}
	if !session.begin() {
		return nil, &SessionError{Err: fmt.Errorf("session already %s", session.State())}
	}

	result, err := c.transfer(ctx, session.Location, filePath)
	if err != nil {
		session.finish(StateFailed)
		return nil, err
	}
	session.finish(StateDone)
	return result, nil
}

func (c *Client) transfer(ctx context.Context, location, filePath string) (Result, error) {
	videoFile, err := os.Open(filePath) //nolint:gosec // path comes from a job workspace
	if err != nil {
		return nil, &TransferError{Err: fmt.Errorf("open video: %w", err)}
	}
	defer func() { _ = videoFile.Close() }()
	info, err := videoFile.Stat()
	if err != nil {
		return nil, &TransferError{Err: fmt.Errorf("stat video: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.transferTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, location, videoFile)
	if err != nil {
		return nil, &TransferError{Err: err}
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", videoContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransferError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransferError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if !isSuccess(resp.StatusCode) {
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &TransferError{StatusCode: resp.StatusCode, Body: string(text)}
	}
	return parseResult(text), nil
}

func parseResult(text []byte) Result {
	var parsed map[string]any
	if err := json.Unmarshal(text, &parsed); err != nil || parsed == nil {
		return Result{"raw": string(text)}
	}
	return Result(parsed)
}

func isSuccess(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated
}
