package assembly

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelsmith/internal/codec"
	"reelsmith/internal/codec/codectest"
	"reelsmith/internal/fetch"
	"reelsmith/internal/job"
	"reelsmith/internal/workspace"
)

// assetServer serves /img/<n>.png as an n+1 pixel wide PNG and /audio/<sec>.mp3
// with a body holding the track length, which the fake encoder reads back.
type assetServer struct {
	*httptest.Server
	hits atomic.Int64
}

func pngBytes(t *testing.T, width int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, 4))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newAssetServer(t *testing.T) *assetServer {
	t.Helper()
	s := &assetServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		switch {
		case strings.HasPrefix(r.URL.Path, "/img/"):
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/img/"), ".png"))
			if err != nil {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(pngBytes(t, n+1))
		case strings.HasPrefix(r.URL.Path, "/audio/"):
			_, _ = w.Write([]byte(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/audio/"), ".mp3")))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *assetServer) images(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s.URL + "/img/" + strconv.Itoa(i) + ".png"
	}
	return out
}

func newTestAssembler(t *testing.T, runner *codectest.FakeRunner) (*Assembler, *workspace.Manager) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	return New(Options{
		Workspaces:  ws,
		Fetcher:     fetch.New(2 * time.Second),
		Encoder:     codec.New(codec.Options{Runner: runner, MaxConcurrent: 2}),
		Parallelism: 3,
	}), ws
}

func TestAssembleDurationFollowsShorterStream(t *testing.T) {
	srv := newAssetServer(t)
	cases := []struct {
		name     string
		images   int
		perImage float64
		audio    string
		want     float64
	}{
		{"video governs", 3, 2, "10", 6},
		{"audio governs", 3, 3, "5", 5},
	}
	for _, c := range cases {
		a, _ := newTestAssembler(t, &codectest.FakeRunner{})
		res, err := a.Assemble(context.Background(), job.AssemblyRequest{
			Images:           srv.images(c.images),
			Audio:            srv.URL + "/audio/" + c.audio + ".mp3",
			DurationPerImage: c.perImage,
		})
		if err != nil {
			t.Fatalf("%s: assemble: %v", c.name, err)
		}
		duration, segments, err := codectest.ReadOutput(res.OutputPath)
		if err != nil {
			t.Fatalf("%s: read output: %v", c.name, err)
		}
		if segments != c.images || res.Segments != c.images {
			t.Fatalf("%s: expected %d segments, got %d/%d", c.name, c.images, segments, res.Segments)
		}
		if duration != c.want {
			t.Fatalf("%s: expected duration %v, got %v", c.name, c.want, duration)
		}
		if filepath.Base(filepath.Dir(res.OutputPath)) != res.ID {
			t.Fatalf("%s: output not inside job workspace: %s", c.name, res.OutputPath)
		}
	}
}

func TestAssembleDefaultsDuration(t *testing.T) {
	srv := newAssetServer(t)
	a, _ := newTestAssembler(t, &codectest.FakeRunner{})
	res, err := a.Assemble(context.Background(), job.AssemblyRequest{Images: srv.images(2), Audio: srv.URL + "/audio/100.mp3"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	duration, _, err := codectest.ReadOutput(res.OutputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if duration != 2*job.DefaultDurationPerImage {
		t.Fatalf("expected %v seconds, got %v", 2*job.DefaultDurationPerImage, duration)
	}
}

func TestAssembleEmptyImagesPerformsNoIO(t *testing.T) {
	srv := newAssetServer(t)
	a, ws := newTestAssembler(t, &codectest.FakeRunner{})

	_, err := a.Assemble(context.Background(), job.AssemblyRequest{Audio: srv.URL + "/audio/5.mp3"})
	var verr *job.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	entries, readErr := os.ReadDir(ws.Root())
	if readErr != nil {
		t.Fatalf("read root: %v", readErr)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no workspace to be created, found %d entries", len(entries))
	}
	if srv.hits.Load() != 0 {
		t.Fatalf("expected no network requests, got %d", srv.hits.Load())
	}
}

func TestAssemblePreservesImageOrder(t *testing.T) {
	srv := newAssetServer(t)
	forward := srv.images(4)
	reversed := make([]string, len(forward))
	for i, u := range forward {
		reversed[len(forward)-1-i] = u
	}

	for _, images := range [][]string{forward, reversed} {
		a, _ := newTestAssembler(t, &codectest.FakeRunner{})
		res, err := a.Assemble(context.Background(), job.AssemblyRequest{Images: images, Audio: srv.URL + "/audio/60.mp3", DurationPerImage: 1})
		if err != nil {
			t.Fatalf("assemble: %v", err)
		}
		dir := filepath.Dir(res.OutputPath)

		manifest, err := os.ReadFile(filepath.Join(dir, ManifestName))
		if err != nil {
			t.Fatalf("read manifest: %v", err)
		}
		entries := codectest.ManifestEntries(string(manifest))
		if len(entries) != len(images) {
			t.Fatalf("expected %d manifest entries, got %d", len(images), len(entries))
		}
		for i, entry := range entries {
			if entry != filepath.Join(dir, "seg_"+strconv.Itoa(i)+".mp4") {
				t.Fatalf("manifest entry %d out of order: %s", i, entry)
			}
			n, _ := strconv.Atoi(strings.TrimSuffix(filepath.Base(images[i]), ".png"))
			got, err := os.ReadFile(filepath.Join(dir, "img_"+strconv.Itoa(i)+".png"))
			if err != nil {
				t.Fatalf("read image %d: %v", i, err)
			}
			if !bytes.Equal(got, pngBytes(t, n+1)) {
				t.Fatalf("image %d does not match input url %s", i, images[i])
			}
		}
	}
}

func TestAssembleDownloadFailureKeepsWorkspace(t *testing.T) {
	srv := newAssetServer(t)
	a, _ := newTestAssembler(t, &codectest.FakeRunner{})
	images := srv.images(2)
	images[1] = srv.URL + "/missing.png"

	_, err := a.Assemble(context.Background(), job.AssemblyRequest{Images: images, Audio: srv.URL + "/audio/5.mp3"})
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Fatalf("expected assembly Error, got %v", err)
	}
	if aerr.Stage != StageDownloadImages {
		t.Fatalf("expected stage %q, got %q", StageDownloadImages, aerr.Stage)
	}
	var derr *fetch.DownloadError
	if !errors.As(err, &derr) || derr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected wrapped 404 DownloadError, got %v", err)
	}
	if job.CodeOf(err) != job.CodeAssemblyFailed {
		t.Fatalf("unexpected code %q", job.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "image 1") {
		t.Fatalf("expected failing index in message: %v", err)
	}
	if aerr.JobID == "" {
		t.Fatalf("expected job id on error")
	}
}

func TestAssembleAudioFailure(t *testing.T) {
	srv := newAssetServer(t)
	a, ws := newTestAssembler(t, &codectest.FakeRunner{})

	_, err := a.Assemble(context.Background(), job.AssemblyRequest{Images: srv.images(1), Audio: srv.URL + "/nope.mp3"})
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Stage != StageDownloadAudio {
		t.Fatalf("expected audio stage failure, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(ws.Root(), aerr.JobID)); statErr != nil {
		t.Fatalf("expected failed workspace to remain: %v", statErr)
	}
}

func TestAssembleTranscodeFailureSurfacesDiagnostic(t *testing.T) {
	srv := newAssetServer(t)
	runner := &codectest.FakeRunner{FailOn: func(args []string) ([]byte, error) {
		if strings.HasSuffix(args[len(args)-1], "seg_1.mp4") {
			return []byte("Error while decoding stream"), errors.New("exit status 1")
		}
		return nil, nil
	}}
	a, _ := newTestAssembler(t, runner)

	_, err := a.Assemble(context.Background(), job.AssemblyRequest{Images: srv.images(3), Audio: srv.URL + "/audio/9.mp3"})
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Stage != StageTranscode {
		t.Fatalf("expected transcode stage failure, got %v", err)
	}
	var terr *codec.TranscodeError
	if !errors.As(err, &terr) {
		t.Fatalf("expected wrapped TranscodeError, got %v", err)
	}
	if Diagnostic(err) != "Error while decoding stream" {
		t.Fatalf("unexpected diagnostic %q", Diagnostic(err))
	}
}

func TestAssembleConcatFailure(t *testing.T) {
	srv := newAssetServer(t)
	runner := &codectest.FakeRunner{FailOn: func(args []string) ([]byte, error) {
		for _, a := range args {
			if a == "concat" {
				return []byte("concat broke"), errors.New("exit status 1")
			}
		}
		return nil, nil
	}}
	a, _ := newTestAssembler(t, runner)

	_, err := a.Assemble(context.Background(), job.AssemblyRequest{Images: srv.images(2), Audio: srv.URL + "/audio/9.mp3"})
	var aerr *Error
	if !errors.As(err, &aerr) || aerr.Stage != StageConcatMux {
		t.Fatalf("expected concat stage failure, got %v", err)
	}
}

func TestAssembleWritesPoster(t *testing.T) {
	srv := newAssetServer(t)
	a, _ := newTestAssembler(t, &codectest.FakeRunner{})

	res, err := a.Assemble(context.Background(), job.AssemblyRequest{Images: srv.images(1), Audio: srv.URL + "/audio/9.mp3"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.PosterPath == "" {
		t.Fatalf("expected poster path")
	}
	f, err := os.Open(res.PosterPath)
	if err != nil {
		t.Fatalf("open poster: %v", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode poster: %v", err)
	}
	if cfg.Width != codec.SegmentWidth || cfg.Height != codec.SegmentHeight {
		t.Fatalf("unexpected poster size %dx%d", cfg.Width, cfg.Height)
	}
}

type recordingMirror struct {
	mu   sync.Mutex
	keys []string
}

func (m *recordingMirror) Put(_ context.Context, key, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	m.keys = append(m.keys, key)
	return "https://cdn.example.org/" + key, nil
}

func TestAssembleMirrorsOutput(t *testing.T) {
	srv := newAssetServer(t)
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	mirror := &recordingMirror{}
	a := New(Options{
		Workspaces: ws,
		Fetcher:    fetch.New(2 * time.Second),
		Encoder:    codec.New(codec.Options{Runner: &codectest.FakeRunner{}}),
		Mirror:     mirror,
	})

	res, err := a.Assemble(context.Background(), job.AssemblyRequest{Images: srv.images(1), Audio: srv.URL + "/audio/9.mp3"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.MirrorURL != "https://cdn.example.org/"+res.ID+"/"+OutputName {
		t.Fatalf("unexpected mirror url %q", res.MirrorURL)
	}
}

func TestConcurrentAssembliesUseDistinctWorkspaces(t *testing.T) {
	srv := newAssetServer(t)
	a, _ := newTestAssembler(t, &codectest.FakeRunner{})

	const n = 6
	results := make([]job.AssemblyResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := a.Assemble(context.Background(), job.AssemblyRequest{Images: srv.images(2), Audio: srv.URL + "/audio/9.mp3", DurationPerImage: 1})
			if err != nil {
				t.Errorf("assemble %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, r := range results {
		if _, dup := seen[r.ID]; dup {
			t.Fatalf("workspace %s shared between jobs", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
}
