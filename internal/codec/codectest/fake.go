// Package codectest provides an in-process stand-in for the ffmpeg binary.
//
// Segments are written as text files holding their duration in seconds. The
// concat step reads the manifest, sums segment durations, reads the audio file
// as a duration and writes "duration=<min>\nsegments=<n>" to the output.
package codectest

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type FakeRunner struct {
	// FailOn, when set, is consulted before each call; a non-nil error is
	// returned together with the provided output.
	FailOn func(args []string) ([]byte, error)
	// Delay makes every call block for the given duration or until ctx is done.
	Delay time.Duration

	mu        sync.Mutex
	calls     [][]string
	active    int
	maxActive int
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return []byte("killed"), ctx.Err()
		}
	}
	if f.FailOn != nil {
		if out, err := f.FailOn(args); err != nil {
			return out, err
		}
	}
	if isConcat(args) {
		return nil, concat(args)
	}
	return nil, segment(args)
}

// Calls returns a copy of the recorded invocations, program name first.
func (f *FakeRunner) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// MaxActive is the highest number of overlapping calls observed.
func (f *FakeRunner) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// ReadOutput parses a file written by the fake concat step.
func ReadOutput(path string) (duration float64, segments int, err error) {
	data, err := os.ReadFile(path) //nolint:gosec // test helper
	if err != nil {
		return 0, 0, err
	}
	_, err = fmt.Sscanf(string(data), "duration=%g\nsegments=%d", &duration, &segments)
	return duration, segments, err
}

// ManifestEntries parses a concat manifest back into paths.
func ManifestEntries(content string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "file '") || !strings.HasSuffix(line, "'") {
			continue
		}
		quoted := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		out = append(out, strings.ReplaceAll(quoted, `'\''`, "'"))
	}
	return out
}

func isConcat(args []string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-f" && args[i+1] == "concat" {
			return true
		}
	}
	return false
}

func segment(args []string) error {
	seconds := valueAfter(args, "-t")
	if seconds == "" {
		return fmt.Errorf("fake: missing -t")
	}
	if _, err := os.Stat(valueAfter(args, "-i")); err != nil {
		return fmt.Errorf("fake: input: %w", err)
	}
	return os.WriteFile(args[len(args)-1], []byte(seconds), 0o600)
}

func concat(args []string) error {
	var inputs []string
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-i" {
			inputs = append(inputs, args[i+1])
		}
	}
	if len(inputs) != 2 {
		return fmt.Errorf("fake: expected manifest and audio inputs, got %v", inputs)
	}
	manifest, err := os.ReadFile(inputs[0])
	if err != nil {
		return fmt.Errorf("fake: manifest: %w", err)
	}
	entries := ManifestEntries(string(manifest))
	var video float64
	for _, p := range entries {
		d, err := readSeconds(p)
		if err != nil {
			return fmt.Errorf("fake: segment %s: %w", p, err)
		}
		video += d
	}
	audio, err := readSeconds(inputs[1])
	if err != nil {
		return fmt.Errorf("fake: audio: %w", err)
	}
	out := video
	if audio < out {
		out = audio
	}
	body := fmt.Sprintf("duration=%g\nsegments=%d\n", out, len(entries))
	return os.WriteFile(args[len(args)-1], []byte(body), 0o600)
}

func readSeconds(path string) (float64, error) {
	data, err := os.ReadFile(path) //nolint:gosec // test helper
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
}

func valueAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
