// Package page obtains the rendered usage page for extraction. A Source
// hides where the content comes from: an HTTP fetch, an external command
// that dumps the rendered page (e.g. a headless browser wrapper), or a
// plain file.
package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"usagewatch/internal/config"
)

// ErrUnavailable wraps fetch failures so callers can tell "page could not
// be loaded" apart from internal errors.
var ErrUnavailable = errors.New("page unavailable")

type Source interface {
	Fetch(ctx context.Context) (string, error)
}

// FromConfig builds the configured source. The caller has already validated
// the config, so unknown sources only happen on programmer error.
func FromConfig(cfg config.PageConfig) (Source, error) {
	timeout, err := config.DurationOr("page.timeout", cfg.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "http":
		return &httpSource{
			url:    cfg.Url,
			cookie: cfg.Cookie,
			client: &http.Client{Timeout: timeout},
		}, nil
	case "command":
		return &commandSource{command: cfg.Command, timeout: timeout}, nil
	case "file":
		return &fileSource{path: cfg.Path}, nil
	default:
		return nil, fmt.Errorf("page.source: unknown source %q", cfg.Source)
	}
}

type httpSource struct {
	url    string
	cookie string
	client *http.Client
}

func (s *httpSource) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", err
	}
	if s.cookie != "" {
		req.Header.Set("Cookie", s.cookie)
	}
	req.Header.Set("Accept", "text/html,*/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return string(b), nil
}

type commandSource struct {
	command string
	timeout time.Duration
}

func (s *commandSource) Fetch(ctx context.Context) (string, error) {
	cctx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(cctx, "sh", "-c", s.command)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return string(out), nil
}

type fileSource struct {
	path string
}

func (s *fileSource) Fetch(ctx context.Context) (string, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return string(b), nil
}
