package server

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/conneroisu/bundlekit/internal/validation"
)

// readyTimeout bounds how long the browser waits for the server to answer.
const readyTimeout = 10 * time.Second

// WaitReady polls the health endpoint below baseURL with exponential backoff
// until it answers 200 or maxWait elapses.
func WaitReady(ctx context.Context, baseURL string, maxWait time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	health := baseURL + "/__bundlekit/health"

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, health, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, fmt.Errorf("health check returned %s", resp.Status)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         time.Second,
		}),
		backoff.WithMaxElapsedTime(maxWait),
	)
	return err
}

func (s *Server) openWhenReady(ctx context.Context) {
	target := s.URL()
	if err := WaitReady(ctx, target, readyTimeout); err != nil {
		if ctx.Err() == nil {
			s.logger.Warn(ctx, err, "Server did not become ready, not opening browser")
		}
		return
	}
	if err := s.opener(target + s.plan.PublicPath); err != nil {
		s.logger.Warn(ctx, err, "Failed to open browser", "url", target)
	}
}

func openBrowser(target string) error {
	if err := validation.ValidateURL(target); err != nil {
		return fmt.Errorf("refusing to open %q: %w", target, err)
	}

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		return exec.Command("xdg-open", target).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	case "darwin":
		return exec.Command("open", target).Start()
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
}
