// Package crisis lee la señal de crisis externa desde un feed HTTP JSON.
package crisis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

const (
	// El feed se consulta como mucho una vez por minuto; el limiter solo
	// protege de bucles mal configurados.
	feedRatePerSec = 1
	maxRetries     = 2
	baseRetryWait  = 250 * time.Millisecond
	httpTimeout    = 10 * time.Second
)

var errMissingLevel = errors.New("feed response has no severity level")

// feedResponse acepta camelCase y snake_case; distintos feeds usan uno u otro.
type feedResponse struct {
	SeverityLevel  *int       `json:"severityLevel"`
	IntensityIndex *float64   `json:"intensityIndex"`
	SeveritySnake  *int       `json:"severity_level"`
	IntensitySnake *float64   `json:"intensity_index"`
	UpdatedAt      *time.Time `json:"updatedAt"`
}

// Client implementa ports.CrisisSource contra un endpoint JSON.
type Client struct {
	http    *http.Client
	url     string
	limiter *rate.Limiter
	now     func() time.Time
}

// NewClient crea un Client para url.
func NewClient(url string) *Client {
	return &Client{
		http:    &http.Client{Timeout: httpTimeout},
		url:     url,
		limiter: rate.NewLimiter(feedRatePerSec, 2),
		now:     time.Now,
	}
}

// FetchCrisis devuelve la lectura actual del feed. El rango del nivel y de la
// intensidad lo valida el monitor, no el adapter.
func (c *Client) FetchCrisis(ctx context.Context) (domain.Crisis, error) {
	var resp feedResponse
	if err := c.getWithRetry(ctx, &resp); err != nil {
		return domain.Crisis{}, fmt.Errorf("crisis.FetchCrisis: %w", err)
	}

	level := resp.SeverityLevel
	if level == nil {
		level = resp.SeveritySnake
	}
	if level == nil {
		return domain.Crisis{}, fmt.Errorf("crisis.FetchCrisis: %w", errMissingLevel)
	}
	intensity := resp.IntensityIndex
	if intensity == nil {
		intensity = resp.IntensitySnake
	}

	out := domain.Crisis{
		Known:     true,
		Level:     *level,
		UpdatedAt: c.now().UTC(),
	}
	if intensity != nil {
		out.Intensity = *intensity
	}
	if resp.UpdatedAt != nil && !resp.UpdatedAt.IsZero() {
		out.UpdatedAt = resp.UpdatedAt.UTC()
	}
	return out, nil
}

func (c *Client) getWithRetry(ctx context.Context, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		retry, err := c.get(ctx, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			return err
		}

		slog.Debug("crisis feed retry", "attempt", attempt+1, "err", err)
		select {
		case <-time.After(baseRetryWait << attempt):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("exhausted %d retries: %w", maxRetries, lastErr)
}

// get devuelve retry=true para errores de red, 429 y 5xx.
func (c *Client) get(ctx context.Context, out any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("server status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}
