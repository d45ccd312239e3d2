// Package polymarket is the HTTP adapter for the Gamma (discovery, published
// prices, resolution) and CLOB (order book) APIs.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase  = "https://clob.polymarket.com"
	defaultGammaBase = "https://gamma-api.polymarket.com"

	// ~60% de los límites documentados (book 1500/10s, gamma 300/10s)
	bookPerSec  = 90
	gammaPerSec = 18

	maxAttempts    = 4
	backoffBase    = 500 * time.Millisecond
	maxRetryAfter  = 10 * time.Second
	defaultTimeout = 10 * time.Second
	errBodyLimit   = 512
)

// errNotFound se devuelve ante un 404; no se reintenta.
var errNotFound = errors.New("not found")

// statusError es una respuesta HTTP no exitosa.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("http %d", e.code)
	}
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// endpoint agrupa un base URL con su propio limiter.
type endpoint struct {
	name    string
	base    string
	limiter *rate.Limiter
}

// Client implementa ports.MarketProvider, PriceSource, ResolutionSource y
// SlugProvider sobre Gamma + CLOB.
type Client struct {
	http  *http.Client
	gamma endpoint
	clob  endpoint

	tokens sync.Map // marketID → [2]string, fijos durante la vida del mercado
}

// Option configura un Client.
type Option func(*Client)

// WithTimeout fija el timeout total de cada request HTTP.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient crea un Client. Base URLs vacíos apuntan a producción.
func NewClient(clobBase, gammaBase string, opts ...Option) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if gammaBase == "" {
		gammaBase = defaultGammaBase
	}
	c := &Client{
		http:  &http.Client{Timeout: defaultTimeout},
		gamma: endpoint{name: "gamma", base: gammaBase, limiter: rate.NewLimiter(gammaPerSec, 10)},
		clob:  endpoint{name: "clob", base: clobBase, limiter: rate.NewLimiter(bookPerSec, 20)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get hace GET base+path y decodifica JSON en out. Errores de red, 429 y 5xx
// se reintentan con backoff exponencial; 404 devuelve errNotFound.
func (c *Client) get(ctx context.Context, ep endpoint, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt, lastErr); err != nil {
				return err
			}
		}
		if err := ep.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s rate limiter: %w", ep.name, err)
		}

		err := c.do(ctx, ep.base+path, out)
		if err == nil {
			return nil
		}
		var se *statusError
		switch {
		case errors.Is(err, errNotFound):
			return err
		case errors.As(err, &se) && !se.retryable():
			return err
		case ctx.Err() != nil:
			return fmt.Errorf("%s %s: %w", ep.name, path, ctx.Err())
		}
		lastErr = err
		slog.Debug("upstream request failed, retrying",
			"api", ep.name,
			"path", path,
			"attempt", attempt+1,
			"err", err,
		)
	}
	return fmt.Errorf("%s %s: giving up after %d attempts: %w", ep.name, path, maxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		se := &statusError{code: resp.StatusCode, body: string(body)}
		if resp.StatusCode == http.StatusTooManyRequests {
			slog.Warn("rate limited by API", "url", url, "retry_after", resp.Header.Get("Retry-After"))
			return &retryAfterError{statusError: se, wait: parseRetryAfter(resp.Header.Get("Retry-After"))}
		}
		return se
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// retryAfterError es un 429 con la espera pedida por el servidor.
type retryAfterError struct {
	*statusError
	wait time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.statusError }

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return min(time.Duration(secs)*time.Second, maxRetryAfter)
}

// backoff espera 2^(attempt-1) × backoffBase, o lo que pidió el servidor.
func (c *Client) backoff(ctx context.Context, attempt int, cause error) error {
	wait := backoffBase << (attempt - 1)
	var ra *retryAfterError
	if errors.As(cause, &ra) && ra.wait > 0 {
		wait = ra.wait
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
