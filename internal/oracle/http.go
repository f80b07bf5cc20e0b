package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries = 3
	baseRetryWait     = 500 * time.Millisecond
)

func newHTTPClient() (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 10 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   5 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{Transport: tr}, nil
}

// fetcher issues rate-limited GETs with exponential backoff on 429 and 5xx.
type fetcher struct {
	http       *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryWait  time.Duration
	backend    string
}

func newFetcher(client *http.Client, backend string, perSec float64, burst, maxRetries int) *fetcher {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &fetcher{
		http:       client,
		limiter:    rate.NewLimiter(rate.Limit(perSec), burst),
		maxRetries: maxRetries,
		retryWait:  baseRetryWait,
		backend:    backend,
	}
}

func (f *fetcher) getJSON(ctx context.Context, url string, out any) error {
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.http.Do(req)
		if err != nil {
			if attempt == f.maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			if err := f.sleep(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			zap.L().Debug("Explorer request will be retried",
				zap.String("backend", f.backend),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1))
			if attempt == f.maxRetries {
				return fmt.Errorf("status %d after %d attempts", resp.StatusCode, attempt+1)
			}
			if err := f.sleep(ctx, attempt); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		_ = resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", f.maxRetries)
}

// sleep waits 2^attempt * retryWait or until ctx is done.
func (f *fetcher) sleep(ctx context.Context, attempt int) error {
	wait := time.Duration(math.Pow(2, float64(attempt))) * f.retryWait
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
