// Package delivery pushes finished caption files to the requesting system.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/caption-engine/internal/metrics"
)

// Target is where a caption file goes, as named by the inbound request.
type Target struct {
	URL           string
	Authorization string // forwarded verbatim
}

// DeliveryError is a failed PUT. StatusCode is 0 for transport failures.
type DeliveryError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver to %s: %v", e.URL, e.Err)
	}
	msg := fmt.Sprintf("deliver to %s: status %d", e.URL, e.StatusCode)
	if b := strings.TrimSpace(e.Body); b != "" {
		msg += ": " + b
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Dispatcher PUTs caption files. It does not retry.
type Dispatcher struct {
	client *http.Client
	log    zerolog.Logger
}

func NewDispatcher(timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Dispatcher{
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "delivery").Logger(),
	}
}

// Deliver PUTs body to t.URL and returns the destination's status code.
// Any transport error or non-2xx status is a *DeliveryError.
func (d *Dispatcher) Deliver(ctx context.Context, t Target, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.URL, bytes.NewReader(body))
	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues("error").Inc()
		return 0, &DeliveryError{URL: t.URL, Err: err}
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Content-Location", t.URL)
	if t.Authorization != "" {
		req.Header.Set("Authorization", t.Authorization)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues("error").Inc()
		return 0, &DeliveryError{URL: t.URL, Err: err}
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	d.log.Info().
		Str("url", t.URL).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("took", time.Since(start)).
		Msg("caption delivered")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.DeliveriesTotal.WithLabelValues("rejected").Inc()
		return resp.StatusCode, &DeliveryError{URL: t.URL, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	metrics.DeliveriesTotal.WithLabelValues("ok").Inc()
	return resp.StatusCode, nil
}
