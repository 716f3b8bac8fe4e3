// Package publisher forwards each tick's readings to an external ingestion
// endpoint. Batches are marshaled to JSON, gzip-compressed and POSTed with
// exponential backoff. Publishing is best-effort: batches that cannot be
// delivered are dropped and logged, and a full queue drops new batches
// rather than blocking the scheduler.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/monitor/internal/config"
	"github.com/Guliveer/vitalis/monitor/internal/models"
)

const (
	// baseRetryDelay is the base delay for exponential backoff between retries.
	baseRetryDelay = 2 * time.Second

	// queueSize is the number of batches waiting for delivery.
	queueSize = 64
)

// Batch is the payload POSTed to the ingestion endpoint.
type Batch struct {
	Topic    string           `json:"topic"`
	SentAt   time.Time        `json:"sent_at"`
	Readings []models.Reading `json:"readings"`
}

// Publisher delivers reading batches to cfg.URL.
type Publisher struct {
	client     *http.Client
	cfg        config.PublisherConfig
	logger     *zap.Logger
	queue      chan []models.Reading
	retryDelay time.Duration
}

// New creates a Publisher with the given configuration and logger.
func New(cfg config.PublisherConfig, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: &http.Client{
			Timeout: cfg.Timeout.Duration,
		},
		cfg:        cfg,
		logger:     logger,
		queue:      make(chan []models.Reading, queueSize),
		retryDelay: baseRetryDelay,
	}
}

// Enqueue schedules readings for delivery without blocking.
// Returns false when the queue is full and the batch was dropped.
func (p *Publisher) Enqueue(readings []models.Reading) bool {
	select {
	case p.queue <- readings:
		return true
	default:
		p.logger.Warn("Publish queue full, dropping batch", zap.Int("readings", len(readings)))
		return false
	}
}

// Run delivers queued batches until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case readings := <-p.queue:
			p.Send(ctx, readings)
		}
	}
}

// Send attempts to deliver one batch, retrying with exponential backoff.
// Returns the last error after all retries are exhausted.
func (p *Publisher) Send(ctx context.Context, readings []models.Reading) error {
	data, err := json.Marshal(Batch{
		Topic:    p.cfg.Topic,
		SentAt:   time.Now().UTC(),
		Readings: readings,
	})
	if err != nil {
		p.logger.Error("Failed to marshal batch", zap.Error(err))
		return err
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(data); err != nil {
		p.logger.Error("Failed to compress batch", zap.Error(err))
		return err
	}
	if err := gz.Close(); err != nil {
		p.logger.Error("Failed to finalize gzip compression", zap.Error(err))
		return err
	}

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * p.retryDelay
			p.logger.Warn("Retrying publish",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = p.doSend(ctx, compressed.Bytes())
		if err == nil {
			p.logger.Debug("Batch published", zap.Int("readings", len(readings)))
			return nil
		}

		// Rate limited: drop without further retries
		if isRateLimited(err) {
			p.logger.Warn("Rate limited by ingestion endpoint, dropping batch", zap.Error(err))
			return err
		}

		p.logger.Warn("Publish failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	p.logger.Error("All retries exhausted, dropping batch", zap.Int("readings", len(readings)))
	return err
}

// doSend performs a single HTTP POST to the ingestion endpoint.
func (p *Publisher) doSend(ctx context.Context, compressedData []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(compressedData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &rateLimitError{statusCode: resp.StatusCode}
	}

	return fmt.Errorf("server returned %d", resp.StatusCode)
}

// rateLimitError indicates the endpoint returned HTTP 429.
type rateLimitError struct {
	statusCode int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%d)", e.statusCode)
}

// isRateLimited checks whether an error is a rate limit response.
func isRateLimited(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}
