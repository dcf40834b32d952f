// Package httpexporter posts telemetry as gzip-compressed JSON to an HTTP
// collector. Requests are sent by a pool of workers so exporting never
// blocks the agent loop.
package httpexporter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	internalerrors "github.com/Schera-ole/telemetry-agent/internal/errors"
	"github.com/Schera-ole/telemetry-agent/internal/exporter"
	"github.com/Schera-ole/telemetry-agent/internal/metrics"
	models "github.com/Schera-ole/telemetry-agent/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultRetryDelays are the pauses between attempts of one request.
var DefaultRetryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

const (
	metricsPath = "/updates"
	spansPath   = "/spans"
	logsPath    = "/logs"
)

// Options configures an Exporter.
type Options struct {
	// URL is the collector base, e.g. "http://localhost:8080".
	URL string
	// Key signs every body with HMAC-SHA256 when set.
	Key         string
	Workers     int
	QueueSize   int
	RetryDelays []time.Duration
	Client      *http.Client
	Logger      *zap.SugaredLogger
}

type job struct {
	path    string
	payload any
}

// Exporter is an exporter.Exporter backed by an HTTP collector.
type Exporter struct {
	url    string
	key    string
	delays []time.Duration
	client *http.Client
	logger *zap.SugaredLogger

	// mu guards sends on jobs against Close.
	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
	stop   chan struct{}
}

// New starts the worker pool.
func New(opts Options) *Exporter {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 20
	}
	if opts.RetryDelays == nil {
		opts.RetryDelays = DefaultRetryDelays
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	url := opts.URL
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	e := &Exporter{
		url:    strings.TrimSuffix(url, "/"),
		key:    opts.Key,
		delays: opts.RetryDelays,
		client: opts.Client,
		logger: opts.Logger,
		jobs:   make(chan job, opts.QueueSize),
		stop:   make(chan struct{}),
	}
	for w := 0; w < opts.Workers; w++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

func (e *Exporter) ExportProcessMetrics(_ context.Context, cur, prev *metrics.ProcessSnapshot) error {
	return e.enqueue(metricsPath, exporter.ProcessDTOs(cur, prev))
}

func (e *Exporter) ExportThreadMetrics(_ context.Context, samples []metrics.ThreadSample) error {
	if len(samples) == 0 {
		return nil
	}
	return e.enqueue(metricsPath, exporter.ThreadDTOs(samples))
}

func (e *Exporter) ExportSpans(_ context.Context, spans []models.Span) error {
	if len(spans) == 0 {
		return nil
	}
	return e.enqueue(spansPath, spans)
}

func (e *Exporter) ExportLogs(_ context.Context, logs []models.LogRecord) error {
	if len(logs) == 0 {
		return nil
	}
	return e.enqueue(logsPath, logs)
}

func (e *Exporter) ExportLoopBlocked(_ context.Context, ev models.LoopBlocked) error {
	return e.enqueue(metricsPath, []models.MetricsDTO{exporter.LoopBlockedDTO(ev)})
}

// enqueue hands a payload to the workers, dropping it when they are
// behind.
func (e *Exporter) enqueue(path string, payload any) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return internalerrors.ErrAgentStopped
	}
	select {
	case e.jobs <- job{path: path, payload: payload}:
		return nil
	default:
		return internalerrors.ErrQueueFull
	}
}

// Close stops accepting payloads and waits for queued ones to be sent.
func (e *Exporter) Close() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.stop)
		close(e.jobs)
	}
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

func (e *Exporter) worker() {
	defer e.wg.Done()
	for j := range e.jobs {
		if err := e.send(j.path, j.payload); err != nil {
			e.logger.Errorw("Error sending telemetry", "path", j.path, "error", err)
		}
	}
}

func countHash(body []byte, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func compress(payload any) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error creating json: %w", err)
	}
	var compressed bytes.Buffer
	gzipWriter := gzip.NewWriter(&compressed)
	if _, err := gzipWriter.Write(jsonData); err != nil {
		return nil, fmt.Errorf("error compressing data: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer: %w", err)
	}
	return compressed.Bytes(), nil
}

func (e *Exporter) send(path string, payload any) error {
	body, err := compress(payload)
	if err != nil {
		return err
	}
	var hash string
	if e.key != "" {
		hash = countHash(body, e.key)
	}
	url := e.url + path

	var lastErr error
	for attempt := 0; attempt <= len(e.delays); attempt++ {
		if attempt > 0 {
			delay := e.delays[attempt-1]
			e.logger.Debugw("Retrying request", "attempt", attempt, "delay", delay, "url", url)
			select {
			case <-time.After(delay):
			case <-e.stop:
				// Closing: queued payloads get one attempt each.
				return fmt.Errorf("giving up on %s during shutdown: %w", url, lastErr)
			}
		}

		request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("error creating request for %s: %w", url, err)
		}
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set("Accept-Encoding", "gzip")
		request.Header.Set("Content-Encoding", "gzip")
		if hash != "" {
			request.Header.Set("HashSHA256", hash)
		}

		response, err := e.client.Do(request)
		if err != nil {
			lastErr = fmt.Errorf("error sending request for %s: %w", url, err)
			if isRetryableError(err) {
				continue
			}
			return lastErr
		}

		respBody, err := io.ReadAll(response.Body)
		response.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("error reading response body: %w", err)
			continue
		}

		if response.StatusCode >= 200 && response.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("server returned error status %d: %s", response.StatusCode, string(respBody))
		// 5xx responses are retried, anything else is final
		if response.StatusCode < 500 {
			return lastErr
		}
	}

	return fmt.Errorf("failed to send to %s after %d attempts: %w", url, len(e.delays)+1, lastErr)
}

func isRetryableError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "connection reset by peer")
}
