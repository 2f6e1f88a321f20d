// Package scraper drives the automation backend for each source and turns its
// event stream into one terminal outcome per source.
package scraper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aluiziolira/openbox-deals/config"
	"github.com/aluiziolira/openbox-deals/models"
	"github.com/aluiziolira/openbox-deals/parser"
)

// MaxErrorLen bounds error strings sent to clients.
const MaxErrorLen = 50

const (
	framePrefix    = "data:"
	maxStreamBytes = 32 << 20
)

// resultKeys are checked in order on every frame; a later frame replaces an
// earlier result.
var resultKeys = []string{"resultJson", "result", "data", "products"}

// Backend runs sources against the streaming automation endpoint.
type Backend struct {
	Endpoint      string
	APIKey        string
	Pool          *ClientPool
	SourceTimeout time.Duration
	Metrics       *Metrics
}

// NewBackend builds a backend from cfg sharing pool and metrics.
func NewBackend(cfg *config.Config, pool *ClientPool, metrics *Metrics) *Backend {
	return &Backend{
		Endpoint:      cfg.APIEndpoint,
		APIKey:        cfg.APIKey,
		Pool:          pool,
		SourceTimeout: cfg.SourceTimeout,
		Metrics:       metrics,
	}
}

type runRequest struct {
	URL            string        `json:"url"`
	Goal           string        `json:"goal"`
	BrowserProfile string        `json:"browser_profile,omitempty"`
	ProxyConfig    *models.Proxy `json:"proxy_config,omitempty"`
}

// Run streams one source and sends at most one live-view event followed by
// exactly one terminal event on out. Nothing is sent once ctx is done, and
// the returned state is then StateCancelled.
func (b *Backend) Run(ctx context.Context, src models.Source, q models.Query, out chan<- models.Event) models.SourceState {
	start := time.Now()
	srcCtx, cancel := context.WithTimeout(ctx, b.SourceTimeout)
	defer cancel()

	emit := func(ev models.Event) bool {
		return send(ctx, out, ev)
	}

	records, err := b.stream(srcCtx, src, q, emit)
	b.Metrics.ObserveDuration(time.Since(start))

	if ctx.Err() != nil {
		b.Metrics.IncRequest("cancelled")
		slog.Debug("source cancelled",
			slog.String("site", src.Key),
			slog.Duration("elapsed", time.Since(start)),
		)
		return models.StateCancelled
	}

	if err != nil {
		if errors.Is(srcCtx.Err(), context.DeadlineExceeded) {
			err = ErrTimeout{After: b.SourceTimeout, Err: err}
		} else {
			err = classifyError(err, b.SourceTimeout)
		}
		category := errorTypeLabel(err)
		state := models.StateErrored
		if category == "timeout" {
			state = models.StateTimedOut
		}

		b.Metrics.IncRequest("failed")
		b.Metrics.IncError(category)
		slog.Debug("source failed",
			slog.String("site", src.Key),
			slog.String("category", category),
			slog.Any("error", err),
		)
		if !emit(models.Event{
			Type:     models.EventSourceError,
			Site:     src.Key,
			SiteName: src.Name,
			Error:    shortError(err),
			State:    state,
		}) {
			return models.StateCancelled
		}
		return state
	}

	b.Metrics.IncRequest("succeeded")
	slog.Debug("source finished",
		slog.String("site", src.Key),
		slog.Int("records", len(records)),
		slog.Duration("elapsed", time.Since(start)),
	)
	if !emit(models.Event{
		Type:     models.EventSourceResult,
		Site:     src.Key,
		SiteName: src.Name,
		Records:  records,
		State:    models.StateSucceeded,
	}) {
		return models.StateCancelled
	}
	return models.StateSucceeded
}

func (b *Backend) stream(ctx context.Context, src models.Source, q models.Query, emit func(models.Event) bool) ([]parser.RawRecord, error) {
	target := src.TargetURL(q.Text)
	body, err := json.Marshal(runRequest{
		URL:            target,
		Goal:           src.ExtractionGoal(q.Text),
		BrowserProfile: src.BrowserProfile,
		ProxyConfig:    src.Proxy,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", b.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	client, release, err := b.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	b.Metrics.IncRequest("started")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, ErrStatus{Code: resp.StatusCode}
	}

	var state frameState
	reader := bufio.NewReader(io.LimitReader(resp.Body, maxStreamBytes))
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, readErr
		}
		final := readErr != nil

		payload, ok := framePayload(line)
		if ok {
			frame, decodeErr := decodeFrame(payload)
			switch {
			case decodeErr != nil && final && !state.haveResult:
				return nil, ErrDecode{Err: decodeErr}
			case decodeErr != nil:
				slog.Debug("skipping malformed frame",
					slog.String("site", src.Key),
					slog.Any("error", decodeErr),
				)
			default:
				liveURL, upstreamErr := state.apply(frame)
				if upstreamErr != nil {
					return nil, upstreamErr
				}
				if liveURL != "" && !emit(models.Event{
					Type:         models.EventLiveView,
					Site:         src.Key,
					SiteName:     src.Name,
					StreamingURL: liveURL,
					SearchURL:    target,
				}) {
					return nil, context.Canceled
				}
			}
		}

		if final {
			break
		}
	}

	if !state.haveResult {
		return nil, ErrNoResults
	}
	return parser.Extract(state.result), nil
}

// frameState tracks what a stream has reported so far.
type frameState struct {
	liveSent   bool
	result     any
	haveResult bool
}

// apply folds one frame into the state. It returns the live-view URL the
// first time one appears, and an error when the frame reports one.
func (s *frameState) apply(frame map[string]any) (string, error) {
	var liveURL string
	if !s.liveSent {
		if u, ok := frame["streamingUrl"].(string); ok && strings.TrimSpace(u) != "" {
			liveURL = u
			s.liveSent = true
		}
	}

	for _, key := range resultKeys {
		v := frame[key]
		if !present(v) {
			continue
		}
		if key == "data" && !isContainer(v) {
			continue
		}
		s.result = v
		s.haveResult = true
		break
	}

	if present(frame["error"]) {
		return liveURL, ErrUpstream{Message: truncateRunes(textOf(frame["error"]), MaxErrorLen)}
	}
	return liveURL, nil
}

func framePayload(line string) (string, bool) {
	payload, ok := strings.CutPrefix(strings.TrimSpace(line), framePrefix)
	if !ok {
		return "", false
	}
	payload = strings.TrimSpace(payload)
	return payload, payload != ""
}

func decodeFrame(payload string) (map[string]any, error) {
	var frame map[string]any
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, fmt.Errorf("frame is null")
	}
	return frame, nil
}

// present mirrors JSON truthiness: null, false, 0, "" and empty containers
// carry nothing.
func present(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return true
	}
	return false
}

func textOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func shortError(err error) string {
	if errors.Is(err, ErrNoResults) {
		return NoResultsMessage
	}
	return truncateRunes(err.Error(), MaxErrorLen)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

func send(ctx context.Context, out chan<- models.Event, ev models.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
