// Package pipeline runs search sessions: it fans a query out to every source,
// merges their events into one ordered stream and hands it to an EventWriter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/openbox-deals/admission"
	"github.com/aluiziolira/openbox-deals/config"
	"github.com/aluiziolira/openbox-deals/models"
	"github.com/aluiziolira/openbox-deals/parser"
	"github.com/aluiziolira/openbox-deals/scraper"
)

var (
	// ErrClientDisconnected is returned when the client went away or its
	// stream could not be written.
	ErrClientDisconnected = errors.New("pipeline: client disconnected")

	// ErrSessionUsed is returned when Run is called twice.
	ErrSessionUsed = errors.New("pipeline: session already ran")
)

// AdmissionError reports a search refused by the admission gate.
type AdmissionError struct {
	Verdict    admission.Verdict
	RetryAfter int
}

// Reason is the machine-readable refusal reason.
func (e *AdmissionError) Reason() string {
	return e.Verdict.String()
}

func (e *AdmissionError) Error() string {
	if e.Verdict == admission.RateLimited {
		return fmt.Sprintf("Too many requests. Please wait %d seconds.", e.RetryAfter)
	}
	return "Search already in progress. Please wait for it to complete."
}

// SourceRunner streams one source and reports its events on out.
type SourceRunner interface {
	Run(ctx context.Context, src models.Source, q models.Query, out chan<- models.Event) models.SourceState
}

// Options tunes session behavior.
type Options struct {
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	CancelGrace       time.Duration
	// WriteTimeout bounds each event write on a streaming connection.
	WriteTimeout      time.Duration
	StrictPriceFilter bool
}

// OptionsFromConfig extracts session options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		CancelGrace:       cfg.CancelGrace,
		WriteTimeout:      cfg.WriteTimeout,
		StrictPriceFilter: cfg.StrictPriceFilter,
	}
}

// Supervisor admits searches and creates sessions over a fixed source list.
type Supervisor struct {
	gate    *admission.Gate
	runner  SourceRunner
	sources []models.Source
	opts    Options
	metrics *scraper.Metrics
}

// NewSupervisor wires a supervisor. metrics may be nil.
func NewSupervisor(gate *admission.Gate, runner SourceRunner, sources []models.Source, opts Options, metrics *scraper.Metrics) *Supervisor {
	return &Supervisor{
		gate:    gate,
		runner:  runner,
		sources: sources,
		opts:    opts,
		metrics: metrics,
	}
}

// WriteTimeout is the per-event write bound for streaming writers.
func (s *Supervisor) WriteTimeout() time.Duration {
	return s.opts.WriteTimeout
}

// Sources returns the configured sources.
func (s *Supervisor) Sources() []models.Source {
	return s.sources
}

// Start validates the query and admits the client. No source work begins
// until Run; on error nothing was started and nothing needs releasing.
func (s *Supervisor) Start(clientID, rawQuery string, maxPrice *float64) (*Session, error) {
	q, err := parser.ParseQuery(rawQuery, maxPrice)
	if err != nil {
		s.metrics.IncRejection("validation")
		return nil, err
	}

	decision := s.gate.TryAdmit(clientID)
	if decision.Verdict != admission.Allowed {
		s.metrics.IncRejection(decision.Verdict.String())
		return nil, &AdmissionError{Verdict: decision.Verdict, RetryAfter: decision.RetryAfter}
	}

	return &Session{
		ID:       decision.Token,
		ClientID: clientID,
		Query:    q,
		sup:      s,
	}, nil
}

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeDisconnected Outcome = "disconnected"
)

// Summary describes a finished session.
type Summary struct {
	SearchID string
	Query    string
	Outcome  Outcome
	Elapsed  time.Duration
	States   map[string]models.SourceState
	Results  int
	Errors   int
	Products int
}

// Session is one admitted search. Close must be called if Run is not.
type Session struct {
	ID       string
	ClientID string
	Query    models.Query

	sup         *Supervisor
	ran         atomic.Bool
	releaseOnce sync.Once
}

// Close releases the client's admission marker if this session still holds
// it. It is safe to call more than once and is called by Run on every exit
// path.
func (s *Session) Close() {
	s.releaseOnce.Do(func() {
		s.sup.gate.ReleaseToken(s.ClientID, s.ID)
	})
}

// Run streams the session to w until every source finished, the session
// deadline passed or ctx ended. Workers are cancelled and awaited before Run
// returns. The error is ErrClientDisconnected when ctx ended or w failed.
func (s *Session) Run(ctx context.Context, w EventWriter) (*Summary, error) {
	defer s.Close()
	if !s.ran.CompareAndSwap(false, true) {
		return nil, ErrSessionUsed
	}

	sup := s.sup
	start := time.Now()
	summary := &Summary{
		SearchID: s.ID,
		Query:    s.Query.Text,
		States:   make(map[string]models.SourceState, len(sup.sources)),
	}
	for _, src := range sup.sources {
		summary.States[src.Key] = models.StatePending
	}

	sup.metrics.SessionStarted()
	defer func() {
		summary.Elapsed = time.Since(start)
		sup.metrics.SessionFinished(string(summary.Outcome))
		slog.Info("search finished",
			slog.String("search_id", summary.SearchID),
			slog.String("query", summary.Query),
			slog.String("outcome", string(summary.Outcome)),
			slog.Duration("elapsed", summary.Elapsed),
			slog.Int("results", summary.Results),
			slog.Int("errors", summary.Errors),
			slog.Int("products", summary.Products),
		)
	}()

	// Writes end by the deadline plus one grace period for the worker wait
	// and one for the final events. A writer still blocked then is treated
	// as a gone client, so Run always returns and releases admission.
	writeCtx, cancelWrites := context.WithTimeout(context.Background(), sup.opts.SessionTimeout+2*sup.opts.CancelGrace)
	defer cancelWrites()
	emit := func(ev models.Event) error {
		done := make(chan error, 1)
		go func() { done <- w.WriteEvent(ev) }()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("%w: %v", ErrClientDisconnected, err)
			}
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrClientDisconnected, ctx.Err())
		case <-writeCtx.Done():
			return fmt.Errorf("%w: write stalled past session deadline", ErrClientDisconnected)
		}
	}

	if err := s.announce(emit); err != nil {
		summary.Outcome = OutcomeDisconnected
		return summary, err
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan models.Event, 2*len(sup.sources))
	var wg sync.WaitGroup
	for _, src := range sup.sources {
		wg.Add(1)
		go func(src models.Source) {
			defer wg.Done()
			sup.runner.Run(workCtx, src, s.Query, events)
		}(src)
	}

	outcome, err := s.drain(ctx, events, emit, start, summary)
	summary.Outcome = outcome

	cancel()
	if !waitTimeout(&wg, sup.opts.CancelGrace) {
		slog.Warn("source workers still running after grace period",
			slog.String("search_id", s.ID),
			slog.Duration("grace", sup.opts.CancelGrace),
		)
	}
	for key, state := range summary.States {
		if !state.Terminal() {
			summary.States[key] = models.StateCancelled
		}
	}

	if outcome == OutcomeDisconnected {
		return summary, err
	}
	if err := emit(models.Event{
		Type:    models.EventComplete,
		Elapsed: roundTo(time.Since(start).Seconds(), 2),
	}); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Session) announce(emit func(models.Event) error) error {
	sources := s.sup.sources
	if err := emit(models.Event{
		Type:     models.EventSearchStart,
		Query:    s.Query.Text,
		Sites:    models.SourceKeys(sources),
		SearchID: s.ID,
	}); err != nil {
		return err
	}
	for _, src := range sources {
		if err := emit(models.Event{
			Type:     models.EventSourceStatus,
			Site:     src.Key,
			SiteName: src.Name,
			Status:   "connecting",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) drain(ctx context.Context, events <-chan models.Event, emit func(models.Event) error, start time.Time, summary *Summary) (Outcome, error) {
	opts := s.sup.opts
	heartbeat := time.NewTimer(opts.HeartbeatInterval)
	defer heartbeat.Stop()
	deadline := time.NewTimer(opts.SessionTimeout)
	defer deadline.Stop()

	remaining := len(s.sup.sources)
	for remaining > 0 {
		select {
		case ev := <-events:
			ev, finished := s.prepare(ev, summary)
			if finished {
				remaining--
			}
			if err := emit(ev); err != nil {
				return OutcomeDisconnected, err
			}
			heartbeat.Reset(opts.HeartbeatInterval)

		case <-heartbeat.C:
			if err := emit(models.Event{
				Type:    models.EventHeartbeat,
				Elapsed: roundTo(time.Since(start).Seconds(), 1),
			}); err != nil {
				return OutcomeDisconnected, err
			}
			heartbeat.Reset(opts.HeartbeatInterval)

		case <-deadline.C:
			slog.Warn("search deadline reached",
				slog.String("search_id", s.ID),
				slog.Int("pending_sources", remaining),
			)
			if err := emit(models.Event{
				Type:    models.EventTimeout,
				Message: "Search timeout after " + humanDuration(opts.SessionTimeout),
			}); err != nil {
				return OutcomeDisconnected, err
			}
			return OutcomeTimedOut, nil

		case <-ctx.Done():
			slog.Info("client disconnected",
				slog.String("search_id", s.ID),
				slog.Int("pending_sources", remaining),
			)
			return OutcomeDisconnected, fmt.Errorf("%w: %v", ErrClientDisconnected, ctx.Err())
		}
	}
	return OutcomeCompleted, nil
}

// prepare records ev in summary and turns raw records into filtered
// products. It reports whether ev finished a source for the first time.
func (s *Session) prepare(ev models.Event, summary *Summary) (models.Event, bool) {
	current := summary.States[ev.Site]
	if !ev.Terminal() {
		if ev.Type == models.EventLiveView && !current.Terminal() {
			summary.States[ev.Site] = models.StateConnected
		}
		return ev, false
	}
	if current.Terminal() {
		return ev, false
	}

	summary.States[ev.Site] = ev.State
	switch ev.Type {
	case models.EventSourceResult:
		products := parser.SanitizeAll(ev.Records)
		if s.Query.HasPriceCeiling() {
			products = parser.FilterByPrice(products, *s.Query.MaxPrice, s.sup.opts.StrictPriceFilter)
		}
		ev.Products = products
		ev.Records = nil
		summary.Results++
		summary.Products += len(products)
		s.sup.metrics.AddProducts(len(products))
	case models.EventSourceError:
		summary.Errors++
	}
	return ev, true
}

func waitTimeout(wg *sync.WaitGroup, grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	}
	return d.String()
}
