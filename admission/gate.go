// Package admission decides whether a client may start a search. It combines
// a per-client sliding-window rate limit with a single-search-in-flight rule.
package admission

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Window is the rolling period the request quota applies to.
const Window = time.Minute

// Verdict is the outcome of an admission check.
type Verdict int

const (
	Allowed Verdict = iota
	RateLimited
	AlreadySearching
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case RateLimited:
		return "rate_limited"
	case AlreadySearching:
		return "already_searching"
	default:
		return "unknown"
	}
}

// Decision is returned by TryAdmit and Peek. Token is set only when TryAdmit
// admits a search; RetryAfter only for RateLimited.
type Decision struct {
	Verdict    Verdict
	RetryAfter int
	Token      string
}

// Clock abstracts time so tests can drive the window deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }

// Options configures a Gate.
type Options struct {
	RequestsPerMinute int
	MaxClients        int
	ClientTTL         time.Duration
	PurgeInterval     time.Duration
	StaleSearchAfter  time.Duration
	Clock             Clock
}

type clientState struct {
	stamps   []time.Time
	active   bool
	token    string
	started  time.Time
	lastSeen time.Time
}

// Gate tracks admission state for every client identity it has seen.
type Gate struct {
	opts Options

	mu        sync.Mutex
	clients   *lru.Cache[string, *clientState]
	lastPurge time.Time
}

// NewGate builds a gate. The client table is sized to MaxClients and the gate
// refuses unseen clients once it is full, so the cache never evicts on its own.
func NewGate(opts Options) (*Gate, error) {
	if opts.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive")
	}
	if opts.MaxClients <= 0 {
		return nil, fmt.Errorf("max clients must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}

	clients, err := lru.New[string, *clientState](opts.MaxClients)
	if err != nil {
		return nil, fmt.Errorf("create client table: %w", err)
	}
	return &Gate{
		opts:      opts,
		clients:   clients,
		lastPurge: opts.Clock.Now(),
	}, nil
}

// TryAdmit admits a new search for clientID or reports why it cannot start.
// An admitted search holds the client's marker until Release.
func (g *Gate) TryAdmit(clientID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.opts.Clock.Now()
	g.purgeLocked(now)

	state, ok := g.clients.Get(clientID)
	if !ok {
		if g.clients.Len() >= g.opts.MaxClients {
			return Decision{Verdict: RateLimited, RetryAfter: g.untilPurgeLocked(now)}
		}
		state = &clientState{}
		g.clients.Add(clientID, state)
	}
	state.lastSeen = now

	g.expireStaleLocked(state, now)
	if state.active {
		return Decision{Verdict: AlreadySearching}
	}

	state.stamps = inWindow(state.stamps, now)
	if len(state.stamps) >= g.opts.RequestsPerMinute {
		return Decision{Verdict: RateLimited, RetryAfter: retryAfter(state.stamps, now)}
	}

	token := uuid.NewString()
	state.stamps = append(state.stamps, now)
	state.active = true
	state.token = token
	state.started = now
	return Decision{Verdict: Allowed, Token: token}
}

// Peek reports what TryAdmit would decide without recording a request or
// creating an entry for an unseen client.
func (g *Gate) Peek(clientID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.opts.Clock.Now()
	g.purgeLocked(now)

	state, ok := g.clients.Peek(clientID)
	if !ok {
		if g.clients.Len() >= g.opts.MaxClients {
			return Decision{Verdict: RateLimited, RetryAfter: g.untilPurgeLocked(now)}
		}
		return Decision{Verdict: Allowed}
	}

	if state.active && !g.isStale(state, now) {
		return Decision{Verdict: AlreadySearching}
	}

	recent := inWindow(append([]time.Time(nil), state.stamps...), now)
	if len(recent) >= g.opts.RequestsPerMinute {
		return Decision{Verdict: RateLimited, RetryAfter: retryAfter(recent, now)}
	}
	return Decision{Verdict: Allowed}
}

// Release clears the active-search marker whatever search holds it. Calling
// it for a client without an active search is a no-op.
func (g *Gate) Release(clientID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if state, ok := g.clients.Peek(clientID); ok {
		g.releaseLocked(state)
	}
}

// ReleaseToken clears the marker only if it still belongs to the search
// admitted with token. A search whose marker already expired as stale cannot
// release a newer search of the same client.
func (g *Gate) ReleaseToken(clientID, token string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.clients.Peek(clientID)
	if !ok || token == "" || state.token != token {
		return
	}
	g.releaseLocked(state)
}

func (g *Gate) releaseLocked(state *clientState) {
	state.active = false
	state.token = ""
	state.started = time.Time{}
	state.lastSeen = g.opts.Clock.Now()
}

// Active reports whether clientID currently holds a search marker.
func (g *Gate) Active(clientID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.clients.Peek(clientID)
	return ok && state.active && !g.isStale(state, g.opts.Clock.Now())
}

// Len returns the number of tracked client identities.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clients.Len()
}

// purgeLocked drops idle clients at most once per PurgeInterval.
func (g *Gate) purgeLocked(now time.Time) {
	if now.Sub(g.lastPurge) < g.opts.PurgeInterval {
		return
	}
	g.lastPurge = now

	cutoff := now.Add(-g.opts.ClientTTL)
	for _, key := range g.clients.Keys() {
		state, ok := g.clients.Peek(key)
		if !ok {
			continue
		}
		g.expireStaleLocked(state, now)
		if state.active {
			continue
		}
		if state.lastSeen.Before(cutoff) {
			g.clients.Remove(key)
		}
	}
}

func (g *Gate) untilPurgeLocked(now time.Time) int {
	wait := g.opts.PurgeInterval - now.Sub(g.lastPurge)
	return clampSeconds(wait)
}

func (g *Gate) isStale(state *clientState, now time.Time) bool {
	return g.opts.StaleSearchAfter > 0 && now.Sub(state.started) > g.opts.StaleSearchAfter
}

// expireStaleLocked clears a marker whose search was never released.
func (g *Gate) expireStaleLocked(state *clientState, now time.Time) {
	if state.active && g.isStale(state, now) {
		state.active = false
		state.token = ""
		state.started = time.Time{}
	}
}

// inWindow keeps timestamps newer than Window, reusing stamps' backing array.
func inWindow(stamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-Window)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// retryAfter is the number of seconds until the oldest stamp leaves the window.
func retryAfter(stamps []time.Time, now time.Time) int {
	if len(stamps) == 0 {
		return 0
	}
	oldest := stamps[0]
	for _, ts := range stamps[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	return clampSeconds(Window - now.Sub(oldest))
}

func clampSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 0 {
		return 0
	}
	if secs > int(Window/time.Second) {
		return int(Window / time.Second)
	}
	return secs
}
