// Package session provides bounded, TTL-expiring storage for per-session
// conversation history.
package session

import (
	"context"
	"time"

	"github.com/logsage/logsage/internal/query"
)

// AnalysisResult is one conversational turn. Immutable once produced;
// appended to session history.
type AnalysisResult struct {
	// SessionID is the owning session, empty for stateless turns.
	SessionID string `json:"session_id,omitempty"`

	// Question is the user's question text.
	Question string `json:"question"`

	// Intent is the classified question kind.
	Intent query.Intent `json:"intent"`

	// Answer is the synthesized answer text.
	Answer string `json:"answer"`

	// Sources are the request ids used as evidence, in citation order.
	Sources []string `json:"sources,omitempty"`

	// Confidence is the answer confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// CreatedAt is when the turn was produced.
	CreatedAt time.Time `json:"created_at"`
}

// Entry is the per-session cached state.
type Entry struct {
	// History is the ordered conversation history, oldest first.
	History []AnalysisResult `json:"history"`

	// LastAccessed is refreshed by Set (a fresh turn), never by Get.
	LastAccessed time.Time `json:"last_accessed"`

	// TTL is the entry's time-to-live measured from LastAccessed.
	TTL time.Duration `json:"ttl"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.LastAccessed) > e.TTL
}

// Clone returns a deep copy so callers never share the cached history.
func (e *Entry) Clone() *Entry {
	history := make([]AnalysisResult, len(e.History))
	copy(history, e.History)
	for i := range history {
		sources := make([]string, len(history[i].Sources))
		copy(sources, history[i].Sources)
		history[i].Sources = sources
	}
	return &Entry{
		History:      history,
		LastAccessed: e.LastAccessed,
		TTL:          e.TTL,
	}
}

// Cache is the session store contract. Implementations may be in-process
// or distributed; the contract is identical either way.
//
// Expiry rule: an entry is expired when now - LastAccessed > TTL. Get
// does not refresh LastAccessed; only Set does, so idle-but-recently-read
// sessions still expire on schedule. No entry is ever dropped except via
// TTL or explicit Delete.
type Cache interface {
	// Get returns a snapshot of the entry, or false on miss.
	Get(ctx context.Context, sessionID string) (*Entry, bool, error)

	// Set stores the entry and refreshes its LastAccessed timestamp.
	Set(ctx context.Context, sessionID string, entry *Entry) error

	// Delete removes the entry, reporting whether it existed.
	Delete(ctx context.Context, sessionID string) (bool, error)

	// Entries returns a snapshot of all live entries keyed by session id.
	Entries(ctx context.Context) (map[string]*Entry, error)

	// Values returns a snapshot of all live entries.
	Values(ctx context.Context) ([]*Entry, error)

	// Size returns the entry count, a point-in-time approximation under
	// concurrent use.
	Size(ctx context.Context) (int, error)

	// CleanupExpiredSessions removes all and only the expired entries and
	// returns how many were removed. Safe to call concurrently with
	// reads and writes.
	CleanupExpiredSessions(ctx context.Context) (int, error)
}
