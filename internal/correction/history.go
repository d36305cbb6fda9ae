package correction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adnsalim/murattil/internal/store"
)

// historyKey is where the session history lives in the store's data region.
const historyKey = "correction_history"

// historyCap bounds the history; the oldest entry is evicted first. Access
// never refreshes recency.
const historyCap = 100

// recentCount is how many trailing sessions Statistics reports.
const recentCount = 10

// Session is the persisted summary of one scored recitation.
type Session struct {
	// ID is a generated unique identifier.
	ID string `json:"id"`

	// Reference is the store key form of the practiced passage.
	Reference string `json:"reference"`

	// RecordedText is the transcript that was scored.
	RecordedText string `json:"recorded_text"`

	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`
	Correct   bool      `json:"correct"`
}

// Statistics aggregates the session history. Rates are 0 when the history is
// empty.
type Statistics struct {
	TotalSessions   int       `json:"total_sessions"`
	CorrectSessions int       `json:"correct_sessions"`
	SuccessRate     float64   `json:"success_rate"`
	AverageScore    float64   `json:"average_score"`
	RecentSessions  []Session `json:"recent_sessions"`
}

// History is the bounded, store-persisted session log. It is written through
// to the content store on every append so progress survives restarts.
//
// Safe for concurrent use.
type History struct {
	store store.ContentStore

	mu       sync.Mutex
	sessions []Session
}

// NewHistory creates a history backed by st, loading any previously
// persisted sessions.
func NewHistory(ctx context.Context, st store.ContentStore) (*History, error) {
	h := &History{store: st}
	found, err := st.GetJSON(ctx, store.RegionData, historyKey, &h.sessions)
	if err != nil {
		return nil, fmt.Errorf("correction: load history: %w", err)
	}
	if !found {
		h.sessions = []Session{}
	}
	if len(h.sessions) > historyCap {
		h.sessions = h.sessions[len(h.sessions)-historyCap:]
	}
	return h, nil
}

// Record appends a session, evicting the oldest entry beyond the cap, and
// persists the updated history. A missing ID or timestamp is filled in.
// The append is kept in memory even when persistence fails.
func (h *History) Record(ctx context.Context, s Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions = append(h.sessions, s)
	if len(h.sessions) > historyCap {
		h.sessions = h.sessions[len(h.sessions)-historyCap:]
	}

	if err := h.store.PutJSON(ctx, store.RegionData, historyKey, h.sessions); err != nil {
		return fmt.Errorf("correction: persist history: %w", err)
	}
	return nil
}

// Sessions returns a copy of the history, oldest first.
func (h *History) Sessions() []Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Session, len(h.sessions))
	copy(out, h.sessions)
	return out
}

// Statistics aggregates the current history.
func (h *History) Statistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Statistics{
		TotalSessions:  len(h.sessions),
		RecentSessions: []Session{},
	}
	if len(h.sessions) == 0 {
		return stats
	}

	var scoreSum int
	for _, s := range h.sessions {
		scoreSum += s.Score
		if s.Correct {
			stats.CorrectSessions++
		}
	}
	stats.SuccessRate = float64(stats.CorrectSessions) / float64(stats.TotalSessions)
	stats.AverageScore = float64(scoreSum) / float64(stats.TotalSessions)

	recent := len(h.sessions)
	if recent > recentCount {
		recent = recentCount
	}
	stats.RecentSessions = append(stats.RecentSessions, h.sessions[len(h.sessions)-recent:]...)
	return stats
}
