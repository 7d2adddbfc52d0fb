package domain

import (
	"strings"
	"sync"
)

// MaxHistory bounds the in-memory message history; the oldest entries are
// evicted first.
const MaxHistory = 2000

// Query limits applied to history reads.
const (
	DefaultQueryLimit = 30
	MaxQueryLimit     = 100
)

// HistoryFilter selects messages from the history. All set conditions must
// hold. PeerID must already be in canonical form.
type HistoryFilter struct {
	Limit            int
	IncludeBroadcast bool
	IncludeDM        bool
	Since            *int64
	PeerID           string
	Channel          *int
}

// History is the bounded in-memory chat log. Entries stay in append order,
// which is also delivery order.
type History struct {
	mu      sync.RWMutex
	entries []Message
	max     int
}

func NewHistory() *History {
	return &History{max: MaxHistory}
}

func (h *History) Append(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) == h.max {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.max-1]
	}
	h.entries = append(h.entries, msg)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.entries)
}

// Query returns the newest matching messages in chronological order, capped
// at the filter limit. Since is inclusive: a message stamped exactly at the
// cursor is returned, so clients polling with the last seen timestamp never
// lose same-second messages.
func (h *History) Query(f HistoryFilter) []Message {
	limit := clampLimit(f.Limit)

	h.mu.RLock()
	defer h.mu.RUnlock()

	filtered := make([]Message, 0, limit)
	for _, msg := range h.entries {
		if f.Since != nil && msg.Timestamp < *f.Since {
			continue
		}
		if msg.Scope == ScopeChannel && !f.IncludeBroadcast {
			continue
		}
		if msg.Scope == ScopePrivate && !f.IncludeDM {
			continue
		}
		if f.Channel != nil && msg.Channel != *f.Channel {
			continue
		}
		if f.PeerID != "" && !strings.EqualFold(msg.PeerID, f.PeerID) {
			continue
		}
		filtered = append(filtered, msg)
	}

	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	return filtered
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}

	return limit
}
