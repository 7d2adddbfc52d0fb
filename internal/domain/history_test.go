package domain

import (
	"strconv"
	"testing"
)

func historyMsg(ts int64, scope string, channel int, peer string) Message {
	return Message{
		Timestamp: ts,
		Scope:     scope,
		Channel:   channel,
		Direction: DirectionIn,
		PeerID:    peer,
		Text:      "msg " + strconv.FormatInt(ts, 10),
	}
}

func allFilter() HistoryFilter {
	return HistoryFilter{IncludeBroadcast: true, IncludeDM: true}
}

func TestHistoryQueryReturnsNewestInOrder(t *testing.T) {
	h := NewHistory()
	for ts := int64(1); ts <= 50; ts++ {
		h.Append(historyMsg(ts, ScopeChannel, 0, BroadcastID))
	}

	f := allFilter()
	f.Limit = 10
	got := h.Query(f)

	if len(got) != 10 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Timestamp != 41 || got[9].Timestamp != 50 {
		t.Fatalf("window = [%d, %d]", got[0].Timestamp, got[9].Timestamp)
	}
}

func TestHistoryQueryDefaultAndMaxLimit(t *testing.T) {
	h := NewHistory()
	for ts := int64(1); ts <= 300; ts++ {
		h.Append(historyMsg(ts, ScopeChannel, 0, BroadcastID))
	}

	if got := h.Query(allFilter()); len(got) != DefaultQueryLimit {
		t.Fatalf("default limit = %d", len(got))
	}

	f := allFilter()
	f.Limit = 500
	if got := h.Query(f); len(got) != MaxQueryLimit {
		t.Fatalf("clamped limit = %d", len(got))
	}
}

func TestHistorySinceIsInclusive(t *testing.T) {
	h := NewHistory()
	h.Append(historyMsg(100, ScopePrivate, 0, "!aabbccddee01"))
	h.Append(historyMsg(101, ScopePrivate, 0, "!aabbccddee01"))
	h.Append(historyMsg(102, ScopePrivate, 0, "!aabbccddee01"))

	since := int64(101)
	f := allFilter()
	f.Since = &since
	got := h.Query(f)

	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Timestamp != 101 {
		t.Fatalf("first = %d, the cursor timestamp itself must be included", got[0].Timestamp)
	}
}

func TestHistoryScopeFilters(t *testing.T) {
	h := NewHistory()
	h.Append(historyMsg(1, ScopeChannel, 2, BroadcastID))
	h.Append(historyMsg(2, ScopePrivate, 0, "!aabbccddee01"))
	h.Append(historyMsg(3, ScopeChannel, 4, BroadcastID))

	f := allFilter()
	f.IncludeBroadcast = false
	got := h.Query(f)
	if len(got) != 1 || got[0].Scope != ScopePrivate {
		t.Fatalf("dm only = %+v", got)
	}

	f = allFilter()
	f.IncludeDM = false
	got = h.Query(f)
	if len(got) != 2 {
		t.Fatalf("broadcast only len = %d", len(got))
	}

	ch := 4
	f = allFilter()
	f.Channel = &ch
	got = h.Query(f)
	if len(got) != 1 || got[0].Channel != 4 {
		t.Fatalf("channel filter = %+v", got)
	}
}

func TestHistoryPeerFilterIsCaseInsensitive(t *testing.T) {
	h := NewHistory()
	h.Append(historyMsg(1, ScopePrivate, 0, "!AABBccddee01"))
	h.Append(historyMsg(2, ScopePrivate, 0, "!aabbccddee02"))

	f := allFilter()
	f.PeerID = "!aabbccddee01"
	got := h.Query(f)
	if len(got) != 1 || got[0].Timestamp != 1 {
		t.Fatalf("peer filter = %+v", got)
	}
}

func TestHistoryEvictsOldestAtCapacity(t *testing.T) {
	h := NewHistory()

	// The first batch lands on a marker channel so eviction is observable.
	for ts := int64(1); ts <= 10; ts++ {
		h.Append(historyMsg(ts, ScopeChannel, 7, BroadcastID))
	}
	for ts := int64(11); ts <= MaxHistory+10; ts++ {
		h.Append(historyMsg(ts, ScopeChannel, 0, BroadcastID))
	}

	if h.Len() != MaxHistory {
		t.Fatalf("len = %d", h.Len())
	}

	marker := 7
	f := allFilter()
	f.Channel = &marker
	if got := h.Query(f); len(got) != 0 {
		t.Fatalf("oldest entries survived eviction: %+v", got)
	}
}
