// ABOUTME: Client-side chat state reconciliation as a pure reducer
// ABOUTME: Merges history pages and live pushes into one ordered, deduplicated view

package client

import (
	"github.com/samber/lo"

	"github.com/strandchat/strand/internal/router"
)

// Cursor tracks backward pagination for the selected conversation.
type Cursor struct {
	CurrentPage  int
	PageSize     int
	TotalCount   int
	HasMore      bool
	LoadingOlder bool
}

// HistoryPage is a fetched slice of history, ascending.
type HistoryPage struct {
	Messages    []router.Delivered
	HasMore     bool
	CurrentPage int
	PageSize    int
	TotalCount  int
}

// State is the view of one selected conversation. Values are treated as
// immutable: every transition returns a fresh State and never mutates the
// slices of its input, so each step is independently testable and safe to
// share with a renderer.
type State struct {
	Conversation string
	Messages     []router.Delivered // ascending, id-deduplicated
	Cursor       Cursor

	// NewMessage is set when a live push appended to the tail; the view
	// scrolls to bottom exactly when this is set.
	NewMessage bool

	// AnchorID names the message that must stay visually fixed after an
	// older page was prepended (the previously topmost message). Empty
	// when no anchor applies.
	AnchorID string
}

// NewState returns the empty state for a freshly selected conversation.
func NewState(conversation string) State {
	return State{
		Conversation: conversation,
		Messages:     []router.Delivered{},
		Cursor:       Cursor{CurrentPage: 1, HasMore: true},
	}
}

// ApplyInitialLoad replaces the sequence with page 1 of history.
func (s State) ApplyInitialLoad(page HistoryPage) State {
	next := s
	next.Messages = append([]router.Delivered{}, page.Messages...)
	next.Cursor = Cursor{
		CurrentPage: page.CurrentPage,
		PageSize:    page.PageSize,
		TotalCount:  page.TotalCount,
		HasMore:     page.HasMore,
	}
	next.NewMessage = false
	next.AnchorID = ""
	return next
}

// ApplyPush appends one live-delivered message unless its id is already
// present, and flags the new-message scroll behavior.
func (s State) ApplyPush(msg router.Delivered) State {
	if s.containsID(msg.ID) {
		return s
	}

	next := s
	next.Messages = append(append([]router.Delivered{}, s.Messages...), msg)
	next.Cursor.TotalCount++
	next.NewMessage = true
	next.AnchorID = ""
	return next
}

// BeginLoadOlder arms a backward-pagination request. The second return is
// false when a request is already in flight or no older messages remain;
// callers must not fetch in that case.
func (s State) BeginLoadOlder() (State, bool) {
	if s.Cursor.LoadingOlder || !s.Cursor.HasMore {
		return s, false
	}
	next := s
	next.Cursor.LoadingOlder = true
	return next, true
}

// ApplyOlderPage prepends the next older page. The previously topmost
// message becomes the scroll anchor so the viewport does not jump.
func (s State) ApplyOlderPage(page HistoryPage) State {
	next := s

	anchor := ""
	if len(s.Messages) > 0 {
		anchor = s.Messages[0].ID
	}

	older := lo.Filter(page.Messages, func(m router.Delivered, _ int) bool {
		return !s.containsID(m.ID)
	})
	next.Messages = append(append([]router.Delivered{}, older...), s.Messages...)

	next.Cursor = Cursor{
		CurrentPage:  page.CurrentPage,
		PageSize:     page.PageSize,
		TotalCount:   page.TotalCount,
		HasMore:      page.HasMore,
		LoadingOlder: false,
	}
	next.NewMessage = false
	next.AnchorID = anchor
	return next
}

// FailLoadOlder resets the in-flight flag after a failed fetch, leaving
// the existing sequence untouched.
func (s State) FailLoadOlder() State {
	next := s
	next.Cursor.LoadingOlder = false
	return next
}

// Reconcile merges a freshly fetched newest page after a transport
// reconnect. Messages missed while disconnected are appended in order;
// live push offers no replay, so this pull is the only recovery path.
func (s State) Reconcile(page HistoryPage) State {
	next := s
	merged := append([]router.Delivered{}, s.Messages...)
	for _, m := range page.Messages {
		if !s.containsID(m.ID) {
			merged = append(merged, m)
		}
	}
	next.Messages = merged
	next.Cursor.TotalCount = page.TotalCount
	next.Cursor.HasMore = page.HasMore || next.Cursor.HasMore
	next.NewMessage = len(merged) > len(s.Messages)
	next.AnchorID = ""
	return next
}

func (s State) containsID(id string) bool {
	return lo.ContainsBy(s.Messages, func(m router.Delivered) bool {
		return m.ID == id
	})
}
