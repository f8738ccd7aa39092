// ABOUTME: Backward pagination over a conversation's message store
// ABOUTME: Page 1 is the newest block; every page is returned in ascending order

package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strandchat/strand/internal/store"
)

// MessageSource provides the store reads pagination needs.
type MessageSource interface {
	CountMessages(ctx context.Context, conversationID string) (int, error)
	MessagesPage(ctx context.Context, conversationID string, limit, offset int) ([]store.Message, error)
}

// Page is one backward-pagination slice of a conversation. Messages are in
// ascending chronological order; HasMore reports whether older messages
// remain beyond this page. Pages are defined relative to "most recent at
// time of query", so concurrent appends may shift page boundaries between
// calls; walking a static store reconstructs the full history exactly.
type Page struct {
	Messages    []store.Message
	HasMore     bool
	CurrentPage int
	PageSize    int
	TotalCount  int
}

// Service serves paginated history slices. Queries run concurrently with
// appends and live pushes; the only serialization is the store's
// per-conversation append lock.
type Service struct {
	source          MessageSource
	defaultPageSize int
	maxPageSize     int
	logger          *slog.Logger
}

// NewService creates a pagination service with the given page size bounds.
func NewService(source MessageSource, defaultPageSize, maxPageSize int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		source:          source,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		logger:          logger.With("component", "history"),
	}
}

// Page returns the pageNumber-th most-recent block of pageSize messages.
// Out-of-range values clamp: page numbers below 1 become 1, sizes below 1
// take the default, sizes above the maximum take the maximum.
func (s *Service) Page(ctx context.Context, conversationID string, pageNumber, pageSize int) (*Page, error) {
	if pageNumber < 1 {
		pageNumber = 1
	}
	if pageSize < 1 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}

	total, err := s.source.CountMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	skip := (pageNumber - 1) * pageSize
	messages, err := s.source.MessagesPage(ctx, conversationID, pageSize, skip)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}

	return &Page{
		Messages:    messages,
		HasMore:     skip+len(messages) < total,
		CurrentPage: pageNumber,
		PageSize:    pageSize,
		TotalCount:  total,
	}, nil
}
