package sync

import (
	"context"
	"errors"
	"time"

	"github.com/Martian-dev/watchlane/internal/model"
)

// Folder is one of the two mailbox folders a cycle reads.
type Folder string

const (
	FolderInbox Folder = "inbox"
	FolderSent  Folder = "sent"
)

// ErrUnauthorized is wrapped by page sources when the provider rejects the bearer token.
var ErrUnauthorized = errors.New("provider rejected credentials")

// RawMessage represents a provider message before normalization
type RawMessage struct {
	ID             string // provider message id (Graph: id, Gmail: id, IMAP: Message-Id)
	ConversationID string // provider conversation id
	Subject        *string
	From           string
	To             []string
	Body           string
	ReceivedAt     time.Time
}

// PageRequest asks for one page of messages received at or after Since
type PageRequest struct {
	AccessToken string
	Mailbox     string
	Folder      Folder
	Since       time.Time
	Cursor      string // empty for the first page
	PageSize    int
}

// Page is one provider response. An empty NextCursor ends pagination
type Page struct {
	Messages   []RawMessage
	NextCursor string
}

// PageSource interface for provider-agnostic paginated retrieval
type PageSource interface {
	ListPage(ctx context.Context, req PageRequest) (Page, error)
}

// Sources selects a page source by account provider
type Sources map[model.Provider]PageSource
