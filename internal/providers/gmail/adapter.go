package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/watchlane/internal/sync"
)

// labels maps sync folders to Gmail system labels
var labels = map[sync.Folder]string{
	sync.FolderInbox: "INBOX",
	sync.FolderSent:  "SENT",
}

// Adapter implements sync.PageSource for Gmail
type Adapter struct {
	// endpoint and transport are overridden in tests
	endpoint  string
	transport http.RoundTripper
}

// New creates a new Gmail adapter
func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	base := &http.Client{Transport: a.transport}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

// ListPage lists one page of message ids under the folder's label and fetches each message in full.
// The cursor is Gmail's page token.
func (a *Adapter) ListPage(ctx context.Context, req sync.PageRequest) (sync.Page, error) {
	label, ok := labels[req.Folder]
	if !ok {
		return sync.Page{}, fmt.Errorf("unknown folder %q", req.Folder)
	}

	svc, err := a.service(ctx, req.AccessToken)
	if err != nil {
		return sync.Page{}, err
	}

	call := svc.Users.Messages.List("me").
		LabelIds(label).
		IncludeSpamTrash(false).
		Q(fmt.Sprintf("after:%d", req.Since.Unix())).
		Context(ctx)
	if req.PageSize > 0 {
		call = call.MaxResults(int64(req.PageSize))
	}
	if req.Cursor != "" {
		call = call.PageToken(req.Cursor)
	}

	list, err := call.Do()
	if err != nil {
		return sync.Page{}, classify("list "+label, err)
	}

	page := sync.Page{NextCursor: list.NextPageToken}
	for _, ref := range list.Messages {
		m, err := svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return sync.Page{}, classify("get message "+ref.Id, err)
		}

		raw := normalize(m)
		// after: has second granularity
		if raw.ReceivedAt.Before(req.Since) {
			continue
		}
		page.Messages = append(page.Messages, raw)
	}
	return page, nil
}

func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w: %s", op, sync.ErrUnauthorized, gerr.Message)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// normalize converts a Gmail message to a sync.RawMessage
func normalize(m *gmail.Message) sync.RawMessage {
	raw := sync.RawMessage{
		ID:             m.Id,
		ConversationID: m.ThreadId,
		To:             []string{},
	}
	if m.InternalDate != 0 {
		raw.ReceivedAt = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload == nil {
		return raw
	}

	for _, kv := range m.Payload.Headers {
		switch strings.ToLower(kv.Name) {
		case "subject":
			subject := kv.Value
			raw.Subject = &subject
		case "from":
			raw.From = parseAddress(kv.Value)
		case "to":
			raw.To = splitAddrs(kv.Value)
		}
	}
	raw.Body = body(m.Payload)
	return raw
}

func parseAddress(s string) string {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return addr.Address
}

// splitAddrs parses a comma-separated address header
func splitAddrs(s string) []string {
	if s == "" {
		return []string{}
	}
	if list, err := mail.ParseAddressList(s); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, a.Address)
		}
		return out
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// body returns the first text/plain part, falling back to the first text/html part
func body(p *gmail.MessagePart) string {
	if s, ok := findPart(p, "text/plain"); ok {
		return s
	}
	s, _ := findPart(p, "text/html")
	return s
}

func findPart(p *gmail.MessagePart, mimeType string) (string, bool) {
	if p == nil {
		return "", false
	}
	if strings.EqualFold(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
		if s, err := decode(p.Body.Data); err == nil {
			return s, true
		}
	}
	for _, child := range p.Parts {
		if s, ok := findPart(child, mimeType); ok {
			return s, true
		}
	}
	return "", false
}

func decode(data string) (string, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
	}
	return string(b), err
}
