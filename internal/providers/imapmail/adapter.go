// Package imapmail reads Microsoft 365 mailboxes over IMAP with an OAuth bearer token.
package imapmail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"

	"github.com/Martian-dev/watchlane/internal/config"
	"github.com/Martian-dev/watchlane/internal/sync"
)

// Client is the subset of *imapclient.Client the adapter uses
type Client interface {
	SupportAuth(mech string) (bool, error)
	Authenticate(auth sasl.Client) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
	Terminate() error
}

// Dialer opens an unauthenticated connection
type Dialer func(addr string) (Client, error)

func dialTLS(addr string) (Client, error) {
	c, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, err
	}
	c.Timeout = 30 * time.Second
	return c, nil
}

// Adapter implements sync.PageSource over IMAP
type Adapter struct {
	Dial    Dialer
	addr    string
	folders map[sync.Folder]string
}

func New(cfg config.IMAPConfig) *Adapter {
	sent := cfg.SentFolder
	if sent == "" {
		sent = "Sent Items"
	}
	return &Adapter{
		Dial: dialTLS,
		addr: cfg.Addr,
		folders: map[sync.Folder]string{
			sync.FolderInbox: "INBOX",
			sync.FolderSent:  sent,
		},
	}
}

// ListPage searches the folder for messages since the requested day and fetches one chunk of UIDs.
// The cursor is the offset of the next chunk in the ascending UID list.
func (a *Adapter) ListPage(ctx context.Context, req sync.PageRequest) (sync.Page, error) {
	mailbox, ok := a.folders[req.Folder]
	if !ok {
		return sync.Page{}, fmt.Errorf("unknown folder %q", req.Folder)
	}

	offset := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil || n < 0 {
			return sync.Page{}, fmt.Errorf("invalid cursor %q", req.Cursor)
		}
		offset = n
	}

	c, err := a.Dial(a.addr)
	if err != nil {
		return sync.Page{}, fmt.Errorf("IMAP connection error: %w", err)
	}
	defer func() { _ = c.Logout() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Terminate()
		case <-done:
		}
	}()

	if err := c.Authenticate(saslClient(c, req.Mailbox, req.AccessToken)); err != nil {
		return sync.Page{}, fmt.Errorf("%w: %v", sync.ErrUnauthorized, err)
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return sync.Page{}, fmt.Errorf("select %s: %w", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = req.Since
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return sync.Page{}, fmt.Errorf("search %s: %w", mailbox, err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	size := req.PageSize
	if size <= 0 {
		size = len(uids)
	}
	if offset >= len(uids) {
		return sync.Page{}, nil
	}
	end := min(offset+size, len(uids))
	chunk := uids[offset:end]

	page := sync.Page{}
	if end < len(uids) {
		page.NextCursor = strconv.Itoa(end)
	}

	msgs, err := fetch(c, chunk)
	if err != nil {
		return sync.Page{}, fmt.Errorf("fetch %s: %w", mailbox, err)
	}
	for _, m := range msgs {
		raw, err := parse(m)
		if err != nil {
			// Unparseable mail surfaces as a malformed message downstream.
			raw = sync.RawMessage{ID: fmt.Sprintf("%s/%d", mailbox, m.Uid), ReceivedAt: m.InternalDate.UTC()}
		}
		if raw.ID == "" {
			raw.ID = fmt.Sprintf("%s/%d", mailbox, m.Uid)
			if raw.From != "" && raw.ConversationID == "" {
				raw.ConversationID = raw.ID
			}
		}
		// SEARCH SINCE has day granularity
		if raw.ReceivedAt.Before(req.Since) {
			continue
		}
		page.Messages = append(page.Messages, raw)
	}
	return page, nil
}

func saslClient(c Client, username, token string) sasl.Client {
	if ok, _ := c.SupportAuth(sasl.OAuthBearer); ok {
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{Username: username, Token: token})
	}
	return &xoauth2Client{username: username, token: token}
}

// xoauth2Client implements the XOAUTH2 mechanism Microsoft 365 advertises
type xoauth2Client struct {
	username, token string
}

func (x *xoauth2Client) Start() (string, []byte, error) {
	return "XOAUTH2", []byte("user=" + x.username + "\x01auth=Bearer " + x.token + "\x01\x01"), nil
}

// Next answers the server's error challenge with an empty response so it can send the final NO.
func (x *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}

func fetch(c Client, uids []uint32) ([]*imap.Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var out []*imap.Message
	for m := range messages {
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Uid < out[j].Uid })
	return out, nil
}

func parse(m *imap.Message) (sync.RawMessage, error) {
	var r io.Reader
	for _, lit := range m.Body {
		r = lit
		break
	}
	if r == nil {
		return sync.RawMessage{}, errors.New("no body in fetch response")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return sync.RawMessage{}, err
	}
	defer mr.Close()

	raw, err := fromHeader(mr.Header)
	if err != nil {
		return sync.RawMessage{}, err
	}
	raw.ReceivedAt = m.InternalDate.UTC()
	if raw.ReceivedAt.IsZero() {
		if d, err := mr.Header.Date(); err == nil {
			raw.ReceivedAt = d.UTC()
		}
	}

	var html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return raw, nil
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := h.ContentType()
		if err != nil {
			if h.Get("Content-Type") != "" {
				continue
			}
			contentType = "text/plain"
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if raw.Body == "" {
				raw.Body = string(b)
			}
		case "text/html":
			if html == "" {
				html = string(b)
			}
		}
	}
	if raw.Body == "" {
		raw.Body = html
	}
	return raw, nil
}

// fromHeader resolves ids and addresses. The conversation is the root of References,
// else In-Reply-To, else the message itself.
func fromHeader(h mail.Header) (sync.RawMessage, error) {
	raw := sync.RawMessage{To: []string{}}

	id, err := h.MessageID()
	if err != nil {
		return raw, fmt.Errorf("message-id: %w", err)
	}
	raw.ID = id

	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		raw.ConversationID = refs[0]
	} else if irt, err := h.MsgIDList("In-Reply-To"); err == nil && len(irt) > 0 {
		raw.ConversationID = irt[0]
	} else {
		raw.ConversationID = id
	}

	if subject, err := h.Subject(); err == nil && h.Has("Subject") {
		raw.Subject = &subject
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		raw.From = from[0].Address
	} else {
		raw.From = strings.TrimSpace(h.Get("From"))
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			raw.To = append(raw.To, addr.Address)
		}
	}
	return raw, nil
}
