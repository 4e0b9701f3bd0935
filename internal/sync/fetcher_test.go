package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	stdsync "sync"
	"testing"
	"time"

	"github.com/Martian-dev/watchlane/internal/model"
)

// fakeSource serves fixed folder contents per mailbox, filtered by Since and paged by offset.
type fakeSource struct {
	mu       stdsync.Mutex
	folders  map[string]map[Folder][]RawMessage
	fail     map[string]error
	repeat   bool
	requests []PageRequest
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		folders: make(map[string]map[Folder][]RawMessage),
		fail:    make(map[string]error),
	}
}

func (f *fakeSource) add(mailbox string, folder Folder, msgs ...RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.folders[mailbox] == nil {
		f.folders[mailbox] = make(map[Folder][]RawMessage)
	}
	f.folders[mailbox][folder] = append(f.folders[mailbox][folder], msgs...)
}

func (f *fakeSource) ListPage(ctx context.Context, req PageRequest) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	if err := f.fail[req.Mailbox]; err != nil {
		return Page{}, err
	}

	var due []RawMessage
	for _, m := range f.folders[req.Mailbox][req.Folder] {
		if !m.ReceivedAt.Before(req.Since) {
			due = append(due, m)
		}
	}

	off := 0
	if req.Cursor != "" {
		off, _ = strconv.Atoi(req.Cursor)
	}
	size := req.PageSize
	if size <= 0 {
		size = len(due)
	}
	end := min(off+size, len(due))

	page := Page{Messages: due[off:end]}
	if end < len(due) {
		page.NextCursor = strconv.Itoa(end)
	}
	if f.repeat && req.Cursor != "" {
		page.NextCursor = req.Cursor
	}
	return page, nil
}

func raw(id, conv, from string, at time.Time) RawMessage {
	subject := "Subject " + conv
	return RawMessage{
		ID:             id,
		ConversationID: conv,
		Subject:        &subject,
		From:           from,
		To:             []string{"someone@example.com"},
		Body:           "body of " + id,
		ReceivedAt:     at,
	}
}

func TestFetcherPaginatesAndDedupes(t *testing.T) {
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	src := newFakeSource()
	for i := 0; i < 5; i++ {
		src.add("rep@acme.test", FolderInbox, raw(fmt.Sprintf("in-%d", i), "c1", "customer@example.com", base.Add(time.Duration(i)*time.Minute)))
	}
	src.add("rep@acme.test", FolderSent,
		raw("out-1", "c1", "rep@acme.test", base.Add(10*time.Minute)),
		raw("in-4", "c1", "customer@example.com", base.Add(4*time.Minute)),
	)

	f := NewFetcher(Sources{model.ProviderMicrosoft: src}, 2, time.Second)
	got, err := f.Fetch(context.Background(), model.EmailAccount{
		ID:           "acct",
		Provider:     model.ProviderMicrosoft,
		EmailAddress: "rep@acme.test",
	}, "tok", base)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}

	want := []string{"in-0", "in-1", "in-2", "in-3", "in-4", "out-1"}
	if len(got) != len(want) {
		t.Fatalf("Fetch() returned %d messages, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("message %d = %s, want %s", i, got[i].ID, id)
		}
	}

	inboxPages := 0
	for _, req := range src.requests {
		if req.AccessToken != "tok" {
			t.Errorf("request carried token %q", req.AccessToken)
		}
		if req.Folder == FolderInbox {
			inboxPages++
		}
	}
	if inboxPages != 3 {
		t.Errorf("inbox pages requested = %d, want 3", inboxPages)
	}
}

func TestFetcherSince(t *testing.T) {
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	src := newFakeSource()
	src.add("rep@acme.test", FolderInbox,
		raw("old", "c1", "customer@example.com", base.Add(-time.Hour)),
		raw("new", "c1", "customer@example.com", base.Add(time.Hour)),
	)

	f := NewFetcher(Sources{model.ProviderGoogle: src}, 10, 0)
	got, err := f.Fetch(context.Background(), model.EmailAccount{Provider: model.ProviderGoogle, EmailAddress: "rep@acme.test"}, "tok", base)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Errorf("Fetch() = %+v, want only the message after since", got)
	}
}

func TestFetcherErrors(t *testing.T) {
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		provider model.Provider
		setup    func(*fakeSource)
		wantKind Kind
	}{
		{
			name:     "unauthorized maps to credential",
			provider: model.ProviderMicrosoft,
			setup: func(s *fakeSource) {
				s.fail["rep@acme.test"] = fmt.Errorf("graph: %w", ErrUnauthorized)
			},
			wantKind: KindCredential,
		},
		{
			name:     "server error maps to provider",
			provider: model.ProviderMicrosoft,
			setup: func(s *fakeSource) {
				s.fail["rep@acme.test"] = errors.New("503 service unavailable")
			},
			wantKind: KindProvider,
		},
		{
			name:     "repeated cursor",
			provider: model.ProviderMicrosoft,
			setup: func(s *fakeSource) {
				for i := 0; i < 3; i++ {
					s.add("rep@acme.test", FolderSent, raw(fmt.Sprintf("m%d", i), "c", "rep@acme.test", base))
				}
				s.repeat = true
			},
			wantKind: KindProvider,
		},
		{
			name:     "no source for provider",
			provider: model.ProviderIMAP,
			setup:    func(*fakeSource) {},
			wantKind: KindProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			tt.setup(src)
			f := NewFetcher(Sources{model.ProviderMicrosoft: src}, 1, time.Second)

			got, err := f.Fetch(context.Background(), model.EmailAccount{
				ID:           "acct",
				Provider:     tt.provider,
				EmailAddress: "rep@acme.test",
			}, "tok", base)
			if err == nil {
				t.Fatalf("Fetch() = %d messages, want error", len(got))
			}
			if got != nil {
				t.Errorf("Fetch() returned partial results on error")
			}
			if k := KindOf(err); k != tt.wantKind {
				t.Errorf("KindOf(%v) = %q, want %q", err, k, tt.wantKind)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.FixedZone("CEST", 2*3600))

	tests := []struct {
		name    string
		raw     RawMessage
		want    model.Direction
		wantErr bool
	}{
		{
			name: "foreign sender is inbound",
			raw:  raw("m1", "c1", "customer@example.com", at),
			want: model.DirectionInbound,
		},
		{
			name: "own address is outbound",
			raw:  raw("m2", "c1", "rep@acme.test", at),
			want: model.DirectionOutbound,
		},
		{
			name: "case and whitespace ignored",
			raw:  raw("m3", "c1", "  Rep@ACME.test ", at),
			want: model.DirectionOutbound,
		},
		{
			name:    "missing sender",
			raw:     raw("m4", "c1", "", at),
			wantErr: true,
		},
		{
			name:    "missing conversation",
			raw:     raw("m5", "", "customer@example.com", at),
			wantErr: true,
		},
		{
			name:    "missing timestamp",
			raw:     raw("m6", "c1", "customer@example.com", time.Time{}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw, "rep@acme.test")
			if tt.wantErr {
				if KindOf(err) != KindMalformed {
					t.Fatalf("Normalize() error = %v, want malformed", err)
				}
				if !errors.Is(err, errMalformed) {
					t.Errorf("error does not wrap errMalformed")
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error: %v", err)
			}
			if got.Direction != tt.want {
				t.Errorf("Direction = %s, want %s", got.Direction, tt.want)
			}
			if got.Timestamp.Location() != time.UTC || !got.Timestamp.Equal(at) {
				t.Errorf("Timestamp = %v, want %v in UTC", got.Timestamp, at)
			}
		})
	}
}
