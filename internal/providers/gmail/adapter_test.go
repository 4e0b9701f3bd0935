package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/gmail/v1"

	"github.com/Martian-dev/watchlane/internal/sync"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func TestNormalize(t *testing.T) {
	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	m := &gmail.Message{
		Id:           "m1",
		ThreadId:     "t1",
		InternalDate: at.UnixMilli(),
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Quote request"},
				{Name: "From", Value: "Jane Customer <Jane@Example.com>"},
				{Name: "To", Value: "Rep <rep@acme.test>, other@acme.test"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>hi</p>")}},
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("hi")}},
			},
		},
	}

	got := normalize(m)
	if got.ID != "m1" || got.ConversationID != "t1" {
		t.Errorf("ids = %q / %q", got.ID, got.ConversationID)
	}
	if got.Subject == nil || *got.Subject != "Quote request" {
		t.Errorf("Subject = %v", got.Subject)
	}
	if got.From != "Jane@Example.com" {
		t.Errorf("From = %q", got.From)
	}
	if strings.Join(got.To, ",") != "rep@acme.test,other@acme.test" {
		t.Errorf("To = %v", got.To)
	}
	if got.Body != "hi" {
		t.Errorf("Body = %q, want the text/plain part", got.Body)
	}
	if !got.ReceivedAt.Equal(at) {
		t.Errorf("ReceivedAt = %v", got.ReceivedAt)
	}
}

func TestNormalizeHTMLOnly(t *testing.T) {
	got := normalize(&gmail.Message{
		Id: "m2",
		Payload: &gmail.MessagePart{
			MimeType: "text/html",
			Body:     &gmail.MessagePartBody{Data: b64("<b>x</b>")},
		},
	})
	if got.Body != "<b>x</b>" {
		t.Errorf("Body = %q", got.Body)
	}
	if got.Subject != nil || len(got.To) != 0 || !got.ReceivedAt.IsZero() {
		t.Errorf("normalize() = %+v", got)
	}
}

func newServer(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Adapter{endpoint: srv.URL + "/", transport: srv.Client().Transport}
}

func TestListPage(t *testing.T) {
	since := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	var listQuery string

	a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/gmail/v1/users/me/messages":
			listQuery = r.URL.RawQuery
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages":      []map[string]string{{"id": "new", "threadId": "t1"}, {"id": "early", "threadId": "t1"}},
				"nextPageToken": "p2",
			})
		case strings.HasPrefix(r.URL.Path, "/gmail/v1/users/me/messages/"):
			id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
			at := since.Add(time.Minute)
			if id == "early" {
				at = since.Add(-500 * time.Millisecond)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":           id,
				"threadId":     "t1",
				"internalDate": strconv.FormatInt(at.UnixMilli(), 10),
				"payload": map[string]any{
					"mimeType": "text/plain",
					"headers":  []map[string]string{{"name": "From", "value": "c@example.com"}},
					"body":     map[string]string{"data": b64("body")},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})

	page, err := a.ListPage(context.Background(), sync.PageRequest{
		AccessToken: "tok",
		Folder:      sync.FolderSent,
		Since:       since,
		PageSize:    25,
		Cursor:      "p1",
	})
	if err != nil {
		t.Fatalf("ListPage() error: %v", err)
	}
	if page.NextCursor != "p2" {
		t.Errorf("NextCursor = %q", page.NextCursor)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "new" || page.Messages[0].Body != "body" {
		t.Errorf("Messages = %+v, want only the message after since", page.Messages)
	}
	for _, want := range []string{"labelIds=SENT", "pageToken=p1", "maxResults=25", "after%3A1746090000"} {
		if !strings.Contains(listQuery, want) {
			t.Errorf("list query %q missing %q", listQuery, want)
		}
	}
}

func TestListPageUnauthorized(t *testing.T) {
	a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
	})

	_, err := a.ListPage(context.Background(), sync.PageRequest{AccessToken: "tok", Folder: sync.FolderInbox})
	if !errors.Is(err, sync.ErrUnauthorized) {
		t.Errorf("ListPage() error = %v, want ErrUnauthorized", err)
	}
}

func TestListPageServerError(t *testing.T) {
	a := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := a.ListPage(context.Background(), sync.PageRequest{AccessToken: "tok", Folder: sync.FolderInbox})
	if err == nil || errors.Is(err, sync.ErrUnauthorized) {
		t.Errorf("ListPage() error = %v, want a non-credential failure", err)
	}
}
