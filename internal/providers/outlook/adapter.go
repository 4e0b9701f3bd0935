package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/Martian-dev/watchlane/internal/sync"
)

var selectFields = []string{"id", "conversationId", "subject", "from", "toRecipients", "receivedDateTime", "body"}

// wellKnownFolders maps sync folders to Graph well-known folder names
var wellKnownFolders = map[sync.Folder]string{
	sync.FolderInbox: "inbox",
	sync.FolderSent:  "sentitems",
}

// Adapter implements sync.PageSource for Outlook/Microsoft Graph
type Adapter struct{}

// New creates a new Outlook adapter
func New() *Adapter {
	return &Adapter{}
}

// ListPage lists one page of a mail folder, oldest first. The cursor is Graph's @odata.nextLink.
func (a *Adapter) ListPage(ctx context.Context, req sync.PageRequest) (sync.Page, error) {
	folder, ok := wellKnownFolders[req.Folder]
	if !ok {
		return sync.Page{}, fmt.Errorf("unknown folder %q", req.Folder)
	}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(&staticTokenCredential{token: req.AccessToken}, []string{})
	if err != nil {
		return sync.Page{}, fmt.Errorf("failed to create Graph client: %w", err)
	}

	builder := client.Users().ByUserId(req.Mailbox).MailFolders().ByMailFolderId(folder).Messages()

	var result models.MessageCollectionResponseable
	if req.Cursor != "" {
		result, err = builder.WithUrl(req.Cursor).Get(ctx, nil)
	} else {
		result, err = builder.Get(ctx, &users.ItemMailFoldersItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMailFoldersItemMessagesRequestBuilderGetQueryParameters{
				Filter:  filterSince(req.Since),
				Select:  selectFields,
				Orderby: []string{"receivedDateTime asc"},
				Top:     Int32Ptr(int32(req.PageSize)),
			},
		})
	}
	if err != nil {
		return sync.Page{}, classify(folder, err)
	}

	page := sync.Page{}
	for _, msg := range result.GetValue() {
		page.Messages = append(page.Messages, normalizeOutlook(msg))
	}
	if next := result.GetOdataNextLink(); next != nil {
		page.NextCursor = *next
	}
	return page, nil
}

func filterSince(since time.Time) *string {
	f := "receivedDateTime ge " + since.UTC().Format(time.RFC3339)
	return &f
}

// classify marks rejected tokens so the sync layer reports a credential failure
func classify(folder string, err error) error {
	var odataErr *odataerrors.ODataError
	if errors.As(err, &odataErr) {
		msg := odataErr.Error()
		if e := odataErr.GetErrorEscaped(); e != nil && e.GetMessage() != nil {
			msg = *e.GetMessage()
		}
		if odataErr.ResponseStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("list %s: %w: %s", folder, sync.ErrUnauthorized, msg)
		}
		return fmt.Errorf("list %s: graph status %d: %s", folder, odataErr.ResponseStatusCode, msg)
	}
	return fmt.Errorf("failed to list %s messages: %w", folder, err)
}

// normalizeOutlook converts an Outlook message to a sync.RawMessage
func normalizeOutlook(m models.Messageable) sync.RawMessage {
	var raw sync.RawMessage

	if id := m.GetId(); id != nil {
		raw.ID = *id
	}
	if convID := m.GetConversationId(); convID != nil {
		raw.ConversationID = *convID
	}
	raw.Subject = m.GetSubject()

	if from := m.GetFrom(); from != nil {
		raw.From = address(from)
	}
	raw.To = extractAddresses(m.GetToRecipients())

	if body := m.GetBody(); body != nil && body.GetContent() != nil {
		raw.Body = *body.GetContent()
	}
	if rcvd := m.GetReceivedDateTime(); rcvd != nil {
		raw.ReceivedAt = rcvd.UTC()
	}
	return raw
}

func address(r models.Recipientable) string {
	if emailAddr := r.GetEmailAddress(); emailAddr != nil {
		if addr := emailAddr.GetAddress(); addr != nil {
			return strings.TrimSpace(*addr)
		}
	}
	return ""
}

// extractAddresses extracts email addresses from recipients
func extractAddresses(recipients []models.Recipientable) []string {
	addrs := []string{}
	for _, r := range recipients {
		if addr := address(r); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// staticTokenCredential implements Azure credential interface
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}

// Int32Ptr returns a pointer to an int32
func Int32Ptr(i int32) *int32 {
	return &i
}
