package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Martian-dev/watchlane/internal/model"
)

// Fetcher pages through the inbox and sent folders of one account.
type Fetcher struct {
	sources        Sources
	pageSize       int
	requestTimeout time.Duration
}

func NewFetcher(sources Sources, pageSize int, requestTimeout time.Duration) *Fetcher {
	return &Fetcher{
		sources:        sources,
		pageSize:       pageSize,
		requestTimeout: requestTimeout,
	}
}

// Fetch returns every message received at or after since in either folder, deduplicated by
// provider id. Any failed page aborts the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context, account model.EmailAccount, accessToken string, since time.Time) ([]RawMessage, error) {
	src, ok := f.sources[account.Provider]
	if !ok {
		return nil, newError(KindProvider, account.ID, "fetch", fmt.Errorf("no page source for provider %q", account.Provider))
	}

	folders := []Folder{FolderInbox, FolderSent}
	results := make([][]RawMessage, len(folders))

	g, gctx := errgroup.WithContext(ctx)
	for i, folder := range folders {
		g.Go(func() error {
			msgs, err := f.fetchFolder(gctx, src, account, accessToken, folder, since)
			if err != nil {
				return err
			}
			results[i] = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []RawMessage
	for _, msgs := range results {
		for _, m := range msgs {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *Fetcher) fetchFolder(ctx context.Context, src PageSource, account model.EmailAccount, accessToken string, folder Folder, since time.Time) ([]RawMessage, error) {
	var (
		out    []RawMessage
		cursor string
		seen   = make(map[string]struct{})
	)

	for {
		page, err := f.page(ctx, src, PageRequest{
			AccessToken: accessToken,
			Mailbox:     account.EmailAddress,
			Folder:      folder,
			Since:       since,
			Cursor:      cursor,
			PageSize:    f.pageSize,
		})
		if err != nil {
			kind := KindProvider
			if errors.Is(err, ErrUnauthorized) {
				kind = KindCredential
			}
			return nil, newError(kind, account.ID, fmt.Sprintf("list %s", folder), err)
		}

		out = append(out, page.Messages...)
		if page.NextCursor == "" {
			return out, nil
		}

		// A provider handing back a cursor it already gave would loop forever.
		if _, dup := seen[page.NextCursor]; dup {
			return nil, newError(KindProvider, account.ID, fmt.Sprintf("list %s", folder),
				errors.New("provider repeated a continuation cursor"))
		}
		seen[page.NextCursor] = struct{}{}
		cursor = page.NextCursor
	}
}

func (f *Fetcher) page(ctx context.Context, src PageSource, req PageRequest) (Page, error) {
	if f.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.requestTimeout)
		defer cancel()
	}
	return src.ListPage(ctx, req)
}
