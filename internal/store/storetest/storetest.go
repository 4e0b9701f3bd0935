// Package storetest opens throwaway SQLite stores for tests in other packages.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Martian-dev/watchlane/internal/config"
	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/store"
)

// New opens a fresh pure-Go SQLite database under t.TempDir and closes it on cleanup.
func New(t testing.TB) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "watchlane.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// Fixture is a user owning one organization.
type Fixture struct {
	User model.User
	Org  model.Membership
}

// Seed creates a user and an organization it owns.
func Seed(t testing.TB, st *store.Store, email, orgName string) Fixture {
	t.Helper()
	ctx := context.Background()

	name := email
	u, err := st.UpsertUser(ctx, email, &name)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	m, err := st.CreateOrganization(ctx, orgName, u.ID)
	if err != nil {
		t.Fatalf("seed organization: %v", err)
	}
	return Fixture{User: u, Org: m}
}

// Account connects a mailbox for the fixture's user. The stored tokens are plain placeholders.
func (f Fixture) Account(t testing.TB, st *store.Store, provider model.Provider, address string, expiresAt time.Time) model.EmailAccount {
	t.Helper()

	a, err := st.UpsertAccount(context.Background(), model.EmailAccount{
		UserID:            f.User.ID,
		OrganizationID:    f.Org.OrganizationID,
		Provider:          provider,
		ProviderAccountID: address,
		EmailAddress:      address,
		AccessToken:       "access",
		RefreshToken:      "refresh",
		TokenExpiresAt:    &expiresAt,
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return a
}
