package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/store"
	"github.com/Martian-dev/watchlane/internal/store/storetest"
)

// seedThread stores a thread with the given first inbound and optional first outbound time.
func seedThread(t *testing.T, st *store.Store, acct model.EmailAccount, conv string, in time.Time, out *time.Time) string {
	t.Helper()
	ctx := context.Background()

	id, _, err := st.UpsertThread(ctx, store.ThreadKey{
		OrganizationID:   acct.OrganizationID,
		EmailAccountID:   acct.ID,
		ExternalThreadID: conv,
	}, ptr("Subject "+conv), in)
	if err != nil {
		t.Fatalf("UpsertThread() error: %v", err)
	}

	cov := model.Coverage{FirstInboundAt: &in, LastInboundAt: &in, Status: model.CoverageUncovered}
	if out != nil {
		cov.FirstOutboundAt, cov.LastOutboundAt, cov.Status = out, out, model.CoverageCovered
	}
	if err := st.UpdateThreadCoverage(ctx, id, cov); err != nil {
		t.Fatalf("UpdateThreadCoverage() error: %v", err)
	}
	return id
}

func TestEngineCompute(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	alice := storetest.Seed(t, st, "alice@acme.test", "Acme")
	if err := st.UpsertSettings(ctx, model.Settings{OrganizationID: alice.Org.OrganizationID, SLAMinutes: ptr(60)}); err != nil {
		t.Fatalf("UpsertSettings() error: %v", err)
	}
	aliceAcct := alice.Account(t, st, model.ProviderMicrosoft, "alice@acme.test", now.Add(time.Hour))

	bobUser, err := st.UpsertUser(ctx, "bob@acme.test", ptr("Bob"))
	if err != nil {
		t.Fatalf("UpsertUser() error: %v", err)
	}
	if err := st.AddMember(ctx, alice.Org.OrganizationID, bobUser.ID, model.RoleMember); err != nil {
		t.Fatalf("AddMember() error: %v", err)
	}
	bob := storetest.Fixture{User: bobUser, Org: alice.Org}
	bobAcct := bob.Account(t, st, model.ProviderGoogle, "bob@acme.test", now.Add(time.Hour))

	seedThread(t, st, aliceAcct, "fast", now.Add(-3*time.Hour), ptr(now.Add(-150*time.Minute)))
	seedThread(t, st, aliceAcct, "slow", now.Add(-4*time.Hour), ptr(now.Add(-150*time.Minute)))
	seedThread(t, st, bobAcct, "pending", now.Add(-50*time.Minute), nil)
	seedThread(t, st, bobAcct, "ancient", now.Add(-30*24*time.Hour), nil)

	engine := NewEngine(st, zap.NewNop())
	engine.now = func() time.Time { return now }
	r, err := ParseRange("", "", now)
	if err != nil {
		t.Fatalf("ParseRange() error: %v", err)
	}

	tests := []struct {
		name        string
		repID       string
		wantTotal   int
		wantPercent float64
		wantAtRisk  int
	}{
		{name: "whole organization", wantTotal: 3, wantPercent: 33.33, wantAtRisk: 1},
		{name: "one representative", repID: alice.User.ID, wantTotal: 2, wantPercent: 50},
		{name: "other representative", repID: bobUser.ID, wantTotal: 1, wantPercent: 0, wantAtRisk: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := engine.Compute(ctx, alice.Org.OrganizationID, r, tt.repID)
			if err != nil {
				t.Fatalf("Compute() error: %v", err)
			}
			if m.SLATarget != 60 || m.TotalInbound != tt.wantTotal || m.CompliancePercent != tt.wantPercent || m.AtRisk != tt.wantAtRisk {
				t.Errorf("Compute() = %+v", m)
			}
		})
	}

	list, err := engine.ComputeForUser(ctx, alice.User.ID, "", r, "")
	if err != nil {
		t.Fatalf("ComputeForUser() error: %v", err)
	}
	if len(list) != 1 || list[0].OrganizationID != alice.Org.OrganizationID || list[0].OrganizationName != "Acme" {
		t.Errorf("ComputeForUser() = %+v", list)
	}

	s, err := engine.Summary(ctx, alice.Org.OrganizationID)
	if err != nil {
		t.Fatalf("Summary() error: %v", err)
	}
	if s.CoveredCount != 2 || s.UncoveredCount != 2 {
		t.Errorf("Summary() counts = %+v", s)
	}
	// fast answered after 30 minutes, slow after 90.
	if s.AvgResponseTimeMinutes != 60 {
		t.Errorf("AvgResponseTimeMinutes = %d, want 60", s.AvgResponseTimeMinutes)
	}
	if s.OldestUncoveredMinutes < 30*24*60 {
		t.Errorf("OldestUncoveredMinutes = %d", s.OldestUncoveredMinutes)
	}
}

func TestEngineAccess(t *testing.T) {
	ctx := context.Background()
	st := storetest.New(t)
	engine := NewEngine(st, zap.NewNop())
	r := Range{Start: now.Add(-time.Hour), End: now}

	alice := storetest.Seed(t, st, "alice@acme.test", "Acme")
	other := storetest.Seed(t, st, "eve@other.test", "Other")

	if _, err := engine.ComputeForUser(ctx, alice.User.ID, other.Org.OrganizationID, r, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("ComputeForUser(foreign org) error = %v, want ErrForbidden", err)
	}
	if _, err := engine.Compute(ctx, alice.Org.OrganizationID, Range{Start: now, End: now.Add(-time.Hour)}, ""); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("Compute(reversed range) error = %v, want ErrInvalidRange", err)
	}

	second, err := st.CreateOrganization(ctx, "Acme Labs", alice.User.ID)
	if err != nil {
		t.Fatalf("CreateOrganization() error: %v", err)
	}

	list, err := engine.ComputeForUser(ctx, alice.User.ID, "", r, "")
	if err != nil {
		t.Fatalf("ComputeForUser() error: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ComputeForUser() returned %d organizations, want 2", len(list))
	}

	tests := []struct {
		name     string
		selected string
		wantOrg  string
		wantErr  error
	}{
		{name: "ambiguous", wantErr: ErrAmbiguousOrganization},
		{name: "selected", selected: second.OrganizationID, wantOrg: second.OrganizationID},
		{name: "not a member", selected: other.Org.OrganizationID, wantErr: ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, all, err := engine.ResolveOrganization(ctx, alice.User.ID, tt.selected)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ResolveOrganization() error = %v, want %v", err, tt.wantErr)
			}
			if len(all) != 2 {
				t.Errorf("memberships = %d, want 2", len(all))
			}
			if m.OrganizationID != tt.wantOrg {
				t.Errorf("organization = %q, want %q", m.OrganizationID, tt.wantOrg)
			}
		})
	}

	m, _, err := engine.ResolveOrganization(ctx, other.User.ID, "")
	if err != nil || m.OrganizationID != other.Org.OrganizationID || m.Role != model.RoleOwner {
		t.Errorf("ResolveOrganization(single) = %+v, %v", m, err)
	}

	nobody, _ := st.UpsertUser(ctx, "nobody@acme.test", nil)
	if _, _, err := engine.ResolveOrganization(ctx, nobody.ID, ""); !errors.Is(err, ErrNoOrganization) {
		t.Errorf("ResolveOrganization(no memberships) error = %v", err)
	}
}

func TestParseRange(t *testing.T) {
	now := time.Date(2025, 5, 10, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		name       string
		start, end string
		wantStart  time.Time
		wantEnd    time.Time
		wantErr    bool
	}{
		{
			name:      "defaults to last seven days",
			wantStart: now.Add(-7 * 24 * time.Hour),
			wantEnd:   now,
		},
		{
			name:      "dates are whole days",
			start:     "2025-05-01",
			end:       "2025-05-03",
			wantStart: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 5, 3, 23, 59, 59, int(999*time.Millisecond), time.UTC),
		},
		{
			name:      "rfc3339",
			start:     "2025-05-01T10:00:00+02:00",
			end:       "2025-05-01T12:00:00Z",
			wantStart: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		{name: "start after end", start: "2025-05-04", end: "2025-05-03", wantErr: true},
		{name: "garbage", start: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRange(tt.start, tt.end, now)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRange) {
					t.Errorf("ParseRange() error = %v, want ErrInvalidRange", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange() error: %v", err)
			}
			if !r.Start.Equal(tt.wantStart) || !r.End.Equal(tt.wantEnd) {
				t.Errorf("ParseRange() = %v..%v, want %v..%v", r.Start, r.End, tt.wantStart, tt.wantEnd)
			}
		})
	}
}
