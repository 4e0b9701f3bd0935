package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/store"
)

var now = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func answered(id string, inAgo, response time.Duration) store.InboundThread {
	in := now.Add(-inAgo)
	return store.InboundThread{
		ID:              id,
		Subject:         ptr("Subject " + id),
		FirstInboundAt:  in,
		FirstOutboundAt: ptr(in.Add(response)),
		EmailAddress:    "rep@acme.test",
		OwnerName:       ptr("Rep"),
	}
}

func waiting(id string, age time.Duration) store.InboundThread {
	return store.InboundThread{
		ID:             id,
		Subject:        ptr("Subject " + id),
		FirstInboundAt: now.Add(-age),
		EmailAddress:   "rep@acme.test",
	}
}

func TestComputeCompliance(t *testing.T) {
	tests := []struct {
		name          string
		threads       []store.InboundThread
		wantPercent   float64
		wantCovered   int
		wantBreaches  int
		wantAtRisk    int
		wantAvg       int
		wantOldest    int
		wantFeedTypes []ActivityType
	}{
		{
			name: "covered, late and at risk",
			threads: []store.InboundThread{
				answered("fast", 3*time.Hour, 30*time.Minute),
				answered("slow", 4*time.Hour, 90*time.Minute),
				waiting("pending", 50*time.Minute),
			},
			wantPercent:   33.33,
			wantCovered:   1,
			wantBreaches:  1,
			wantAtRisk:    1,
			wantAvg:       60,
			wantOldest:    50,
			wantFeedTypes: []ActivityType{ActivityBreach, ActivityAtRisk, ActivityCovered},
		},
		{
			// 45 minutes is below 80% of a 60 minute window.
			name: "young unanswered thread is unclassified",
			threads: []store.InboundThread{
				answered("fast", 3*time.Hour, 30*time.Minute),
				answered("slow", 4*time.Hour, 90*time.Minute),
				waiting("pending", 45*time.Minute),
			},
			wantPercent:   33.33,
			wantCovered:   1,
			wantBreaches:  1,
			wantAtRisk:    0,
			wantAvg:       60,
			wantOldest:    45,
			wantFeedTypes: []ActivityType{ActivityBreach, ActivityCovered},
		},
		{
			name: "unanswered past the window",
			threads: []store.InboundThread{
				waiting("old", 2*time.Hour),
				waiting("edge", 49*time.Minute),
			},
			wantPercent:   0,
			wantBreaches:  1,
			wantAtRisk:    1,
			wantOldest:    120,
			wantFeedTypes: []ActivityType{ActivityBreach, ActivityAtRisk},
		},
		{
			name:          "no threads",
			wantFeedTypes: []ActivityType{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Compute(Input{SLAMinutes: 60, Threads: tt.threads}, now)

			if m.SLATarget != 60 {
				t.Errorf("SLATarget = %d", m.SLATarget)
			}
			if m.TotalInbound != len(tt.threads) {
				t.Errorf("TotalInbound = %d", m.TotalInbound)
			}
			if m.CompliancePercent != tt.wantPercent {
				t.Errorf("CompliancePercent = %v, want %v", m.CompliancePercent, tt.wantPercent)
			}
			if m.CoveredWithinSLA != tt.wantCovered || m.Breaches != tt.wantBreaches || m.AtRisk != tt.wantAtRisk {
				t.Errorf("covered/breaches/atRisk = %d/%d/%d, want %d/%d/%d",
					m.CoveredWithinSLA, m.Breaches, m.AtRisk, tt.wantCovered, tt.wantBreaches, tt.wantAtRisk)
			}
			if m.AvgResponseMinutes != tt.wantAvg {
				t.Errorf("AvgResponseMinutes = %d, want %d", m.AvgResponseMinutes, tt.wantAvg)
			}
			if m.OldestUncoveredMinutes != tt.wantOldest {
				t.Errorf("OldestUncoveredMinutes = %d, want %d", m.OldestUncoveredMinutes, tt.wantOldest)
			}

			if len(m.RecentActivity) != len(tt.wantFeedTypes) {
				t.Fatalf("feed = %+v", m.RecentActivity)
			}
			for i, typ := range tt.wantFeedTypes {
				if m.RecentActivity[i].Type != typ {
					t.Errorf("feed[%d] = %s, want %s", i, m.RecentActivity[i].Type, typ)
				}
			}
		})
	}
}

func TestComputeMessages(t *testing.T) {
	threads := []store.InboundThread{
		answered("fast", 3*time.Hour, 30*time.Minute),
		answered("slow", 4*time.Hour, 90*time.Minute),
		waiting("pending", 50*time.Minute),
		waiting("late", 100*time.Minute),
	}
	threads[3].Subject = nil

	m := Compute(Input{SLAMinutes: 60, Threads: threads}, now)
	byID := make(map[string]Activity)
	for _, a := range m.RecentActivity {
		byID[a.ThreadID] = a
	}

	tests := []struct {
		id   string
		want string
	}{
		{"fast", "Thread 'Subject fast' responded in 30 minutes"},
		{"slow", "Thread 'Subject slow' breached SLA (Owner: Rep)"},
		{"pending", "Thread 'Subject pending' has 10 minutes before SLA breach"},
		{"late", "Thread 'Untitled thread' is overdue by 40 minutes"},
	}
	for _, tt := range tests {
		if got := byID[tt.id].Message; got != tt.want {
			t.Errorf("message for %s = %q, want %q", tt.id, got, tt.want)
		}
	}

	if a := byID["slow"]; a.MinutesOverdue == nil || *a.MinutesOverdue != 30 || !a.Timestamp.Equal(*threads[1].FirstOutboundAt) {
		t.Errorf("breach entry = %+v", a)
	}
	if a := byID["late"]; !a.Timestamp.Equal(threads[3].FirstInboundAt) {
		t.Errorf("overdue entry timestamp = %v", a.Timestamp)
	}
	if a := byID["fast"]; a.ResponseMinutes == nil || *a.ResponseMinutes != 30 {
		t.Errorf("covered entry = %+v", a)
	}
}

func TestComputeDefaultSLA(t *testing.T) {
	m := Compute(Input{Threads: []store.InboundThread{answered("a", 10*time.Hour, 9*time.Hour)}}, now)
	if m.SLATarget != DefaultSLAMinutes || m.CoveredWithinSLA != 1 || m.CompliancePercent != 100 {
		t.Errorf("Compute() with default SLA = %+v", m)
	}
}

func TestComputeSyncActivity(t *testing.T) {
	synced := now.Add(-10 * time.Minute)
	accounts := []model.EmailAccount{
		{EmailAddress: "never@acme.test"},
		{EmailAddress: "expired@acme.test", LastSyncAt: ptr(synced.Add(-time.Hour)), TokenExpiresAt: ptr(now.Add(-time.Minute))},
		{EmailAddress: "ok@acme.test", LastSyncAt: &synced, TokenExpiresAt: ptr(now.Add(time.Hour))},
		{EmailAddress: "unknown-expiry@acme.test", LastSyncAt: ptr(synced.Add(-2 * time.Hour))},
	}

	m := Compute(Input{SLAMinutes: 60, Accounts: accounts}, now)
	if len(m.RecentActivity) != 3 {
		t.Fatalf("feed = %+v", m.RecentActivity)
	}

	want := []struct {
		typ  ActivityType
		addr string
	}{
		{ActivitySyncFailed, "expired@acme.test"},
		{ActivitySyncSuccess, "ok@acme.test"},
		{ActivitySyncSuccess, "unknown-expiry@acme.test"},
	}
	for i, w := range want {
		got := m.RecentActivity[i]
		if got.Type != w.typ || got.EmailAddress != w.addr {
			t.Errorf("feed[%d] = %s %s, want %s %s", i, got.Type, got.EmailAddress, w.typ, w.addr)
		}
		if !strings.Contains(got.Message, w.addr) {
			t.Errorf("feed[%d] message %q does not name the mailbox", i, got.Message)
		}
	}
}

func TestSortActivityPriorityBeatsTime(t *testing.T) {
	feed := []Activity{
		{Type: ActivityCovered, Timestamp: now.Add(-2 * time.Hour)},
		{Type: ActivitySyncSuccess, Timestamp: now},
		{Type: ActivityBreach, Timestamp: now.Add(-time.Hour)},
		{Type: ActivityCovered, Timestamp: now.Add(-time.Minute)},
		{Type: ActivityBreach, Timestamp: now.Add(-3 * time.Hour)},
	}
	SortActivity(feed)

	want := []struct {
		typ ActivityType
		at  time.Time
	}{
		{ActivityBreach, now.Add(-time.Hour)},
		{ActivityBreach, now.Add(-3 * time.Hour)},
		{ActivityCovered, now.Add(-time.Minute)},
		{ActivityCovered, now.Add(-2 * time.Hour)},
		{ActivitySyncSuccess, now},
	}
	for i, w := range want {
		if feed[i].Type != w.typ || !feed[i].Timestamp.Equal(w.at) {
			t.Errorf("feed[%d] = %s@%v, want %s@%v", i, feed[i].Type, feed[i].Timestamp, w.typ, w.at)
		}
	}
}

func TestMinutesRounding(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{29*time.Minute + 29*time.Second, 29},
		{29*time.Minute + 30*time.Second, 30},
		{-(29*time.Minute + 30*time.Second), -29},
		{0, 0},
	}
	for _, tt := range tests {
		if got := minutes(tt.d); got != tt.want {
			t.Errorf("minutes(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
