package coverage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Martian-dev/watchlane/internal/model"
)

var t0 = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

func in(d time.Duration) model.Message {
	return model.Message{Direction: model.DirectionInbound, SentAt: t0.Add(d)}
}

func out(d time.Duration) model.Message {
	return model.Message{Direction: model.DirectionOutbound, SentAt: t0.Add(d)}
}

func TestFoldStatus(t *testing.T) {
	tests := []struct {
		name     string
		messages []model.Message
		want     model.CoverageStatus
	}{
		{"no messages", nil, model.CoverageCovered},
		{"outbound only", []model.Message{out(0)}, model.CoverageCovered},
		{"single inbound", []model.Message{in(0)}, model.CoverageUncovered},
		{"answered", []model.Message{in(0), out(10 * time.Minute)}, model.CoverageCovered},
		{"reply same instant", []model.Message{in(0), out(0)}, model.CoverageUncovered},
		{"stale outbound then new inbound", []model.Message{in(0), out(-5 * time.Minute), in(20 * time.Minute)}, model.CoverageUncovered},
		{"follow-up answered", []model.Message{in(0), out(5 * time.Minute), in(20 * time.Minute), out(30 * time.Minute)}, model.CoverageCovered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fold(tt.messages).Status; got != tt.want {
				t.Errorf("Fold().Status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFoldTimestamps(t *testing.T) {
	c := Fold([]model.Message{in(0), out(-5 * time.Minute), in(20 * time.Minute), out(7 * time.Minute)})

	check := func(name string, got *time.Time, want time.Time) {
		t.Helper()
		if got == nil || !got.Equal(want) {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	check("FirstInboundAt", c.FirstInboundAt, t0)
	check("LastInboundAt", c.LastInboundAt, t0.Add(20*time.Minute))
	check("FirstOutboundAt", c.FirstOutboundAt, t0.Add(-5*time.Minute))
	check("LastOutboundAt", c.LastOutboundAt, t0.Add(7*time.Minute))

	empty := Fold(nil)
	if empty.FirstInboundAt != nil || empty.FirstOutboundAt != nil || empty.LastInboundAt != nil || empty.LastOutboundAt != nil {
		t.Errorf("Fold(nil) = %+v, want all timestamps nil", empty)
	}
}

func TestFoldOrderIndependent(t *testing.T) {
	msgs := []model.Message{in(0), out(10 * time.Minute), in(30 * time.Minute)}
	reversed := []model.Message{msgs[2], msgs[1], msgs[0]}

	a, b := Fold(msgs), Fold(reversed)
	if a.Status != b.Status || !a.LastInboundAt.Equal(*b.LastInboundAt) || !a.FirstOutboundAt.Equal(*b.FirstOutboundAt) {
		t.Errorf("Fold depends on input order: %+v vs %+v", a, b)
	}
}

type fakeRepo struct {
	messages map[string][]model.Message
	saved    map[string]model.Coverage
	listErr  error
	updates  int
}

func (f *fakeRepo) ListThreadMessages(_ context.Context, id string) ([]model.Message, error) {
	return f.messages[id], f.listErr
}

func (f *fakeRepo) UpdateThreadCoverage(_ context.Context, id string, c model.Coverage) error {
	f.updates++
	f.saved[id] = c
	return nil
}

func TestRecomputeIdempotent(t *testing.T) {
	repo := &fakeRepo{
		messages: map[string][]model.Message{"th": {in(0), out(10 * time.Minute)}},
		saved:    map[string]model.Coverage{},
	}

	first, err := Recompute(context.Background(), repo, "th")
	if err != nil {
		t.Fatalf("Recompute() error: %v", err)
	}
	second, err := Recompute(context.Background(), repo, "th")
	if err != nil {
		t.Fatalf("Recompute() error: %v", err)
	}

	if first.Status != model.CoverageCovered || second.Status != first.Status {
		t.Errorf("Recompute() statuses = %s, %s; want COVERED twice", first.Status, second.Status)
	}
	if !second.LastOutboundAt.Equal(*first.LastOutboundAt) {
		t.Errorf("second run changed LastOutboundAt")
	}
	if repo.updates != 2 {
		t.Errorf("updates = %d, want 2", repo.updates)
	}
}

func TestRecomputeListError(t *testing.T) {
	repo := &fakeRepo{listErr: errors.New("db down"), saved: map[string]model.Coverage{}}
	if _, err := Recompute(context.Background(), repo, "th"); err == nil {
		t.Fatal("Recompute() succeeded, want error")
	}
	if repo.updates != 0 {
		t.Errorf("updates = %d, want none after a failed read", repo.updates)
	}
}
