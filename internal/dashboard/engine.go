package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/store"
)

var (
	ErrInvalidRange          = errors.New("invalid date range")
	ErrForbidden             = errors.New("not a member of the organization")
	ErrNoOrganization        = errors.New("user is not a member of any organization")
	ErrAmbiguousOrganization = errors.New("multiple organizations found, specify orgId")
)

const dateLayout = "2006-01-02"

// DefaultWindow is the range used when no start date is given.
const DefaultWindow = 7 * 24 * time.Hour

// Range is an inclusive time window on firstInboundAt
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidRange)
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange,
			r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

// ParseRange accepts RFC 3339 timestamps or YYYY-MM-DD dates. A date-only end covers the whole day.
// Missing bounds default to the last seven days ending now.
func ParseRange(start, end string, now time.Time) (Range, error) {
	r := Range{End: now.UTC()}

	if end != "" {
		t, dateOnly, err := parseTime(end)
		if err != nil {
			return Range{}, fmt.Errorf("%w: endDate: %v", ErrInvalidRange, err)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		r.End = t
	}

	r.Start = r.End.Add(-DefaultWindow)
	if start != "" {
		t, _, err := parseTime(start)
		if err != nil {
			return Range{}, fmt.Errorf("%w: startDate: %v", ErrInvalidRange, err)
		}
		r.Start = t
	}

	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}

// Store is the read surface the engine needs
type Store interface {
	GetSettings(ctx context.Context, orgID string) (model.Settings, error)
	ListThreadsByFirstInbound(ctx context.Context, orgID string, start, end time.Time, repID string) ([]store.InboundThread, error)
	ListAccountsByOrganization(ctx context.Context, orgID, repID string) ([]model.EmailAccount, error)
	ListThreadsByCoverage(ctx context.Context, orgID string, status model.CoverageStatus) ([]model.Thread, error)
	ListMemberships(ctx context.Context, userID string) ([]model.Membership, error)
	GetMembership(ctx context.Context, userID, orgID string) (model.Membership, error)
}

// OrgMetrics tags one organization's metrics with its id and name
type OrgMetrics struct {
	OrganizationID   string `json:"organizationId"`
	OrganizationName string `json:"organizationName"`
	Metrics
}

// Summary is the coverage snapshot over all of an organization's threads
type Summary struct {
	CoveredCount           int `json:"coveredCount"`
	UncoveredCount         int `json:"uncoveredCount"`
	AvgResponseTimeMinutes int `json:"avgResponseTimeMinutes"`
	OldestUncoveredMinutes int `json:"oldestUncoveredMinutes"`
}

// Engine runs metrics queries. Queries are read-only and take no locks.
type Engine struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(st Store, logger *zap.Logger) *Engine {
	return &Engine{
		store:  st,
		logger: logger.Named("dashboard"),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for elapsed-time classification.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) Now() time.Time {
	return e.now()
}

// Compute returns the metrics of one organization over r, optionally narrowed to one representative.
func (e *Engine) Compute(ctx context.Context, orgID string, r Range, repID string) (Metrics, error) {
	if err := r.Validate(); err != nil {
		return Metrics{}, err
	}

	sla := DefaultSLAMinutes
	settings, err := e.store.GetSettings(ctx, orgID)
	switch {
	case err == nil:
		if settings.SLAMinutes != nil && *settings.SLAMinutes > 0 {
			sla = *settings.SLAMinutes
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return Metrics{}, fmt.Errorf("load settings: %w", err)
	}

	threads, err := e.store.ListThreadsByFirstInbound(ctx, orgID, r.Start, r.End, repID)
	if err != nil {
		return Metrics{}, fmt.Errorf("load threads: %w", err)
	}
	accounts, err := e.store.ListAccountsByOrganization(ctx, orgID, repID)
	if err != nil {
		return Metrics{}, fmt.Errorf("load accounts: %w", err)
	}

	m := Compute(Input{SLAMinutes: sla, Threads: threads, Accounts: accounts}, e.now())
	e.logger.Debug("Computed metrics",
		zap.String("organization_id", orgID),
		zap.String("rep_id", repID),
		zap.Int("threads", m.TotalInbound),
		zap.Float64("compliance", m.CompliancePercent),
	)
	return m, nil
}

// ComputeForUser computes metrics for the selected organization, or for every organization the
// user belongs to when orgID is empty.
func (e *Engine) ComputeForUser(ctx context.Context, userID, orgID string, r Range, repID string) ([]OrgMetrics, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	var memberships []model.Membership
	if orgID != "" {
		m, err := e.store.GetMembership(ctx, userID, orgID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrForbidden
			}
			return nil, fmt.Errorf("load membership: %w", err)
		}
		memberships = []model.Membership{m}
	} else {
		var err error
		memberships, err = e.store.ListMemberships(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load memberships: %w", err)
		}
	}

	out := make([]OrgMetrics, 0, len(memberships))
	for _, m := range memberships {
		metrics, err := e.Compute(ctx, m.OrganizationID, r, repID)
		if err != nil {
			return nil, fmt.Errorf("organization %s: %w", m.OrganizationID, err)
		}
		out = append(out, OrgMetrics{
			OrganizationID:   m.OrganizationID,
			OrganizationName: m.OrganizationName,
			Metrics:          metrics,
		})
	}
	return out, nil
}

// Summary counts covered and uncovered threads, averages lastInbound to lastOutbound over
// answered threads and reports the oldest unanswered lastInbound.
func (e *Engine) Summary(ctx context.Context, orgID string) (Summary, error) {
	covered, err := e.store.ListThreadsByCoverage(ctx, orgID, model.CoverageCovered)
	if err != nil {
		return Summary{}, fmt.Errorf("load covered threads: %w", err)
	}
	uncovered, err := e.store.ListThreadsByCoverage(ctx, orgID, model.CoverageUncovered)
	if err != nil {
		return Summary{}, fmt.Errorf("load uncovered threads: %w", err)
	}
	return summarize(covered, uncovered, e.now()), nil
}

func summarize(covered, uncovered []model.Thread, now time.Time) Summary {
	s := Summary{CoveredCount: len(covered), UncoveredCount: len(uncovered)}

	var (
		sum   time.Duration
		count int
	)
	for _, list := range [][]model.Thread{covered, uncovered} {
		for _, t := range list {
			if t.LastInboundAt == nil || t.LastOutboundAt == nil || !t.LastOutboundAt.After(*t.LastInboundAt) {
				continue
			}
			sum += t.LastOutboundAt.Sub(*t.LastInboundAt)
			count++
		}
	}
	if count > 0 {
		s.AvgResponseTimeMinutes = minutes(sum / time.Duration(count))
	}

	var oldest time.Duration
	for _, t := range uncovered {
		if t.LastInboundAt == nil {
			continue
		}
		if elapsed := now.Sub(*t.LastInboundAt); elapsed > oldest {
			oldest = elapsed
		}
	}
	s.OldestUncoveredMinutes = minutes(oldest)
	return s
}

// ResolveOrganization picks the caller's organization: the only membership is implicit, several
// require an explicit selection. The memberships are returned so callers can list the choices.
func (e *Engine) ResolveOrganization(ctx context.Context, userID, selected string) (model.Membership, []model.Membership, error) {
	memberships, err := e.store.ListMemberships(ctx, userID)
	if err != nil {
		return model.Membership{}, nil, fmt.Errorf("load memberships: %w", err)
	}
	if len(memberships) == 0 {
		return model.Membership{}, nil, ErrNoOrganization
	}
	if selected == "" {
		if len(memberships) == 1 {
			return memberships[0], memberships, nil
		}
		return model.Membership{}, memberships, ErrAmbiguousOrganization
	}
	for _, m := range memberships {
		if m.OrganizationID == selected {
			return m, memberships, nil
		}
	}
	return model.Membership{}, memberships, ErrForbidden
}
