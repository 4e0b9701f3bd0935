// Package dashboard computes SLA compliance metrics and the recent-activity feed for an organization.
package dashboard

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/store"
)

const (
	// DefaultSLAMinutes applies when an organization has no SLA configured.
	DefaultSLAMinutes = 560
	// AtRiskFraction of the SLA window after which an unanswered thread is at risk.
	AtRiskFraction = 0.8

	untitled = "Untitled thread"
)

type ActivityType string

const (
	ActivityBreach      ActivityType = "breach"
	ActivityAtRisk      ActivityType = "at_risk"
	ActivityCovered     ActivityType = "covered"
	ActivitySyncFailed  ActivityType = "sync_failed"
	ActivitySyncSuccess ActivityType = "sync_success"
)

var priority = map[ActivityType]int{
	ActivityBreach:      0,
	ActivityAtRisk:      1,
	ActivityCovered:     2,
	ActivitySyncFailed:  3,
	ActivitySyncSuccess: 4,
}

// Activity is one entry of the recent-activity feed
type Activity struct {
	Type             ActivityType `json:"type"`
	Message          string       `json:"message"`
	ThreadID         string       `json:"threadId,omitempty"`
	Subject          *string      `json:"subject,omitempty"`
	OwnerName        *string      `json:"ownerName,omitempty"`
	EmailAddress     string       `json:"emailAddress,omitempty"`
	MinutesOverdue   *int         `json:"minutesOverdue,omitempty"`
	MinutesRemaining *int         `json:"minutesRemaining,omitempty"`
	ResponseMinutes  *int         `json:"responseMinutes,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

// Metrics is the dashboard result for one organization and date range
type Metrics struct {
	SLATarget              int        `json:"slaTarget"`
	CompliancePercent      float64    `json:"compliancePercent"`
	TotalInbound           int        `json:"totalInbound"`
	CoveredWithinSLA       int        `json:"coveredWithinSla"`
	Breaches               int        `json:"breaches"`
	AtRisk                 int        `json:"atRisk"`
	AvgResponseMinutes     int        `json:"avgResponseMinutes"`
	OldestUncoveredMinutes int        `json:"oldestUncoveredMinutes"`
	RecentActivity         []Activity `json:"recentActivity"`
}

// Input is everything Compute reads
type Input struct {
	SLAMinutes int
	Threads    []store.InboundThread
	Accounts   []model.EmailAccount
}

// Compute classifies every thread against the SLA window and builds the activity feed.
// It is pure: the same input and now always give the same result.
func Compute(in Input, now time.Time) Metrics {
	sla := in.SLAMinutes
	if sla <= 0 {
		sla = DefaultSLAMinutes
	}
	slaDur := time.Duration(sla) * time.Minute

	m := Metrics{
		SLATarget:      sla,
		TotalInbound:   len(in.Threads),
		RecentActivity: []Activity{},
	}

	var (
		responseSum   time.Duration
		responseCount int
		oldest        time.Duration
	)

	for _, t := range in.Threads {
		label := untitled
		if t.Subject != nil {
			label = *t.Subject
		}

		if t.FirstOutboundAt != nil {
			response := t.FirstOutboundAt.Sub(t.FirstInboundAt)
			responseSum += response
			responseCount++

			if response <= slaDur {
				m.CoveredWithinSLA++
				mins := minutes(response)
				m.RecentActivity = append(m.RecentActivity, Activity{
					Type:            ActivityCovered,
					Message:         fmt.Sprintf("Thread '%s' responded in %d minutes", label, mins),
					ThreadID:        t.ID,
					Subject:         t.Subject,
					OwnerName:       t.OwnerName,
					ResponseMinutes: &mins,
					Timestamp:       *t.FirstOutboundAt,
				})
				continue
			}

			m.Breaches++
			overdue := minutes(response - slaDur)
			msg := fmt.Sprintf("Thread '%s' breached SLA", label)
			if t.OwnerName != nil && *t.OwnerName != "" {
				msg += fmt.Sprintf(" (Owner: %s)", *t.OwnerName)
			}
			m.RecentActivity = append(m.RecentActivity, Activity{
				Type:           ActivityBreach,
				Message:        msg,
				ThreadID:       t.ID,
				Subject:        t.Subject,
				OwnerName:      t.OwnerName,
				MinutesOverdue: &overdue,
				Timestamp:      *t.FirstOutboundAt,
			})
			continue
		}

		elapsed := now.Sub(t.FirstInboundAt)
		switch {
		case elapsed > slaDur:
			m.Breaches++
			overdue := minutes(elapsed - slaDur)
			m.RecentActivity = append(m.RecentActivity, Activity{
				Type:           ActivityBreach,
				Message:        fmt.Sprintf("Thread '%s' is overdue by %d minutes", label, overdue),
				ThreadID:       t.ID,
				Subject:        t.Subject,
				OwnerName:      t.OwnerName,
				MinutesOverdue: &overdue,
				Timestamp:      t.FirstInboundAt,
			})
		case float64(elapsed) >= float64(slaDur)*AtRiskFraction:
			m.AtRisk++
			remaining := minutes(slaDur - elapsed)
			m.RecentActivity = append(m.RecentActivity, Activity{
				Type:             ActivityAtRisk,
				Message:          fmt.Sprintf("Thread '%s' has %d minutes before SLA breach", label, remaining),
				ThreadID:         t.ID,
				Subject:          t.Subject,
				OwnerName:        t.OwnerName,
				MinutesRemaining: &remaining,
				Timestamp:        t.FirstInboundAt,
			})
		}
		if elapsed > oldest {
			oldest = elapsed
		}
	}

	for _, a := range in.Accounts {
		if a.LastSyncAt == nil {
			continue
		}
		if a.TokenExpiresAt != nil && a.TokenExpiresAt.Before(now) {
			m.RecentActivity = append(m.RecentActivity, Activity{
				Type:         ActivitySyncFailed,
				Message:      fmt.Sprintf("Mailbox %s sync failed: token refresh required", a.EmailAddress),
				EmailAddress: a.EmailAddress,
				Timestamp:    *a.LastSyncAt,
			})
			continue
		}
		m.RecentActivity = append(m.RecentActivity, Activity{
			Type:         ActivitySyncSuccess,
			Message:      fmt.Sprintf("Mailbox %s synced successfully", a.EmailAddress),
			EmailAddress: a.EmailAddress,
			Timestamp:    *a.LastSyncAt,
		})
	}

	SortActivity(m.RecentActivity)

	if m.TotalInbound > 0 {
		m.CompliancePercent = round(float64(m.CoveredWithinSLA)/float64(m.TotalInbound)*10000) / 100
	}
	if responseCount > 0 {
		m.AvgResponseMinutes = minutes(responseSum / time.Duration(responseCount))
	}
	m.OldestUncoveredMinutes = minutes(oldest)
	return m
}

// SortActivity orders by fixed type priority, then newest first.
func SortActivity(feed []Activity) {
	sort.SliceStable(feed, func(i, j int) bool {
		pi, pj := priority[feed[i].Type], priority[feed[j].Type]
		if pi != pj {
			return pi < pj
		}
		return feed[i].Timestamp.After(feed[j].Timestamp)
	})
}

// round halves toward positive infinity
func round(x float64) float64 {
	return math.Floor(x + 0.5)
}

func minutes(d time.Duration) int {
	return int(round(float64(d) / float64(time.Minute)))
}
