package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/store"
)

const (
	TypeCoverageChanged   = "thread.coverage_changed"
	TypeAccountSynced     = "account.synced"
	TypeAccountSyncFailed = "account.sync_failed"
)

type CoverageChanged struct {
	ThreadID         string               `json:"threadId"`
	OrganizationID   string               `json:"organizationId"`
	EmailAccountID   string               `json:"emailAccountId"`
	ExternalThreadID string               `json:"externalThreadId"`
	From             model.CoverageStatus `json:"from"`
	To               model.CoverageStatus `json:"to"`
	LastInboundAt    *time.Time           `json:"lastInboundAt"`
	LastOutboundAt   *time.Time           `json:"lastOutboundAt"`
	At               time.Time            `json:"at"`
}

type AccountSynced struct {
	AccountID      string    `json:"accountId"`
	OrganizationID string    `json:"organizationId"`
	EmailAddress   string    `json:"emailAddress"`
	RunID          string    `json:"runId"`
	Status         string    `json:"status"`
	ErrorKind      string    `json:"errorKind,omitempty"`
	Error          string    `json:"error,omitempty"`
	Fetched        int       `json:"fetched"`
	Dropped        int       `json:"dropped"`
	Threads        int       `json:"threads"`
	At             time.Time `json:"at"`
}

// NewCoverageEvent builds the outbox row for a thread whose status changed.
// The msg id is stable per transition so a replayed sync cannot publish it twice.
func NewCoverageEvent(prefix string, ev CoverageChanged) (store.OutboxMessage, error) {
	last := int64(0)
	if ev.LastInboundAt != nil {
		last = ev.LastInboundAt.UnixMilli()
	}
	if ev.LastOutboundAt != nil && ev.LastOutboundAt.UnixMilli() > last {
		last = ev.LastOutboundAt.UnixMilli()
	}
	msgID := fmt.Sprintf("%s|%s|%s|%d", TypeCoverageChanged, ev.ThreadID, ev.To, last)
	return newOutbox(prefix, TypeCoverageChanged, msgID, ev)
}

// NewAccountEvent builds the outbox row reporting one account cycle.
func NewAccountEvent(prefix string, ev AccountSynced) (store.OutboxMessage, error) {
	typ := TypeAccountSynced
	if ev.Status != "success" {
		typ = TypeAccountSyncFailed
	}
	return newOutbox(prefix, typ, fmt.Sprintf("%s|%s", typ, ev.RunID), ev)
}

func newOutbox(prefix, eventType, msgID string, payload any) (store.OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return store.OutboxMessage{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return store.OutboxMessage{
		Subject:   prefix + "." + eventType,
		EventType: eventType,
		Payload:   body,
		MsgID:     msgID,
	}, nil
}
