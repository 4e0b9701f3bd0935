package model

import "time"

// Direction is the side of the conversation a message was written from.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// CoverageStatus tells whether a thread's latest inbound message has been answered.
type CoverageStatus string

const (
	CoverageCovered   CoverageStatus = "COVERED"
	CoverageUncovered CoverageStatus = "UNCOVERED"
)

// Provider identifies the mailbox backend of an account.
type Provider string

const (
	ProviderMicrosoft Provider = "MICROSOFT"
	ProviderGoogle    Provider = "GOOGLE"
	ProviderIMAP      Provider = "IMAP"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderMicrosoft, ProviderGoogle, ProviderIMAP:
		return true
	}
	return false
}

type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PlanTier  string    `json:"planTier"`
	CreatedAt time.Time `json:"createdAt"`
}

// Membership is a user's role in one organization, joined with the organization's name.
type Membership struct {
	OrganizationID   string    `json:"id"`
	OrganizationName string    `json:"name"`
	PlanTier         string    `json:"planTier"`
	UserID           string    `json:"-"`
	Role             Role      `json:"role"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Settings are owned by organization management and only read by the metrics engine.
type Settings struct {
	OrganizationID      string `json:"organizationId"`
	SLAMinutes          *int   `json:"slaMinutes"`
	SLAEnabled          bool   `json:"slaEnabled"`
	WeeklyReportEnabled bool   `json:"weeklyReportEnabled"`
	WeeklyReportDay     *int   `json:"weeklyReportDay"`
	NotifyOnBreach      bool   `json:"notifyOnBreach"`
}

// EmailAccount is one connected mailbox. AccessToken and RefreshToken hold ciphertext.
type EmailAccount struct {
	ID                string
	UserID            string
	OrganizationID    string
	Provider          Provider
	ProviderAccountID string
	EmailAddress      string
	AccessToken       string
	RefreshToken      string
	TokenExpiresAt    *time.Time
	LastSyncAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Coverage is the state derived from a thread's full message history.
type Coverage struct {
	FirstInboundAt  *time.Time
	FirstOutboundAt *time.Time
	LastInboundAt   *time.Time
	LastOutboundAt  *time.Time
	Status          CoverageStatus
}

type Thread struct {
	ID               string
	OrganizationID   string
	EmailAccountID   string
	ExternalThreadID string
	Subject          *string
	Coverage
	LastMessageAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Message struct {
	ID         string
	ThreadID   string
	ExternalID string
	Direction  Direction
	Sender     string
	Recipients []string
	Body       string
	SentAt     time.Time
}
