package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Martian-dev/watchlane/internal/model"
)

// UpsertUser creates a user keyed by email, filling in the name when one is supplied.
func (q *Queries) UpsertUser(ctx context.Context, email string, name *string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var (
		u       model.User
		dbName  sql.NullString
		created int64
	)
	err := q.queryRow(ctx, `
		INSERT INTO users (id, email, name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(excluded.name, users.name)
		RETURNING id, email, name, created_at
	`, uuid.NewString(), email, nullString(name), millis(q.now())).Scan(&u.ID, &u.Email, &dbName, &created)
	if err != nil {
		return model.User{}, fmt.Errorf("failed to upsert user: %w", err)
	}

	u.Name = fromNullString(dbName)
	u.CreatedAt = fromMillis(created)
	return u, nil
}

func (q *Queries) GetUser(ctx context.Context, id string) (model.User, error) {
	var (
		u       model.User
		name    sql.NullString
		created int64
	)
	err := q.queryRow(ctx, `SELECT id, email, name, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &name, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	u.Name = fromNullString(name)
	u.CreatedAt = fromMillis(created)
	return u, nil
}

// CreateOrganization creates the organization, its OWNER membership and default settings atomically.
func (s *Store) CreateOrganization(ctx context.Context, name, ownerID string) (model.Membership, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Membership{}, errors.New("organization name is required")
	}

	m := model.Membership{
		OrganizationID:   uuid.NewString(),
		OrganizationName: name,
		PlanTier:         "FREE",
		UserID:           ownerID,
		Role:             model.RoleOwner,
	}

	err := s.WithTx(ctx, func(q *Queries) error {
		now := q.now()
		m.CreatedAt = fromMillis(millis(now))

		if _, err := q.exec(ctx, `
			INSERT INTO organizations (id, name, plan_tier, created_at) VALUES (?, ?, ?, ?)
		`, m.OrganizationID, m.OrganizationName, m.PlanTier, millis(now)); err != nil {
			return fmt.Errorf("failed to insert organization: %w", err)
		}

		if _, err := q.exec(ctx, `
			INSERT INTO organization_members (organization_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
		`, m.OrganizationID, ownerID, string(m.Role), millis(now)); err != nil {
			return fmt.Errorf("failed to insert membership: %w", err)
		}

		return q.UpsertSettings(ctx, model.Settings{
			OrganizationID: m.OrganizationID,
			SLAEnabled:     true,
			NotifyOnBreach: true,
		})
	})
	if err != nil {
		return model.Membership{}, err
	}
	return m, nil
}

// AddMember grants a user a role in an existing organization.
func (q *Queries) AddMember(ctx context.Context, orgID, userID string, role model.Role) error {
	_, err := q.exec(ctx, `
		INSERT INTO organization_members (organization_id, user_id, role, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role = excluded.role
	`, orgID, userID, string(role), millis(q.now()))
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

const membershipColumns = `
	m.organization_id, o.name, o.plan_tier, m.user_id, m.role, o.created_at
	FROM organization_members m
	JOIN organizations o ON o.id = m.organization_id`

func scanMembership(sc interface{ Scan(...any) error }) (model.Membership, error) {
	var (
		m       model.Membership
		role    string
		created int64
	)
	if err := sc.Scan(&m.OrganizationID, &m.OrganizationName, &m.PlanTier, &m.UserID, &role, &created); err != nil {
		return model.Membership{}, err
	}
	m.Role = model.Role(role)
	m.CreatedAt = fromMillis(created)
	return m, nil
}

func (q *Queries) ListMemberships(ctx context.Context, userID string) ([]model.Membership, error) {
	rows, err := q.query(ctx, `SELECT`+membershipColumns+`
		WHERE m.user_id = ?
		ORDER BY o.created_at, o.id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer rows.Close()

	var out []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (q *Queries) GetMembership(ctx context.Context, userID, orgID string) (model.Membership, error) {
	m, err := scanMembership(q.queryRow(ctx, `SELECT`+membershipColumns+`
		WHERE m.user_id = ? AND m.organization_id = ?
	`, userID, orgID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Membership{}, ErrNotFound
		}
		return model.Membership{}, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GetSettings returns ErrNotFound when the organization has never stored settings.
func (q *Queries) GetSettings(ctx context.Context, orgID string) (model.Settings, error) {
	var (
		s                         model.Settings
		sla, day                  sql.NullInt64
		enabled, weekly, onBreach bool
	)
	err := q.queryRow(ctx, `
		SELECT organization_id, sla_minutes, sla_enabled, weekly_report_enabled, weekly_report_day, notify_on_breach
		FROM organization_settings
		WHERE organization_id = ?
	`, orgID).Scan(&s.OrganizationID, &sla, &enabled, &weekly, &day, &onBreach)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Settings{}, ErrNotFound
		}
		return model.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}

	s.SLAMinutes = fromNullInt(sla)
	s.WeeklyReportDay = fromNullInt(day)
	s.SLAEnabled = enabled
	s.WeeklyReportEnabled = weekly
	s.NotifyOnBreach = onBreach
	return s, nil
}

func (q *Queries) UpsertSettings(ctx context.Context, s model.Settings) error {
	_, err := q.exec(ctx, `
		INSERT INTO organization_settings
			(organization_id, sla_minutes, sla_enabled, weekly_report_enabled, weekly_report_day, notify_on_breach, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id) DO UPDATE SET
			sla_minutes = excluded.sla_minutes,
			sla_enabled = excluded.sla_enabled,
			weekly_report_enabled = excluded.weekly_report_enabled,
			weekly_report_day = excluded.weekly_report_day,
			notify_on_breach = excluded.notify_on_breach,
			updated_at = excluded.updated_at
	`, s.OrganizationID, nullInt(s.SLAMinutes), boolInt(s.SLAEnabled), boolInt(s.WeeklyReportEnabled),
		nullInt(s.WeeklyReportDay), boolInt(s.NotifyOnBreach), millis(q.now()))
	if err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

// UpsertAccount connects a mailbox keyed by (provider, email address). Reconnecting keeps the
// watermark and keeps the stored refresh token when the new one is empty.
func (q *Queries) UpsertAccount(ctx context.Context, a model.EmailAccount) (model.EmailAccount, error) {
	now := q.now()
	a.EmailAddress = strings.ToLower(strings.TrimSpace(a.EmailAddress))

	err := q.queryRow(ctx, `
		INSERT INTO email_accounts
			(id, user_id, organization_id, provider, provider_account_id, email_address,
			 access_token, refresh_token, token_expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, email_address) DO UPDATE SET
			user_id = excluded.user_id,
			organization_id = excluded.organization_id,
			provider_account_id = excluded.provider_account_id,
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN email_accounts.refresh_token
			                     ELSE excluded.refresh_token END,
			token_expires_at = excluded.token_expires_at,
			updated_at = excluded.updated_at
		RETURNING id
	`, uuid.NewString(), a.UserID, a.OrganizationID, string(a.Provider), a.ProviderAccountID, a.EmailAddress,
		a.AccessToken, a.RefreshToken, nullMillis(a.TokenExpiresAt), millis(now), millis(now)).Scan(&a.ID)
	if err != nil {
		return model.EmailAccount{}, fmt.Errorf("failed to upsert account: %w", err)
	}

	return q.GetAccount(ctx, a.ID)
}

const accountColumns = `
	id, user_id, organization_id, provider, provider_account_id, email_address,
	access_token, refresh_token, token_expires_at, last_sync_at, created_at, updated_at
	FROM email_accounts`

func scanAccount(sc interface{ Scan(...any) error }) (model.EmailAccount, error) {
	var (
		a                model.EmailAccount
		provider         string
		expires, synced  sql.NullInt64
		created, updated int64
	)
	err := sc.Scan(&a.ID, &a.UserID, &a.OrganizationID, &provider, &a.ProviderAccountID, &a.EmailAddress,
		&a.AccessToken, &a.RefreshToken, &expires, &synced, &created, &updated)
	if err != nil {
		return model.EmailAccount{}, err
	}
	a.Provider = model.Provider(provider)
	a.TokenExpiresAt = fromNullMillis(expires)
	a.LastSyncAt = fromNullMillis(synced)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

func (q *Queries) GetAccount(ctx context.Context, id string) (model.EmailAccount, error) {
	a, err := scanAccount(q.queryRow(ctx, `SELECT`+accountColumns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EmailAccount{}, ErrNotFound
		}
		return model.EmailAccount{}, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (q *Queries) ListAccounts(ctx context.Context) ([]model.EmailAccount, error) {
	return q.listAccounts(ctx, `SELECT`+accountColumns+` ORDER BY created_at, id`)
}

func (q *Queries) ListAccountsByUser(ctx context.Context, userID string) ([]model.EmailAccount, error) {
	return q.listAccounts(ctx, `SELECT`+accountColumns+` WHERE user_id = ? ORDER BY created_at, id`, userID)
}

// ListAccountsByOrganization optionally narrows to one representative's accounts.
func (q *Queries) ListAccountsByOrganization(ctx context.Context, orgID, repID string) ([]model.EmailAccount, error) {
	if repID != "" {
		return q.listAccounts(ctx, `SELECT`+accountColumns+`
			WHERE organization_id = ? AND user_id = ? ORDER BY created_at, id`, orgID, repID)
	}
	return q.listAccounts(ctx, `SELECT`+accountColumns+` WHERE organization_id = ? ORDER BY created_at, id`, orgID)
}

func (q *Queries) listAccounts(ctx context.Context, query string, args ...any) ([]model.EmailAccount, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []model.EmailAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetWatermark advances last_sync_at after a successful cycle.
func (q *Queries) SetWatermark(ctx context.Context, accountID string, at time.Time) error {
	res, err := q.exec(ctx, `
		UPDATE email_accounts SET last_sync_at = ?, updated_at = ? WHERE id = ?
	`, millis(at), millis(q.now()), accountID)
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}
	return expectOne(res)
}

// UpdateCredentials stores a refreshed, already encrypted token pair. An empty refresh token keeps the old one.
func (q *Queries) UpdateCredentials(ctx context.Context, accountID, accessToken, refreshToken string, expiresAt time.Time) error {
	res, err := q.exec(ctx, `
		UPDATE email_accounts
		SET access_token = ?,
		    refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
		    token_expires_at = ?,
		    updated_at = ?
		WHERE id = ?
	`, accessToken, refreshToken, refreshToken, millis(expiresAt), millis(q.now()), accountID)
	if err != nil {
		return fmt.Errorf("failed to update credentials: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
