package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Martian-dev/watchlane/internal/model"
)

// ThreadKey identifies a conversation within one mailbox.
type ThreadKey struct {
	OrganizationID   string
	EmailAccountID   string
	ExternalThreadID string
}

// InboundThread is a thread joined with its mailbox and owner, as read by the metrics engine.
type InboundThread struct {
	ID              string
	Subject         *string
	FirstInboundAt  time.Time
	FirstOutboundAt *time.Time
	EmailAddress    string
	OwnerName       *string
}

// UpsertThread creates the thread on first sight. On conflict only last_message_at moves forward
// and a null subject is filled in. It returns the thread id and the coverage status held before the call.
func (q *Queries) UpsertThread(ctx context.Context, key ThreadKey, subject *string, lastMessageAt time.Time) (string, model.CoverageStatus, error) {
	now := millis(q.now())

	var (
		id     string
		status string
	)
	err := q.queryRow(ctx, `
		INSERT INTO threads
			(id, organization_id, email_account_id, external_thread_id, subject, last_message_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email_account_id, external_thread_id) DO UPDATE SET
			last_message_at = CASE WHEN excluded.last_message_at > threads.last_message_at
			                       THEN excluded.last_message_at ELSE threads.last_message_at END,
			subject = COALESCE(threads.subject, excluded.subject),
			updated_at = excluded.updated_at
		RETURNING id, coverage_status
	`, uuid.NewString(), key.OrganizationID, key.EmailAccountID, key.ExternalThreadID, nullString(subject),
		millis(lastMessageAt), now, now).Scan(&id, &status)
	if err != nil {
		return "", "", fmt.Errorf("failed to upsert thread: %w", err)
	}
	return id, model.CoverageStatus(status), nil
}

// InsertMessage stores a message once. It reports false when (thread, external id) already exists.
func (q *Queries) InsertMessage(ctx context.Context, m model.Message) (bool, error) {
	recipients := m.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	rcpt, err := json.Marshal(recipients)
	if err != nil {
		return false, fmt.Errorf("failed to encode recipients: %w", err)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	res, err := q.exec(ctx, `
		INSERT INTO messages (id, thread_id, external_id, direction, sender, recipients, body, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id, external_id) DO NOTHING
	`, m.ID, m.ThreadID, m.ExternalID, string(m.Direction), m.Sender, string(rcpt), m.Body,
		millis(m.SentAt), millis(q.now()))
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ListThreadMessages returns every persisted message of a thread, oldest first.
func (q *Queries) ListThreadMessages(ctx context.Context, threadID string) ([]model.Message, error) {
	rows, err := q.query(ctx, `
		SELECT id, thread_id, external_id, direction, sender, recipients, body, sent_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY sent_at ASC, external_id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var (
			m         model.Message
			direction string
			rcpt      string
			sentAt    int64
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.ExternalID, &direction, &m.Sender, &rcpt, &m.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(rcpt), &m.Recipients); err != nil {
			return nil, fmt.Errorf("failed to decode recipients of %s: %w", m.ExternalID, err)
		}
		m.Direction = model.Direction(direction)
		m.SentAt = fromMillis(sentAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateThreadCoverage persists the four timestamps and the status in one statement.
func (q *Queries) UpdateThreadCoverage(ctx context.Context, threadID string, c model.Coverage) error {
	res, err := q.exec(ctx, `
		UPDATE threads
		SET first_inbound_at = ?,
		    first_outbound_at = ?,
		    last_inbound_at = ?,
		    last_outbound_at = ?,
		    coverage_status = ?,
		    updated_at = ?
		WHERE id = ?
	`, nullMillis(c.FirstInboundAt), nullMillis(c.FirstOutboundAt), nullMillis(c.LastInboundAt),
		nullMillis(c.LastOutboundAt), string(c.Status), millis(q.now()), threadID)
	if err != nil {
		return fmt.Errorf("failed to update coverage: %w", err)
	}
	return expectOne(res)
}

const threadColumns = `
	id, organization_id, email_account_id, external_thread_id, subject,
	first_inbound_at, first_outbound_at, last_inbound_at, last_outbound_at,
	last_message_at, coverage_status, created_at, updated_at
	FROM threads`

func scanThread(sc interface{ Scan(...any) error }) (model.Thread, error) {
	var (
		t                model.Thread
		subject          sql.NullString
		fi, fo, li, lo   sql.NullInt64
		last             int64
		status           string
		created, updated int64
	)
	err := sc.Scan(&t.ID, &t.OrganizationID, &t.EmailAccountID, &t.ExternalThreadID, &subject,
		&fi, &fo, &li, &lo, &last, &status, &created, &updated)
	if err != nil {
		return model.Thread{}, err
	}
	t.Subject = fromNullString(subject)
	t.FirstInboundAt = fromNullMillis(fi)
	t.FirstOutboundAt = fromNullMillis(fo)
	t.LastInboundAt = fromNullMillis(li)
	t.LastOutboundAt = fromNullMillis(lo)
	t.LastMessageAt = fromMillis(last)
	t.Status = model.CoverageStatus(status)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return t, nil
}

func (q *Queries) GetThread(ctx context.Context, id string) (model.Thread, error) {
	t, err := scanThread(q.queryRow(ctx, `SELECT`+threadColumns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Thread{}, ErrNotFound
		}
		return model.Thread{}, fmt.Errorf("failed to get thread: %w", err)
	}
	return t, nil
}

// ListThreadsByAccount returns a mailbox's threads ordered by external id.
func (q *Queries) ListThreadsByAccount(ctx context.Context, accountID string) ([]model.Thread, error) {
	return q.listThreads(ctx, `SELECT`+threadColumns+`
		WHERE email_account_id = ? ORDER BY external_thread_id`, accountID)
}

func (q *Queries) ListThreadsByCoverage(ctx context.Context, orgID string, status model.CoverageStatus) ([]model.Thread, error) {
	return q.listThreads(ctx, `SELECT`+threadColumns+`
		WHERE organization_id = ? AND coverage_status = ? ORDER BY last_message_at DESC, id`, orgID, string(status))
}

func (q *Queries) listThreads(ctx context.Context, query string, args ...any) ([]model.Thread, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	defer rows.Close()

	var out []model.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) ListThreadIDs(ctx context.Context) ([]string, error) {
	rows, err := q.query(ctx, `SELECT id FROM threads ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListThreadsByFirstInbound returns threads whose first inbound message falls in [start, end],
// newest first. A non-empty repID keeps only threads of that user's mailboxes.
func (q *Queries) ListThreadsByFirstInbound(ctx context.Context, orgID string, start, end time.Time, repID string) ([]InboundThread, error) {
	query := `
		SELECT t.id, t.subject, t.first_inbound_at, t.first_outbound_at, a.email_address, u.name
		FROM threads t
		JOIN email_accounts a ON a.id = t.email_account_id
		JOIN users u ON u.id = a.user_id
		WHERE t.organization_id = ?
		  AND t.first_inbound_at >= ?
		  AND t.first_inbound_at <= ?`
	args := []any{orgID, millis(start), millis(end)}
	if repID != "" {
		query += ` AND a.user_id = ?`
		args = append(args, repID)
	}
	query += ` ORDER BY t.first_inbound_at DESC, t.id`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbound threads: %w", err)
	}
	defer rows.Close()

	var out []InboundThread
	for rows.Next() {
		var (
			t        InboundThread
			subject  sql.NullString
			firstIn  int64
			firstOut sql.NullInt64
			owner    sql.NullString
		)
		if err := rows.Scan(&t.ID, &subject, &firstIn, &firstOut, &t.EmailAddress, &owner); err != nil {
			return nil, fmt.Errorf("failed to scan inbound thread: %w", err)
		}
		t.Subject = fromNullString(subject)
		t.FirstInboundAt = fromMillis(firstIn)
		t.FirstOutboundAt = fromNullMillis(firstOut)
		t.OwnerName = fromNullString(owner)
		out = append(out, t)
	}
	return out, rows.Err()
}
