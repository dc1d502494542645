package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"chatroom-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidMessage  = errors.New("invalid message")
)

// MessageRepository is the durable message log. Ownership checks are the caller's job.
type MessageRepository interface {
	Append(ctx context.Context, author, text, kind string, scope models.Scope, recipient string) (models.Message, error)
	Edit(ctx context.Context, messageID int64, newText string) error
	SoftDelete(ctx context.Context, messageID int64) error
	Recent(ctx context.Context, q RecentQuery) ([]models.Message, error)
	GetByID(ctx context.Context, messageID int64) (models.Message, error)
	MarkRead(ctx context.Context, reader, sender string) (int64, error)
	UnreadCountFor(ctx context.Context, username string) (int, error)
	UnreadCountsPerSender(ctx context.Context, username string) (map[string]int, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RecentQuery selects a thread. Recipient and Requester are used for private scope only.
type RecentQuery struct {
	Scope     models.Scope
	Recipient string
	Requester string
	Limit     int
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: time.Now}
}

type messageRow struct {
	ID        int64          `db:"id"`
	Author    string         `db:"author"`
	Text      string         `db:"text"`
	Kind      string         `db:"kind"`
	Scope     string         `db:"scope"`
	Recipient sql.NullString `db:"recipient"`
	CreatedAt int64          `db:"created_at"`
	Edited    bool           `db:"is_edited"`
	Deleted   bool           `db:"is_deleted"`
	Read      bool           `db:"is_read"`
}

func (r messageRow) toModel() models.Message {
	msg := models.Message{
		ID:        r.ID,
		Author:    r.Author,
		Text:      r.Text,
		Kind:      r.Kind,
		Scope:     models.Scope(r.Scope),
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		Edited:    r.Edited,
		Deleted:   r.Deleted,
		Read:      r.Read,
	}
	if r.Recipient.Valid {
		recipient := r.Recipient.String
		msg.Recipient = &recipient
	}
	return msg
}

const messageColumns = `id, author, text, kind, scope, recipient, created_at, is_edited, is_deleted, is_read`

// Append stores a message and returns it with its store-assigned id.
func (r *MessageRepo) Append(ctx context.Context, author, text, kind string, scope models.Scope, recipient string) (models.Message, error) {
	if author == "" || !scope.Valid() {
		return models.Message{}, ErrInvalidMessage
	}
	if kind == "" {
		kind = models.KindText
	}

	var to sql.NullString
	switch scope {
	case models.ScopePrivate:
		if recipient == "" {
			return models.Message{}, fmt.Errorf("%w: private message without recipient", ErrInvalidMessage)
		}
		to = sql.NullString{String: recipient, Valid: true}
	case models.ScopeGroup:
		if recipient != "" {
			return models.Message{}, fmt.Errorf("%w: group message with recipient", ErrInvalidMessage)
		}
	}

	var row messageRow
	query := r.db.Rebind(`INSERT INTO messages (author, text, kind, scope, recipient, created_at, is_edited, is_deleted, is_read)
        VALUES (?, ?, ?, ?, ?, ?, FALSE, FALSE, FALSE) RETURNING ` + messageColumns)
	if err := r.db.QueryRowxContext(ctx, query, author, text, kind, string(scope), to, r.now().UnixMilli()).StructScan(&row); err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	return row.toModel(), nil
}

// Edit replaces the text of a live message and flags it edited.
func (r *MessageRepo) Edit(ctx context.Context, messageID int64, newText string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET text = ?, is_edited = TRUE WHERE id = ? AND is_deleted = FALSE`), newText, messageID)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return requireAffected(res)
}

// SoftDelete tombstones a message. Deleting a tombstone again succeeds.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET is_deleted = TRUE WHERE id = ?`), messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireAffected(res)
}

// Recent returns up to q.Limit live messages of a thread, oldest first.
func (r *MessageRepo) Recent(ctx context.Context, q RecentQuery) ([]models.Message, error) {
	if q.Limit <= 0 {
		return []models.Message{}, nil
	}

	var (
		where strings.Builder
		args  []any
	)
	where.WriteString(`is_deleted = FALSE AND scope = ?`)
	args = append(args, string(q.Scope))

	switch q.Scope {
	case models.ScopeGroup:
	case models.ScopePrivate:
		if q.Recipient == "" || q.Requester == "" {
			return nil, fmt.Errorf("%w: private thread needs both participants", ErrInvalidMessage)
		}
		where.WriteString(` AND ((author = ? AND recipient = ?) OR (author = ? AND recipient = ?))`)
		args = append(args, q.Requester, q.Recipient, q.Recipient, q.Requester)
	default:
		return nil, ErrInvalidMessage
	}
	args = append(args, q.Limit)

	query := r.db.Rebind(`SELECT ` + messageColumns + ` FROM messages WHERE ` + where.String() + ` ORDER BY id DESC LIMIT ?`)
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}

	msgs := make([]models.Message, len(rows))
	for i, row := range rows {
		msgs[len(rows)-1-i] = row.toModel()
	}
	return msgs, nil
}

// GetByID retrieves a single message, tombstoned or not.
func (r *MessageRepo) GetByID(ctx context.Context, messageID int64) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("get message: %w", err)
	}
	return row.toModel(), nil
}

// MarkRead flags every unread live private message sender→reader as read and returns how many flipped.
func (r *MessageRepo) MarkRead(ctx context.Context, reader, sender string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET is_read = TRUE
        WHERE recipient = ? AND author = ? AND scope = 'private' AND is_read = FALSE AND is_deleted = FALSE`), reader, sender)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}

// UnreadCountFor counts unread live private messages addressed to username.
func (r *MessageRepo) UnreadCountFor(ctx context.Context, username string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM messages
        WHERE recipient = ? AND scope = 'private' AND is_read = FALSE AND is_deleted = FALSE`), username)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

// UnreadCountsPerSender groups unread live private messages addressed to username by author.
func (r *MessageRepo) UnreadCountsPerSender(ctx context.Context, username string) (map[string]int, error) {
	var rows []struct {
		Sender string `db:"sender"`
		Count  int    `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`SELECT author AS sender, COUNT(*) AS count FROM messages
        WHERE recipient = ? AND scope = 'private' AND is_read = FALSE AND is_deleted = FALSE
        GROUP BY author`), username)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Sender] = row.Count
	}
	return counts, nil
}

// PurgeOlderThan tombstones live messages created before cutoff.
func (r *MessageRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET is_deleted = TRUE WHERE is_deleted = FALSE AND created_at < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	return res.RowsAffected()
}

func requireAffected(res sql.Result) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
