package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mcdev12/studysync/go/internal/models"
	"github.com/mcdev12/studysync/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type queries struct {
	db DBTX
}

const getRoom = `
SELECT name, host_id, members, is_public, credential_hash, allowed_identities, last_active, created_at
FROM study_rooms
WHERE name = $1`

func (q *queries) getRoom(ctx context.Context, name string) (*models.Room, error) {
	var (
		room    models.Room
		hostID  sql.NullString
		members pqtype.NullRawMessage
		hash    sql.NullString
		allowed []string
	)
	err := q.db.QueryRowContext(ctx, getRoom, name).Scan(
		&room.Name, &hostID, &members, &room.IsPublic, &hash,
		pq.Array(&allowed), &room.LastActive, &room.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	room.HostID = sqlutil.FromSqlString(hostID, "")
	room.CredentialHash = sqlutil.FromSqlStringPtr(hash)
	room.AllowedIdentities = allowed
	if err := sqlutil.FromNullRawMessage(members, &room.Members); err != nil {
		return nil, err
	}
	return &room, nil
}

const upsertRoom = `
INSERT INTO study_rooms (name, host_id, members, is_public, credential_hash, allowed_identities, last_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (name) DO UPDATE SET
    host_id            = EXCLUDED.host_id,
    members            = EXCLUDED.members,
    is_public          = EXCLUDED.is_public,
    credential_hash    = EXCLUDED.credential_hash,
    allowed_identities = EXCLUDED.allowed_identities,
    last_active        = EXCLUDED.last_active`

func (q *queries) upsertRoom(ctx context.Context, room *models.Room) error {
	members := room.Members
	if members == nil {
		members = []models.RoomMember{}
	}
	raw, err := sqlutil.ToNullRawMessage(members)
	if err != nil {
		return err
	}
	allowed := room.AllowedIdentities
	if allowed == nil {
		allowed = []string{}
	}
	_, err = q.db.ExecContext(ctx, upsertRoom,
		room.Name,
		sqlutil.ToSqlStringEmpty(room.HostID),
		raw,
		room.IsPublic,
		sqlutil.ToSqlString(room.CredentialHash),
		pq.Array(allowed),
		room.LastActive,
	)
	return err
}

const updateMembers = `
UPDATE study_rooms
SET host_id = $2, members = $3, last_active = $4
WHERE name = $1`

func (q *queries) updateMembers(ctx context.Context, name, hostID string, members []models.RoomMember, at time.Time) (int64, error) {
	if members == nil {
		members = []models.RoomMember{}
	}
	raw, err := sqlutil.ToNullRawMessage(members)
	if err != nil {
		return 0, err
	}
	res, err := q.db.ExecContext(ctx, updateMembers, name, sqlutil.ToSqlStringEmpty(hostID), raw, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteRoom = `DELETE FROM study_rooms WHERE name = $1`

func (q *queries) deleteRoom(ctx context.Context, name string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteRoom, name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listMessages = `
SELECT id, room, author_display_name, author_id, text, is_verified, created_at
FROM (
    SELECT * FROM study_messages
    WHERE room = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2
) recent
ORDER BY created_at ASC, id ASC`

func (q *queries) listMessages(ctx context.Context, room string, limit int) ([]models.Message, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := q.db.QueryContext(ctx, listMessages, room, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m        models.Message
			id       uuid.UUID
			authorID sql.NullString
		)
		if err := rows.Scan(&id, &m.Room, &m.AuthorDisplayName, &authorID, &m.Text, &m.IsVerified, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ID = id.String()
		m.AuthorID = sqlutil.FromSqlString(authorID, "")
		out = append(out, m)
	}
	return out, rows.Err()
}

const insertMessage = `
INSERT INTO study_messages (id, room, author_display_name, author_id, text, is_verified, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (q *queries) insertMessage(ctx context.Context, m *models.Message) error {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		id = uuid.New()
	}
	_, err = q.db.ExecContext(ctx, insertMessage,
		id, m.Room, m.AuthorDisplayName, sqlutil.ToSqlStringEmpty(m.AuthorID), m.Text, m.IsVerified, m.CreatedAt,
	)
	return err
}

const deleteMessages = `DELETE FROM study_messages WHERE room = $1`

func (q *queries) deleteMessages(ctx context.Context, room string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteMessages, room)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Postgres stores rooms and messages in the study_rooms and study_messages
// tables (see schema.sql).
type Postgres struct {
	db *sql.DB
	q  *queries
}

// NewPostgres wraps an open lib/pq connection.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: &queries{db: db}}
}

func newTxQueries(tx *sql.Tx) *queries { return &queries{db: tx} }

func (p *Postgres) GetRoom(ctx context.Context, name string) (*models.Room, error) {
	room, err := p.q.getRoom(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

func (p *Postgres) SaveRoom(ctx context.Context, room *models.Room) error {
	if err := p.q.upsertRoom(ctx, room); err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

// UpdateMembers only touches an existing row, so a room deleted by another
// writer stays deleted.
func (p *Postgres) UpdateMembers(ctx context.Context, name, hostID string, members []models.RoomMember, at time.Time) error {
	n, err := p.q.updateMembers(ctx, name, hostID, members, at)
	if err != nil {
		return fmt.Errorf("failed to update members: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRoom removes the room together with its chat log in one transaction.
func (p *Postgres) DeleteRoom(ctx context.Context, name string) error {
	err := sqlutil.Run(ctx, p.db, newTxQueries, func(q *queries) error {
		if _, err := q.deleteMessages(ctx, name); err != nil {
			return err
		}
		_, err := q.deleteRoom(ctx, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

func (p *Postgres) GetMessages(ctx context.Context, room string, limit int) ([]models.Message, error) {
	msgs, err := sqlutil.Get(ctx, p.db, &sql.TxOptions{ReadOnly: true}, newTxQueries,
		func(q *queries) ([]models.Message, error) {
			return q.listMessages(ctx, room, limit)
		})
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return msgs, nil
}

func (p *Postgres) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := p.q.insertMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

func (p *Postgres) DeleteMessages(ctx context.Context, room string) error {
	if _, err := p.q.deleteMessages(ctx, room); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}
