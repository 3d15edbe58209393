package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const groupColumns = `
	g.id, g.name, g.description, g.group_image, g.admin_id, g.created_at, g.updated_at,
	ARRAY(SELECT m.user_id FROM group_members m WHERE m.group_id = g.id ORDER BY m.joined_at, m.user_id)`

const messageColumns = `id, sender_id, COALESCE(receiver_id,''), COALESCE(group_id,''), text, image, created_at`

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) CreateDirectMessage(ctx context.Context, m Message) (Message, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO messages(sender_id, receiver_id, text, image)
		VALUES($1,$2,$3,$4) RETURNING id, created_at
	`, m.SenderID, m.ReceiverID, m.Text, m.Image).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, errors.Wrap(err, "insert direct message")
	}
	return m, nil
}

func (s *PgStore) DirectHistory(ctx context.Context, a, b string, limit int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) recent ORDER BY created_at, id
	`, a, b, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query direct history")
	}
	return collectMessages(rows)
}

func (s *PgStore) CreateGroup(ctx context.Context, g Group) (Group, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Group{}, errors.Wrap(err, "begin create group")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO group_chats(id, name, description, group_image, admin_id)
		VALUES($1,$2,$3,$4,$5)
	`, g.ID, g.Name, g.Description, g.GroupImage, g.AdminID); err != nil {
		return Group{}, errors.Wrap(err, "insert group")
	}
	for _, m := range g.Members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO group_members(group_id, user_id) VALUES($1,$2) ON CONFLICT DO NOTHING
		`, g.ID, m); err != nil {
			return Group{}, errors.Wrapf(err, "insert member %s", m)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Group{}, errors.Wrap(err, "commit create group")
	}
	return s.Group(ctx, g.ID)
}

func (s *PgStore) Group(ctx context.Context, id string) (Group, error) {
	row := s.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM group_chats g WHERE g.id=$1`, id)
	g, err := scanGroup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	if err != nil {
		return Group{}, errors.Wrapf(err, "load group %s", id)
	}
	return g, nil
}

func (s *PgStore) GroupsOf(ctx context.Context, user string) ([]Group, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+groupColumns+` FROM group_chats g
		WHERE g.id IN (SELECT group_id FROM group_members WHERE user_id=$1)
		ORDER BY g.updated_at DESC
	`, user)
	if err != nil {
		return nil, errors.Wrap(err, "query groups")
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan group")
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PgStore) UpdateGroup(ctx context.Context, g Group) (Group, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE group_chats SET name=$2, description=$3, group_image=$4, updated_at=now()
		WHERE id=$1
	`, g.ID, g.Name, g.Description, g.GroupImage)
	if err != nil {
		return Group{}, errors.Wrap(err, "update group")
	}
	if tag.RowsAffected() == 0 {
		return Group{}, ErrNotFound
	}
	return s.Group(ctx, g.ID)
}

func (s *PgStore) AddMembers(ctx context.Context, groupID string, members []string) (Group, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Group{}, errors.Wrap(err, "begin add members")
	}
	defer tx.Rollback(ctx)

	for _, m := range members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO group_members(group_id, user_id) VALUES($1,$2) ON CONFLICT DO NOTHING
		`, groupID, m); err != nil {
			return Group{}, errors.Wrapf(err, "add member %s", m)
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE group_chats SET updated_at=now() WHERE id=$1`, groupID); err != nil {
		return Group{}, errors.Wrap(err, "touch group")
	}
	if err := tx.Commit(ctx); err != nil {
		return Group{}, errors.Wrap(err, "commit add members")
	}
	return s.Group(ctx, groupID)
}

func (s *PgStore) RemoveMember(ctx context.Context, groupID, member, newAdmin string) (Group, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Group{}, errors.Wrap(err, "begin remove member")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`, groupID, member); err != nil {
		return Group{}, errors.Wrap(err, "delete member")
	}
	if newAdmin != "" {
		if _, err := tx.Exec(ctx, `UPDATE group_chats SET admin_id=$2 WHERE id=$1`, groupID, newAdmin); err != nil {
			return Group{}, errors.Wrap(err, "reassign admin")
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE group_chats SET updated_at=now() WHERE id=$1`, groupID); err != nil {
		return Group{}, errors.Wrap(err, "touch group")
	}
	if err := tx.Commit(ctx); err != nil {
		return Group{}, errors.Wrap(err, "commit remove member")
	}
	return s.Group(ctx, groupID)
}

func (s *PgStore) DeleteGroup(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM group_chats WHERE id=$1`, id); err != nil {
		return errors.Wrap(err, "delete group")
	}
	return nil
}

func (s *PgStore) CreateGroupMessage(ctx context.Context, m Message) (Message, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO messages(sender_id, group_id, text, image)
		VALUES($1,$2,$3,$4) RETURNING id, created_at
	`, m.SenderID, m.GroupID, m.Text, m.Image).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, errors.Wrap(err, "insert group message")
	}
	return m, nil
}

func (s *PgStore) GroupHistory(ctx context.Context, groupID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE group_id=$1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent ORDER BY created_at, id
	`, groupID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query group history")
	}
	return collectMessages(rows)
}

func scanGroup(row pgx.Row) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.GroupImage, &g.AdminID, &g.CreatedAt, &g.UpdatedAt, &g.Members)
	return g, err
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	items := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.GroupID, &m.Text, &m.Image, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
