package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const demoGroupID = "demo-group"

type seedUser struct{ ID, Email, Name, Pass string }

var seedUsers = []seedUser{
	{"alice", "alice@example.com", "Alice Demo", "password"},
	{"bob", "bob@example.com", "Bob Demo", "password"},
	{"carol", "carol@example.com", "Carol Demo", "password"},
}

// DevSeedUsers returns the ids RunDevSeed creates.
func DevSeedUsers() []string {
	ids := make([]string, len(seedUsers))
	for i, u := range seedUsers {
		ids[i] = u.ID
	}
	return ids
}

// RunDevSeed inserts demo users and a demo group they all belong to.
func RunDevSeed(pool *pgxpool.Pool, log *zap.Logger) error {
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin seed")
	}
	defer tx.Rollback(ctx)

	for _, u := range seedUsers {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Pass), bcrypt.DefaultCost)
		if err != nil {
			return errors.Wrap(err, "hash seed password")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO users(id, email, full_name, password_hash)
			VALUES($1,$2,$3,$4)
			ON CONFLICT (id) DO UPDATE SET full_name=EXCLUDED.full_name
		`, u.ID, strings.ToLower(u.Email), u.Name, string(hash)); err != nil {
			return errors.Wrapf(err, "seed user %s", u.Email)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO group_chats(id, name, description, admin_id)
		VALUES($1,'Demo group','Seeded for local testing','alice')
		ON CONFLICT (id) DO NOTHING
	`, demoGroupID); err != nil {
		return errors.Wrap(err, "seed group")
	}
	for _, u := range seedUsers {
		if _, err := tx.Exec(ctx, `
			INSERT INTO group_members(group_id, user_id) VALUES($1,$2)
			ON CONFLICT DO NOTHING
		`, demoGroupID, u.ID); err != nil {
			return errors.Wrapf(err, "seed member %s", u.ID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit seed")
	}
	log.Info("dev-seed: OK", zap.Int("users", len(seedUsers)), zap.String("group", demoGroupID))
	return nil
}
