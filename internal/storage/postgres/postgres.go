// Package postgres implements storage.Store against a PostgreSQL database
// reached through a pgx connection pool, grounded on the teacher's own use
// of jackc/pgx/v5 for the same purpose.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func New(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) GetPrincipalBySlug(ctx context.Context, slug string) (*storage.Principal, error) {
	row := s.pool.QueryRow(ctx, `
		select id::text, type, slug, coalesce(display_name, '')
		from principal where slug = $1`, slug)
	var p storage.Principal
	if err := row.Scan(&p.ID, &p.Type, &p.Slug, &p.DisplayName); err != nil {
		return nil, mapNoRows(err)
	}
	return &p, nil
}

func (s *Store) GetPrincipalByID(ctx context.Context, id string) (*storage.Principal, error) {
	row := s.pool.QueryRow(ctx, `
		select id::text, type, slug, coalesce(display_name, '')
		from principal where id::text = $1`, id)
	var p storage.Principal
	if err := row.Scan(&p.ID, &p.Type, &p.Slug, &p.DisplayName); err != nil {
		return nil, mapNoRows(err)
	}
	return &p, nil
}

func (s *Store) GetUserByPrincipalID(ctx context.Context, principalID string) (*storage.User, error) {
	row := s.pool.QueryRow(ctx, `
		select id::text, principal_id::text, name, email, coalesce(password_hash, '')
		from "user" where principal_id::text = $1`, principalID)
	var u storage.User
	if err := row.Scan(&u.ID, &u.PrincipalID, &u.Name, &u.Email, &u.PasswordHash); err != nil {
		return nil, mapNoRows(err)
	}
	return &u, nil
}

func (s *Store) GetUserByName(ctx context.Context, name string) (*storage.User, error) {
	row := s.pool.QueryRow(ctx, `
		select id::text, principal_id::text, name, email, coalesce(password_hash, '')
		from "user" where name = $1`, name)
	var u storage.User
	if err := row.Scan(&u.ID, &u.PrincipalID, &u.Name, &u.Email, &u.PasswordHash); err != nil {
		return nil, mapNoRows(err)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	row := s.pool.QueryRow(ctx, `
		select id::text, principal_id::text, name, email, coalesce(password_hash, '')
		from "user" where email = $1`, email)
	var u storage.User
	if err := row.Scan(&u.ID, &u.PrincipalID, &u.Name, &u.Email, &u.PasswordHash); err != nil {
		return nil, mapNoRows(err)
	}
	return &u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u storage.User, slug, displayName string) (*storage.Principal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var principalID string
	err = tx.QueryRow(ctx, `
		insert into principal(type, slug, display_name)
		values ('user', $1, $2)
		on conflict (slug) do update set display_name = excluded.display_name
		returning id::text
	`, slug, displayName).Scan(&principalID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		insert into "user"(principal_id, name, email, password_hash)
		values ($1::uuid, $2, $3, nullif($4, ''))
		on conflict (principal_id) do update set
			name = excluded.name, email = excluded.email,
			password_hash = coalesce(excluded.password_hash, "user".password_hash)
	`, principalID, u.Name, u.Email, u.PasswordHash)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &storage.Principal{ID: principalID, Type: storage.PrincipalUser, Slug: slug, DisplayName: displayName}, nil
}

func (s *Store) UpsertGroup(ctx context.Context, slug, displayName string) (*storage.Principal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var principalID string
	err = tx.QueryRow(ctx, `
		insert into principal(type, slug, display_name)
		values ('group', $1, $2)
		on conflict (slug) do update set display_name = excluded.display_name
		returning id::text
	`, slug, displayName).Scan(&principalID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		insert into "group"(principal_id) values ($1::uuid)
		on conflict (principal_id) do nothing
	`, principalID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &storage.Principal{ID: principalID, Type: storage.PrincipalGroup, Slug: slug, DisplayName: displayName}, nil
}

func (s *Store) SetMembership(ctx context.Context, userPrincipalID, groupPrincipalID string, member bool) error {
	if member {
		_, err := s.pool.Exec(ctx, `
			insert into membership(user_id, group_id)
			select u.id, g.id from "user" u, "group" g
			where u.principal_id::text = $1 and g.principal_id::text = $2
			on conflict do nothing
		`, userPrincipalID, groupPrincipalID)
		return err
	}
	_, err := s.pool.Exec(ctx, `
		delete from membership
		using "user" u, "group" g
		where membership.user_id = u.id and membership.group_id = g.id
		and u.principal_id::text = $1 and g.principal_id::text = $2
	`, userPrincipalID, groupPrincipalID)
	return err
}

func (s *Store) GroupsForUser(ctx context.Context, userPrincipalID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		select g.principal_id::text
		from membership m
		join "user" u on u.id = m.user_id
		join "group" g on g.id = m.group_id
		where u.principal_id::text = $1
	`, userPrincipalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
