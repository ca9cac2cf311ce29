package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

func (s *Store) CreateCollection(ctx context.Context, c storage.Collection) (*storage.Collection, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
		insert into dav_collection(id, owner_principal_id, parent_id, type, slug, display_name, description, timezone_tzid, synctoken)
		values ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, 0)
		returning id::text, owner_principal_id::text, parent_id::text, type, slug, display_name, description, timezone_tzid, synctoken
	`, c.ID, c.OwnerPrincipalID, c.ParentID, c.Type, c.Slug, c.DisplayName, c.Description, c.TimezoneTZID)
	return scanCollection(row)
}

func (s *Store) GetCollectionByID(ctx context.Context, id string) (*storage.Collection, error) {
	row := s.pool.QueryRow(ctx, `
		select id::text, owner_principal_id::text, parent_id::text, type, slug, display_name, description, timezone_tzid, synctoken
		from dav_collection where id::text = $1 and deleted_at is null`, id)
	return scanCollection(row)
}

func (s *Store) GetCollectionBySlug(ctx context.Context, ownerPrincipalID string, parentID *string, slug string) (*storage.Collection, error) {
	row := s.pool.QueryRow(ctx, `
		select id::text, owner_principal_id::text, parent_id::text, type, slug, display_name, description, timezone_tzid, synctoken
		from dav_collection
		where owner_principal_id::text = $1 and parent_id is not distinct from $2::uuid and slug = $3 and deleted_at is null
	`, ownerPrincipalID, parentID, slug)
	return scanCollection(row)
}

func (s *Store) ListChildCollections(ctx context.Context, ownerPrincipalID string, parentID *string) ([]*storage.Collection, error) {
	rows, err := s.pool.Query(ctx, `
		select id::text, owner_principal_id::text, parent_id::text, type, slug, display_name, description, timezone_tzid, synctoken
		from dav_collection
		where owner_principal_id::text = $1 and parent_id is not distinct from $2::uuid and deleted_at is null
		order by slug
	`, ownerPrincipalID, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*storage.Collection
	for rows.Next() {
		c, err := scanCollectionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCollectionProps(ctx context.Context, id string, displayName, description *string) error {
	_, err := s.pool.Exec(ctx, `
		update dav_collection set
			display_name = coalesce($2, display_name),
			description = coalesce($3, description)
		where id::text = $1
	`, id, displayName, description)
	return err
}

func (s *Store) SoftDeleteCollection(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `update dav_collection set deleted_at = now() where id::text = $1`, id)
	return err
}

func (s *Store) BumpSyncToken(ctx context.Context, collectionID string) (int64, error) {
	var token int64
	err := s.pool.QueryRow(ctx, `
		update dav_collection set synctoken = synctoken + 1
		where id::text = $1
		returning synctoken
	`, collectionID).Scan(&token)
	return token, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (*storage.Collection, error) {
	return scanCollectionRows(row)
}

func scanCollectionRows(row rowScanner) (*storage.Collection, error) {
	var c storage.Collection
	var parentID *string
	if err := row.Scan(&c.ID, &c.OwnerPrincipalID, &parentID, &c.Type, &c.Slug, &c.DisplayName, &c.Description, &c.TimezoneTZID, &c.SyncToken); err != nil {
		return nil, err
	}
	c.ParentID = parentID
	return &c, nil
}
