package postgres

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

func (s *Store) GetInstanceBySlug(ctx context.Context, collectionID, slug string) (*storage.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		select id::text, collection_id::text, entity_id::text, slug, content_type, etag, sync_revision, last_modified
		from dav_instance
		where collection_id::text = $1 and slug = $2 and deleted_at is null
	`, collectionID, slug)
	return scanInstance(row)
}

func (s *Store) GetInstanceByID(ctx context.Context, id string) (*storage.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		select id::text, collection_id::text, entity_id::text, slug, content_type, etag, sync_revision, last_modified
		from dav_instance
		where id::text = $1 and deleted_at is null
	`, id)
	return scanInstance(row)
}

func (s *Store) ListLiveInstances(ctx context.Context, collectionID string) ([]*storage.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		select id::text, collection_id::text, entity_id::text, slug, content_type, etag, sync_revision, last_modified
		from dav_instance
		where collection_id::text = $1 and deleted_at is null
		order by slug
	`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*storage.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// SoftDeleteInstance marks instanceID deleted and records its tombstone at a
// freshly bumped synctoken revision, all in one transaction, so the bump and
// the tombstone always land together.
func (s *Store) SoftDeleteInstance(ctx context.Context, instanceID string) (*storage.Tombstone, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var collectionID, slug, entityID, etag string
	err = tx.QueryRow(ctx, `
		select collection_id::text, slug, entity_id::text, etag
		from dav_instance where id::text = $1 and deleted_at is null for update
	`, instanceID).Scan(&collectionID, &slug, &entityID, &etag)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `update dav_instance set deleted_at = now() where id::text = $1`, instanceID); err != nil {
		return nil, err
	}

	newRevision, err := bumpSyncTokenTx(ctx, tx, collectionID)
	if err != nil {
		return nil, err
	}

	ts := &storage.Tombstone{
		ID:           uuid.NewString(),
		CollectionID: collectionID,
		Slug:         slug,
		EntityID:     &entityID,
		SyncRevision: newRevision,
		DeletedAt:    time.Now().UTC(),
		LastETag:     etag,
	}
	_, err = tx.Exec(ctx, `
		insert into dav_tombstone(id, collection_id, slug, entity_id, sync_revision, deleted_at, last_etag)
		values ($1::uuid, $2::uuid, $3, $4::uuid, $5, $6, $7)
	`, ts.ID, ts.CollectionID, ts.Slug, ts.EntityID, ts.SyncRevision, ts.DeletedAt, ts.LastETag)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ts, nil
}

// ListChangesSince returns the live instances and tombstones recorded after
// sinceRevision, capped at limit total changes (ordered by sync_revision
// across both sets). When the underlying change set is larger than limit,
// the returned slices are truncated to the oldest limit changes and
// truncated reports true, so the caller can tell the client to retry with a
// narrower sync rather than silently dropping the tail.
func (s *Store) ListChangesSince(ctx context.Context, collectionID string, sinceRevision int64, limit int) ([]*storage.Instance, []*storage.Tombstone, bool, error) {
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
	}

	iq := `
		select id::text, collection_id::text, entity_id::text, slug, content_type, etag, sync_revision, last_modified
		from dav_instance
		where collection_id::text = $1 and sync_revision > $2 and deleted_at is null
		order by sync_revision asc`
	iargs := []any{collectionID, sinceRevision}
	if fetchLimit > 0 {
		iq += " limit $3"
		iargs = append(iargs, fetchLimit)
	}
	irows, err := s.pool.Query(ctx, iq, iargs...)
	if err != nil {
		return nil, nil, false, err
	}
	var instances []*storage.Instance
	for irows.Next() {
		i, err := scanInstance(irows)
		if err != nil {
			irows.Close()
			return nil, nil, false, err
		}
		instances = append(instances, i)
	}
	irows.Close()

	tq := `
		select id::text, collection_id::text, slug, entity_id::text, sync_revision, deleted_at, coalesce(last_etag, ''), coalesce(logical_uid, '')
		from dav_tombstone
		where collection_id::text = $1 and sync_revision > $2
		order by sync_revision asc`
	targs := []any{collectionID, sinceRevision}
	if fetchLimit > 0 {
		tq += " limit $3"
		targs = append(targs, fetchLimit)
	}
	trows, err := s.pool.Query(ctx, tq, targs...)
	if err != nil {
		return nil, nil, false, err
	}
	var tombstones []*storage.Tombstone
	for trows.Next() {
		var t storage.Tombstone
		var entityID *string
		if err := trows.Scan(&t.ID, &t.CollectionID, &t.Slug, &entityID, &t.SyncRevision, &t.DeletedAt, &t.LastETag, &t.LogicalUID); err != nil {
			trows.Close()
			return nil, nil, false, err
		}
		t.EntityID = entityID
		tombstones = append(tombstones, &t)
	}
	trows.Close()

	type change struct {
		rev  int64
		inst *storage.Instance
		ts   *storage.Tombstone
	}
	all := make([]change, 0, len(instances)+len(tombstones))
	for _, i := range instances {
		all = append(all, change{rev: i.SyncRevision, inst: i})
	}
	for _, t := range tombstones {
		all = append(all, change{rev: t.SyncRevision, ts: t})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].rev < all[j].rev })

	truncated := false
	if limit > 0 && len(all) > limit {
		all = all[:limit]
		truncated = true
	}

	instances = instances[:0]
	tombstones = tombstones[:0]
	for _, c := range all {
		if c.inst != nil {
			instances = append(instances, c.inst)
		} else {
			tombstones = append(tombstones, c.ts)
		}
	}
	return instances, tombstones, truncated, nil
}

// RetentionHorizon returns the oldest synctoken revision still covered by a
// retained tombstone for the collection; callers compare a client's prior
// token against this to decide whether a full resync is required.
func (s *Store) RetentionHorizon(ctx context.Context, collectionID string) (int64, error) {
	var horizon *int64
	err := s.pool.QueryRow(ctx, `
		select min(sync_revision) from dav_tombstone where collection_id::text = $1
	`, collectionID).Scan(&horizon)
	if err != nil {
		return 0, err
	}
	if horizon == nil {
		return 0, nil
	}
	return *horizon, nil
}

func scanInstance(row rowScanner) (*storage.Instance, error) {
	var i storage.Instance
	if err := row.Scan(&i.ID, &i.CollectionID, &i.EntityID, &i.Slug, &i.ContentType, &i.ETag, &i.SyncRevision, &i.LastModified); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &i, nil
}
