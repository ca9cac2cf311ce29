package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

// WriteEntity performs the transactional replace spec.md §5 requires:
// entity upsert, component/property/parameter tree replace, index rebuild,
// instance upsert, and synctoken bump all commit together or not at all.
func (s *Store) WriteEntity(ctx context.Context, collectionID, slug, contentType, etag string, tree storage.EntityTree, ifMatch, ifNoneMatchAny bool, matchETag string) (*storage.WriteResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var instanceID, entityID, currentETag string
	row := tx.QueryRow(ctx, `
		select id::text, entity_id::text, etag
		from dav_instance
		where collection_id::text = $1 and slug = $2 and deleted_at is null
		for update
	`, collectionID, slug)
	err = row.Scan(&instanceID, &entityID, &currentETag)

	exists := true
	if errors.Is(err, pgx.ErrNoRows) {
		exists = false
	} else if err != nil {
		return nil, err
	}

	if exists && ifNoneMatchAny {
		return nil, storage.ErrPreconditionFailed
	}
	if exists && ifMatch && currentETag != matchETag {
		return nil, storage.ErrPreconditionFailed
	}
	if !exists && ifMatch {
		return nil, storage.ErrPreconditionFailed
	}

	created := !exists
	if created {
		entityID = uuid.NewString()
		instanceID = uuid.NewString()
	}

	if err := replaceEntityTree(ctx, tx, entityID, tree); err != nil {
		return nil, err
	}

	newToken, err := bumpSyncTokenTx(ctx, tx, collectionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if created {
		_, err = tx.Exec(ctx, `
			insert into dav_instance(id, collection_id, entity_id, slug, content_type, etag, sync_revision, last_modified)
			values ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7, $8)
		`, instanceID, collectionID, entityID, slug, contentType, etag, newToken, now)
	} else {
		_, err = tx.Exec(ctx, `
			update dav_instance set entity_id = $2::uuid, etag = $3, sync_revision = $4, last_modified = $5
			where id::text = $1
		`, instanceID, entityID, etag, newToken, now)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &storage.WriteResult{
		EntityID:     entityID,
		InstanceID:   instanceID,
		ETag:         etag,
		SyncRevision: newToken,
		Created:      created,
	}, nil
}

func bumpSyncTokenTx(ctx context.Context, tx pgx.Tx, collectionID string) (int64, error) {
	var token int64
	err := tx.QueryRow(ctx, `
		update dav_collection set synctoken = synctoken + 1
		where id::text = $1
		returning synctoken
	`, collectionID).Scan(&token)
	return token, err
}

// replaceEntityTree deletes the prior component/property/parameter rows
// and derived index rows for entityID (if any) and inserts the new tree,
// substituting real ids for the mapper's placeholder ids in one pass.
func replaceEntityTree(ctx context.Context, tx pgx.Tx, entityID string, tree storage.EntityTree) error {
	_, err := tx.Exec(ctx, `
		insert into dav_entity(id, entity_type, logical_uid)
		values ($1::uuid, $2, $3)
		on conflict (id) do update set entity_type = excluded.entity_type, logical_uid = excluded.logical_uid
	`, entityID, tree.Entity.EntityType, tree.Entity.LogicalUID)
	if err != nil {
		return err
	}

	for _, stmt := range []string{
		`delete from dav_parameter where property_id in (select id from dav_property where component_id in (select id from dav_component where entity_id::text = $1))`,
		`delete from dav_property where component_id in (select id from dav_component where entity_id::text = $1)`,
		`delete from dav_component where entity_id::text = $1`,
		`delete from cal_occurrence where entity_id::text = $1`,
		`delete from cal_index where entity_id::text = $1`,
		`delete from card_index where entity_id::text = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, entityID); err != nil {
			return err
		}
	}

	idMap := make(map[string]string, len(tree.Components)+len(tree.Properties)+len(tree.Parameters))
	realID := func(placeholder string) string {
		if id, ok := idMap[placeholder]; ok {
			return id
		}
		id := uuid.NewString()
		idMap[placeholder] = id
		return id
	}

	for _, c := range tree.Components {
		id := realID(c.ID)
		var parentID *string
		if c.ParentComponentID != nil {
			pid := realID(*c.ParentComponentID)
			parentID = &pid
		}
		if _, err := tx.Exec(ctx, `
			insert into dav_component(id, entity_id, parent_component_id, name, ordinal)
			values ($1::uuid, $2::uuid, $3::uuid, $4, $5)
		`, id, entityID, parentID, c.Name, c.Ordinal); err != nil {
			return err
		}
	}

	for _, p := range tree.Properties {
		id := realID(p.ID)
		componentID := realID(p.ComponentID)
		if _, err := tx.Exec(ctx, `
			insert into dav_property(id, component_id, name, "group", value_type, ordinal,
				value_text, value_integer, value_float, value_boolean, value_date, value_timestamp, value_binary, value_text_array)
			values ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, id, componentID, p.Name, p.Group, p.ValueType, p.Ordinal,
			p.Text, p.Integer, p.Float, p.Boolean, dateOrNil(p.Date), timeOrNil(p.Timestamp), p.Binary, p.TextArray); err != nil {
			return err
		}
	}

	for _, pm := range tree.Parameters {
		propertyID := realID(pm.PropertyID)
		if _, err := tx.Exec(ctx, `
			insert into dav_parameter(id, property_id, name, value, ordinal)
			values ($1::uuid, $2::uuid, $3, $4, $5)
		`, uuid.NewString(), propertyID, pm.Name, pm.Value, pm.Ordinal); err != nil {
			return err
		}
	}

	for _, idx := range tree.CalIndex {
		if _, err := tx.Exec(ctx, `
			insert into cal_index(entity_id, component_id, component_type, uid, recurrence_id_utc, dtstart_utc, dtend_utc, all_day, rrule_text, metadata)
			values ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10)
		`, entityID, realID(idx.ComponentID), idx.ComponentType, idx.UID, idx.RecurrenceIDUTC, idx.DTStartUTC, idx.DTEndUTC, idx.AllDay, idx.RRuleText, idx.Metadata); err != nil {
			return err
		}
	}
	for _, occ := range tree.CalOccurrence {
		if _, err := tx.Exec(ctx, `
			insert into cal_occurrence(entity_id, component_id, start_utc, end_utc)
			values ($1::uuid, $2::uuid, $3, $4)
		`, entityID, realID(occ.ComponentID), occ.StartUTC, occ.EndUTC); err != nil {
			return err
		}
	}
	if tree.CardIndex != nil {
		c := tree.CardIndex
		if _, err := tx.Exec(ctx, `
			insert into card_index(entity_id, uid, fn, email, tel, org, categories, metadata)
			values ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
		`, entityID, c.UID, c.FN, c.Emails, c.Tels, c.Org, c.Categories, c.Metadata); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) GetEntityTree(ctx context.Context, entityID string) (*storage.EntityTree, error) {
	var tree storage.EntityTree
	row := s.pool.QueryRow(ctx, `select id::text, entity_type, logical_uid from dav_entity where id::text = $1`, entityID)
	if err := row.Scan(&tree.Entity.ID, &tree.Entity.EntityType, &tree.Entity.LogicalUID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	crows, err := s.pool.Query(ctx, `
		select id::text, entity_id::text, parent_component_id::text, name, ordinal
		from dav_component where entity_id::text = $1 order by ordinal`, entityID)
	if err != nil {
		return nil, err
	}
	for crows.Next() {
		var c storage.Component
		var parentID *string
		if err := crows.Scan(&c.ID, &c.EntityID, &parentID, &c.Name, &c.Ordinal); err != nil {
			crows.Close()
			return nil, err
		}
		c.ParentComponentID = parentID
		tree.Components = append(tree.Components, c)
	}
	crows.Close()

	prows, err := s.pool.Query(ctx, `
		select id::text, component_id::text, name, "group", value_type, ordinal,
			value_text, value_integer, value_float, value_boolean, value_date, value_timestamp, value_binary, value_text_array
		from dav_property
		where component_id in (select id from dav_component where entity_id::text = $1)
		order by ordinal`, entityID)
	if err != nil {
		return nil, err
	}
	for prows.Next() {
		var p storage.Property
		var date, ts *time.Time
		if err := prows.Scan(&p.ID, &p.ComponentID, &p.Name, &p.Group, &p.ValueType, &p.Ordinal,
			&p.Text, &p.Integer, &p.Float, &p.Boolean, &date, &ts, &p.Binary, &p.TextArray); err != nil {
			prows.Close()
			return nil, err
		}
		if date != nil {
			p.Date = *date
		}
		if ts != nil {
			p.Timestamp = *ts
		}
		tree.Properties = append(tree.Properties, p)
	}
	prows.Close()

	pmrows, err := s.pool.Query(ctx, `
		select id::text, property_id::text, name, value, ordinal
		from dav_parameter
		where property_id in (select id from dav_property where component_id in (select id from dav_component where entity_id::text = $1))
		order by ordinal`, entityID)
	if err != nil {
		return nil, err
	}
	for pmrows.Next() {
		var pm storage.Parameter
		if err := pmrows.Scan(&pm.ID, &pm.PropertyID, &pm.Name, &pm.Value, &pm.Ordinal); err != nil {
			pmrows.Close()
			return nil, err
		}
		tree.Parameters = append(tree.Parameters, pm)
	}
	pmrows.Close()

	return &tree, nil
}

// CopyEntity deep-copies an entity's component tree and derived indexes
// into a new entity bound at a new instance, for the COPY method.
func (s *Store) CopyEntity(ctx context.Context, srcEntityID, destCollectionID, destSlug, contentType, etag string, overwrite bool) (*storage.WriteResult, error) {
	tree, err := s.GetEntityTree(ctx, srcEntityID)
	if err != nil {
		return nil, err
	}
	// Re-key to placeholder ids so replaceEntityTree mints fresh real ids.
	remap := map[string]string{}
	next := func(old string) string {
		if nid, ok := remap[old]; ok {
			return nid
		}
		nid := "copy-" + uuid.NewString()
		remap[old] = nid
		return nid
	}
	for i := range tree.Components {
		tree.Components[i].ID = next(tree.Components[i].ID)
		if tree.Components[i].ParentComponentID != nil {
			pid := next(*tree.Components[i].ParentComponentID)
			tree.Components[i].ParentComponentID = &pid
		}
	}
	for i := range tree.Properties {
		tree.Properties[i].ID = next(tree.Properties[i].ID)
		tree.Properties[i].ComponentID = next(tree.Properties[i].ComponentID)
	}
	for i := range tree.Parameters {
		tree.Parameters[i].PropertyID = next(tree.Parameters[i].PropertyID)
	}
	for i := range tree.CalIndex {
		tree.CalIndex[i].ComponentID = next(tree.CalIndex[i].ComponentID)
	}
	for i := range tree.CalOccurrence {
		tree.CalOccurrence[i].ComponentID = next(tree.CalOccurrence[i].ComponentID)
	}

	return s.WriteEntity(ctx, destCollectionID, destSlug, contentType, etag, *tree, false, !overwrite, "")
}

func dateOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
