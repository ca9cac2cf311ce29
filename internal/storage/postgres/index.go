package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

func (s *Store) QueryCalIndex(ctx context.Context, collectionID string, componentTypes []string, start, end *time.Time) ([]storage.CalIndexRow, error) {
	q := `
		select ci.entity_id::text, ci.component_id::text, ci.component_type, ci.uid,
			ci.recurrence_id_utc, ci.dtstart_utc, ci.dtend_utc, ci.all_day, coalesce(ci.rrule_text, ''), ci.metadata
		from cal_index ci
		join dav_instance di on di.entity_id = ci.entity_id
		where di.collection_id::text = $1 and di.deleted_at is null`
	args := []any{collectionID}
	argN := 2

	if len(componentTypes) > 0 {
		q += " and ci.component_type = any($" + strconv.Itoa(argN) + ")"
		args = append(args, componentTypes)
		argN++
	}
	if start != nil {
		q += " and (ci.dtend_utc is null or ci.dtend_utc >= $" + strconv.Itoa(argN) + ")"
		args = append(args, *start)
		argN++
	}
	if end != nil {
		q += " and (ci.dtstart_utc is null or ci.dtstart_utc < $" + strconv.Itoa(argN) + ")"
		args = append(args, *end)
		argN++
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.CalIndexRow
	for rows.Next() {
		var r storage.CalIndexRow
		if err := rows.Scan(&r.EntityID, &r.ComponentID, &r.ComponentType, &r.UID,
			&r.RecurrenceIDUTC, &r.DTStartUTC, &r.DTEndUTC, &r.AllDay, &r.RRuleText, &r.Metadata); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) QueryOccurrences(ctx context.Context, entityIDs []string, start, end time.Time) ([]storage.CalOccurrence, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		select entity_id::text, component_id::text, start_utc, end_utc
		from cal_occurrence
		where entity_id = any($1::uuid[]) and deleted_at is null
		and start_utc < $3 and end_utc >= $2
		order by start_utc
	`, entityIDs, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.CalOccurrence
	for rows.Next() {
		var o storage.CalOccurrence
		if err := rows.Scan(&o.EntityID, &o.ComponentID, &o.StartUTC, &o.EndUTC); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) QueryCardIndex(ctx context.Context, collectionID string) ([]storage.CardIndexRow, error) {
	rows, err := s.pool.Query(ctx, `
		select ci.entity_id::text, ci.uid, ci.fn, ci.email, ci.tel, coalesce(ci.org, ''), ci.categories, ci.metadata
		from card_index ci
		join dav_instance di on di.entity_id = ci.entity_id
		where di.collection_id::text = $1 and di.deleted_at is null
	`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.CardIndexRow
	for rows.Next() {
		var r storage.CardIndexRow
		if err := rows.Scan(&r.EntityID, &r.UID, &r.FN, &r.Emails, &r.Tels, &r.Org, &r.Categories, &r.Metadata); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
