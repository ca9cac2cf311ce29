package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/sonroyaalmerol/caldav-core/internal/storage"
)

func (s *Store) ListPolicies(ctx context.Context) ([]storage.Policy, error) {
	rows, err := s.pool.Query(ctx, `
		select id::text, subject_id, path_pattern, level from policy
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storage.Policy
	for rows.Next() {
		var p storage.Policy
		if err := rows.Scan(&p.ID, &p.SubjectID, &p.PathPattern, &p.Level); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GrantShare records an explicit share: granteePrincipalID gains level on
// the resource subtree matched by pathPattern. granterPrincipalID is kept
// for audit logging at the caller, not stored as a column this schema
// needs for evaluation (union semantics per spec.md §4.5 don't need the
// granter's identity to answer an authorization check).
func (s *Store) GrantShare(ctx context.Context, granterPrincipalID, granteePrincipalID, pathPattern, level string) error {
	_, err := s.pool.Exec(ctx, `
		insert into policy(id, subject_id, path_pattern, level)
		values ($1::uuid, $2, $3, $4)
	`, uuid.NewString(), granteePrincipalID, pathPattern, level)
	return err
}
