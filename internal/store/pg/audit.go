package pg

import (
	"context"
	"database/sql"

	"agentsched.org/internal/audit"
)

// AuditStore persists audit entries in audit_log.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log(seq, id, at, request_id, actor, action, event_id, outcome, detail)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, int64(e.Seq), e.ID, e.At, e.RequestID, e.Actor, e.Action, e.EventID, string(e.Outcome), e.Detail)
	return err
}

func (s *AuditStore) Query(ctx context.Context, limit int, f audit.Filter) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select seq, id, at, request_id, actor, action, event_id, outcome, detail
		from audit_log
		where ($1 = '' or actor = $1)
		  and ($2 = '' or action = $2)
		  and ($3 = '' or event_id = $3)
		  and ($4 = '' or request_id = $4)
		  and ($5 = '' or outcome = $5)
		order by seq desc
		limit $6
	`, f.Actor, f.Action, f.EventID, f.RequestID, string(f.Outcome), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			seq     int64
			outcome string
		)
		if err := rows.Scan(&seq, &e.ID, &e.At, &e.RequestID, &e.Actor, &e.Action, &e.EventID, &outcome, &e.Detail); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Outcome = audit.Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *AuditStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `select coalesce(max(seq), 0) from audit_log`).Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}
