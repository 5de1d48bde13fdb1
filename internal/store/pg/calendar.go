package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"agentsched.org/internal/event"
)

// Calendar stores event records in calendar_events. A second event for the
// same user and start time violates a unique index and yields event.ErrConflict.
type Calendar struct {
	db *sql.DB
}

func (c *Calendar) Create(ctx context.Context, rec event.Record) error {
	_, err := c.db.ExecContext(ctx, `
		insert into calendar_events(id, user_id, title, description, start_at, end_at, reminder_seconds, created_at, status)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.UserID, rec.Title, rec.Description, rec.Start, rec.End, reminderSeconds(rec), rec.CreatedAt, string(rec.Status))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: %s", event.ErrConflict, rec.Start.Format(time.RFC3339))
	}
	return err
}

func (c *Calendar) HasEventAt(ctx context.Context, userID string, start time.Time) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx, `
		select exists(select 1 from calendar_events where user_id=$1 and start_at=$2)
	`, userID, start).Scan(&exists)
	return exists, err
}

func (c *Calendar) SetStatus(ctx context.Context, id string, status event.Status) error {
	res, err := c.db.ExecContext(ctx, `update calendar_events set status=$2 where id=$1`, id, string(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func reminderSeconds(rec event.Record) sql.NullInt64 {
	if !rec.HasReminder {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(rec.Reminder / time.Second), Valid: true}
}
