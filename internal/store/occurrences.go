package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"schedline/internal/model"
)

// Expansion records how far an item has been materialized.
type Expansion struct {
	// Complete is set once a finite schedule has been expanded in full.
	Complete bool
	// Through is the exclusive end of the materialized window; zero if the
	// item was never expanded.
	Through time.Time
}

// Occurrence is a stored occurrence joined with its item.
type Occurrence struct {
	ItemID  int64
	Subject string
	Type    string
	model.Occurrence
}

// ReplaceOccurrences drops every occurrence of item id and stores occs and
// state in their place.
func (s *Store) ReplaceOccurrences(ctx context.Context, id int64, occs []model.Occurrence, state Expansion) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM occurrences WHERE item_id = ?`, id); err != nil {
			return errors.Wrapf(err, "clear occurrences of %d", id)
		}
		if err := s.insertOccurrences(ctx, tx, id, occs); err != nil {
			return err
		}
		return setExpansion(ctx, tx, id, state)
	})
}

// AppendOccurrences adds occs to item id, ignoring ones already stored, and
// records state.
func (s *Store) AppendOccurrences(ctx context.Context, id int64, occs []model.Occurrence, state Expansion) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertOccurrences(ctx, tx, id, occs); err != nil {
			return err
		}
		return setExpansion(ctx, tx, id, state)
	})
}

func (s *Store) insertOccurrences(ctx context.Context, tx *sql.Tx, id int64, occs []model.Occurrence) error {
	if len(occs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO occurrences(item_id, start_at, end_at, job, job_id) VALUES(?,?,?,?,?)`)
	if err != nil {
		return errors.Wrap(err, "prepare occurrence insert")
	}
	defer stmt.Close()
	for _, o := range occs {
		var end any
		if o.HasEnd() {
			end = s.formatWall(o.End)
		}
		if _, err := stmt.ExecContext(ctx, id, s.formatWall(o.Start), end, o.Job, o.JobID); err != nil {
			return errors.Wrapf(err, "insert occurrence of %d", id)
		}
	}
	return nil
}

func setExpansion(ctx context.Context, tx *sql.Tx, id int64, state Expansion) error {
	var through any
	if !state.Through.IsZero() {
		through = formatStamp(state.Through)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO expansion(item_id, complete, through) VALUES(?,?,?)
		 ON CONFLICT(item_id) DO UPDATE SET complete = excluded.complete, through = excluded.through`,
		id, state.Complete, through,
	)
	return errors.Wrapf(err, "set expansion of %d", id)
}

// ExpansionState returns the expansion state of item id; an item that was
// never expanded has the zero state.
func (s *Store) ExpansionState(ctx context.Context, id int64) (Expansion, error) {
	var (
		state   Expansion
		through sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT complete, through FROM expansion WHERE item_id = ?`, id).
		Scan(&state.Complete, &through)
	if errors.Is(err, sql.ErrNoRows) {
		return Expansion{}, nil
	}
	if err != nil {
		return Expansion{}, errors.Wrapf(err, "expansion of %d", id)
	}
	t, err := scanStamp(through)
	if err != nil {
		return Expansion{}, err
	}
	if t != nil {
		state.Through = *t
	}
	return state, nil
}

// Occurrences returns stored occurrences of unfinished items starting in
// [from, to), ordered by start.
func (s *Store) Occurrences(ctx context.Context, from, to time.Time) ([]Occurrence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.item_id, i.subject, i.type, o.start_at, o.end_at, o.job, o.job_id
		 FROM occurrences o JOIN items i ON i.id = o.item_id
		 WHERE o.start_at >= ? AND o.start_at < ? AND i.finished_at IS NULL
		 ORDER BY o.start_at, o.item_id, o.job`,
		s.formatWall(from), s.formatWall(to),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query occurrences")
	}
	defer rows.Close()

	var out []Occurrence
	for rows.Next() {
		var (
			o     Occurrence
			start string
			end   sql.NullString
		)
		if err := rows.Scan(&o.ItemID, &o.Subject, &o.Type, &start, &end, &o.Job, &o.JobID); err != nil {
			return nil, errors.Wrap(err, "scan occurrence")
		}
		if o.Start, err = s.parseWall(start); err != nil {
			return nil, err
		}
		if end.Valid {
			if o.End, err = s.parseWall(end.String); err != nil {
				return nil, err
			}
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "query occurrences")
}

func (s *Store) formatWall(t time.Time) string {
	return t.In(s.loc).Format(occurrenceLayout)
}

func (s *Store) parseWall(v string) (time.Time, error) {
	t, err := time.ParseInLocation(occurrenceLayout, v, s.loc)
	return t, errors.Wrapf(err, "parse occurrence time %q", v)
}

// Completion is one entry of the completion log.
type Completion struct {
	ItemID int64
	// Occurrence is the completed occurrence; zero for unscheduled items.
	Occurrence  time.Time
	Job         string
	CompletedAt time.Time
}

// CompleteItem stores the updated rec and appends c to its completion log in
// one transaction.
func (s *Store) CompleteItem(ctx context.Context, rec Record, c Completion) error {
	c.ItemID = rec.ID
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateItem(ctx, tx, rec, formatStamp(s.now())); err != nil {
			return err
		}
		return recordCompletion(ctx, tx, c)
	})
}

func recordCompletion(ctx context.Context, tx *sql.Tx, c Completion) error {
	var occ any
	if !c.Occurrence.IsZero() {
		occ = formatStamp(c.Occurrence)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO completions(item_id, occurrence, job, completed_at) VALUES(?,?,?,?)`,
		c.ItemID, occ, c.Job, formatStamp(c.CompletedAt),
	)
	return errors.Wrapf(err, "record completion of %d", c.ItemID)
}

// Completions returns the completion log of item id, oldest first.
func (s *Store) Completions(ctx context.Context, id int64) ([]Completion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT occurrence, job, completed_at FROM completions WHERE item_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, errors.Wrapf(err, "completions of %d", id)
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		var (
			c    = Completion{ItemID: id}
			occ  sql.NullString
			done string
		)
		if err := rows.Scan(&occ, &c.Job, &done); err != nil {
			return nil, errors.Wrap(err, "scan completion")
		}
		t, err := scanStamp(occ)
		if err != nil {
			return nil, err
		}
		if t != nil {
			c.Occurrence = *t
		}
		if c.CompletedAt, err = parseStamp(done); err != nil {
			return nil, errors.Wrap(err, "parse completed_at")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "completions")
}
