package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	appLog "schedline/internal/log"
)

// Record is a stored item. Entry holds the canonical entry text; the
// structured item is recovered by parsing it.
type Record struct {
	ID      int64
	Entry   string
	Type    string
	Subject string

	// Source and UID identify items imported from a subscription; both are
	// empty for items added by hand.
	Source string
	UID    string

	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Filter narrows ListItems.
type Filter struct {
	IncludeFinished bool
	// Source restricts the listing to one subscription when non-empty.
	Source string
}

const itemColumns = `id, entry, type, subject, source, uid, finished_at, created_at, updated_at`

// AddItem inserts rec and returns its id.
func (s *Store) AddItem(ctx context.Context, rec Record) (int64, error) {
	now := formatStamp(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items(entry, type, subject, source, uid, finished_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		rec.Entry, rec.Type, rec.Subject, rec.Source, rec.UID, nullStamp(rec.FinishedAt), now, now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "insert item")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "insert item id")
	}
	appLog.Debug("store: item added", "id", id, "subject", rec.Subject)
	return id, nil
}

// UpdateItem replaces the entry of an existing item. Its materialized
// occurrences and expansion state are dropped because the schedule may have
// changed.
func (s *Store) UpdateItem(ctx context.Context, rec Record) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateItem(ctx, tx, rec, formatStamp(s.now()))
	})
}

func updateItem(ctx context.Context, tx *sql.Tx, rec Record, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE items SET entry = ?, type = ?, subject = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		rec.Entry, rec.Type, rec.Subject, nullStamp(rec.FinishedAt), now, rec.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "update item %d", rec.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "item %d", rec.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM occurrences WHERE item_id = ?`, rec.ID); err != nil {
		return errors.Wrapf(err, "clear occurrences of %d", rec.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM expansion WHERE item_id = ?`, rec.ID); err != nil {
		return errors.Wrapf(err, "clear expansion of %d", rec.ID)
	}
	return nil
}

// GetItem returns the item with the given id or ErrNotFound.
func (s *Store) GetItem(ctx context.Context, id int64) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errors.Wrapf(ErrNotFound, "item %d", id)
	}
	return rec, err
}

// ListItems returns items ordered by id.
func (s *Store) ListItems(ctx context.Context, f Filter) ([]Record, error) {
	q := `SELECT ` + itemColumns + ` FROM items WHERE 1 = 1`
	var args []any
	if !f.IncludeFinished {
		q += ` AND finished_at IS NULL`
	}
	if f.Source != "" {
		q += ` AND source = ?`
		args = append(args, f.Source)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list items")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "list items")
}

// DeleteItem removes an item together with its occurrences, expansion state
// and completions.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete item %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(ErrNotFound, "item %d", id)
	}
	return nil
}

// SyncResult counts the changes made by ReplaceSource.
type SyncResult struct {
	Added     int
	Updated   int
	Unchanged int
	Removed   int
}

// ReplaceSource makes the items of one subscription match recs, keyed by
// UID: new UIDs are added, changed entries updated and missing ones removed.
func (s *Store) ReplaceSource(ctx context.Context, source string, recs []Record) (SyncResult, error) {
	var out SyncResult
	if source == "" {
		return out, errors.New("replace source: empty source id")
	}
	now := formatStamp(s.now())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing := map[string]Record{}
		rows, err := tx.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE source = ?`, source)
		if err != nil {
			return errors.Wrapf(err, "list source %s", source)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return err
			}
			existing[rec.UID] = rec
		}
		rows.Close()

		seen := map[string]bool{}
		for _, rec := range recs {
			if rec.UID == "" || seen[rec.UID] {
				continue
			}
			seen[rec.UID] = true
			old, ok := existing[rec.UID]
			switch {
			case !ok:
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO items(entry, type, subject, source, uid, finished_at, created_at, updated_at)
					 VALUES(?,?,?,?,?,?,?,?)`,
					rec.Entry, rec.Type, rec.Subject, source, rec.UID, nullStamp(rec.FinishedAt), now, now,
				); err != nil {
					return errors.Wrapf(err, "insert %s/%s", source, rec.UID)
				}
				out.Added++
			case old.Entry == rec.Entry:
				out.Unchanged++
			default:
				rec.ID = old.ID
				rec.FinishedAt = old.FinishedAt
				if err := updateItem(ctx, tx, rec, now); err != nil {
					return err
				}
				out.Updated++
			}
		}
		for uid, old := range existing {
			if seen[uid] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, old.ID); err != nil {
				return errors.Wrapf(err, "remove %s/%s", source, uid)
			}
			out.Removed++
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}
	appLog.Info("store: source synced", "source", source, "added", out.Added, "updated", out.Updated, "removed", out.Removed)
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec               Record
		finished          sql.NullString
		created, modified string
	)
	if err := sc.Scan(&rec.ID, &rec.Entry, &rec.Type, &rec.Subject, &rec.Source, &rec.UID, &finished, &created, &modified); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, errors.Wrap(err, "scan item")
	}
	var err error
	if rec.FinishedAt, err = scanStamp(finished); err != nil {
		return Record{}, err
	}
	if rec.CreatedAt, err = parseStamp(created); err != nil {
		return Record{}, errors.Wrap(err, "parse created_at")
	}
	if rec.UpdatedAt, err = parseStamp(modified); err != nil {
		return Record{}, errors.Wrap(err, "parse updated_at")
	}
	return rec, nil
}
