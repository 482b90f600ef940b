package ics

import (
	"bytes"
	"context"
	"strconv"

	"github.com/cockroachdb/errors"

	"schedline/internal/entry"
	appLog "schedline/internal/log"
	"schedline/internal/store"
)

// Store is the part of the item store subscriptions are written to.
type Store interface {
	ReplaceSource(ctx context.Context, source string, recs []store.Record) (store.SyncResult, error)
}

// Syncer imports subscriptions into the store. Each source owns the items
// stored under its ID; a source that cannot be fetched keeps its items.
type Syncer struct {
	fetcher *Fetcher
	store   Store
	sources []Source
	zones   entry.ZoneResolver
}

func NewSyncer(f *Fetcher, st Store, sources []Source, zones entry.ZoneResolver) *Syncer {
	return &Syncer{fetcher: f, store: st, sources: sources, zones: zones}
}

// Sync fetches every source and replaces its items with the imported ones.
func (s *Syncer) Sync(ctx context.Context) error {
	if len(s.sources) == 0 {
		return nil
	}
	results, errs := s.fetcher.FetchAll(ctx, s.sources)
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, res := range results {
		if err := s.apply(ctx, res); err != nil {
			appLog.Error("ics: import failed", err, "id", res.Source.ID)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrapf(errs[0], "sync: %d of %d sources failed", len(errs), len(s.sources))
	}
	return nil
}

func (s *Syncer) apply(ctx context.Context, res FetchResult) error {
	imported, err := Import(bytes.NewReader(res.Body), ImportOptions{Zones: s.zones})
	if err != nil {
		return errors.Wrapf(err, "source %s", res.Source.ID)
	}
	_, err = s.store.ReplaceSource(ctx, res.Source.ID, Records(imported))
	return err
}

// Records converts imported components to store records.
func Records(imported []Imported) []store.Record {
	out := make([]store.Record, 0, len(imported))
	for _, im := range imported {
		out = append(out, store.Record{
			Entry:   im.Entry,
			Type:    im.Item.Type.String(),
			Subject: im.Item.Subject,
			UID:     im.UID,
		})
	}
	return out
}

// Parser compiles stored entries.
type Parser interface {
	Parse(text string) (*entry.Result, error)
}

// Components parses stored records for Export. Imported items keep the UID
// of their subscription; others are published as item-<id>@schedline.
func Components(recs []store.Record, p Parser) ([]Component, error) {
	out := make([]Component, 0, len(recs))
	for _, rec := range recs {
		res, err := p.Parse(rec.Entry)
		if err != nil {
			return nil, errors.Wrapf(err, "item %d", rec.ID)
		}
		uid := rec.UID
		if rec.Source == "" || uid == "" {
			uid = "item-" + strconv.FormatInt(rec.ID, 10) + "@schedline"
		}
		out = append(out, Component{UID: uid, Item: res.Item})
	}
	return out, nil
}
