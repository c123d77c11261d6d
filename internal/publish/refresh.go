package publish

import (
	"context"
	"errors"
	"fmt"

	"schedcal/internal/config"
	"schedcal/internal/ingest"
	appLog "schedcal/internal/log"
	"schedcal/internal/merge"
	"schedcal/internal/model"
	"schedcal/internal/store"
)

// Refresher pulls the configured remote feeds into their calendars.
type Refresher struct {
	manager  *store.Manager
	ingester *ingest.Ingester
	feeds    []config.FeedConfig
}

func NewRefresher(m *store.Manager, in *ingest.Ingester, feeds []config.FeedConfig) *Refresher {
	return &Refresher{manager: m, ingester: in, feeds: feeds}
}

// Refresh ingests every feed. A feed replaces the stored events within the
// date span it covers.
func (r *Refresher) Refresh(ctx context.Context) error {
	var errs []error
	for _, f := range r.feeds {
		if err := r.refreshFeed(ctx, f); err != nil {
			appLog.Error("feed refresh failed", err, "calendar", f.Calendar)
			errs = append(errs, fmt.Errorf("%s: %w", f.Calendar, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Refresher) refreshFeed(ctx context.Context, f config.FeedConfig) error {
	cal, err := r.ingester.Ingest(ctx, f.URL)
	if err != nil {
		return err
	}
	req := store.UpdateRequest{
		Name:     f.Calendar,
		Template: f.Template,
		Incoming: cal,
		Source:   "feed",
		Strategy: spanOf(cal.Events),
	}
	res, err := r.manager.Update(ctx, req)
	if err != nil {
		return err
	}
	appLog.Info("feed refreshed", "calendar", f.Calendar, "changes", res.Diff.String(), "version", res.Version)
	return nil
}

// spanOf returns a ReplaceByRange covering events, or Add for no events so
// an empty feed body never wipes a calendar.
func spanOf(events []model.Event) merge.Strategy {
	if len(events) == 0 {
		return merge.Add{}
	}
	first, last := events[0].Date, events[0].LastDate()
	for _, e := range events[1:] {
		if e.Date.Before(first) {
			first = e.Date
		}
		if l := e.LastDate(); l.After(last) {
			last = l
		}
	}
	return merge.ReplaceByRange{Start: first, End: last}
}
