package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"schedcal/internal/diff"
	appLog "schedcal/internal/log"
	"schedcal/internal/merge"
	"schedcal/internal/model"
	"schedcal/internal/process"
	"schedcal/internal/template"
)

// TemplateSource resolves a template by name; "" asks for the default.
type TemplateSource interface {
	Template(name string) (*template.Template, error)
}

// LoaderSource adapts a template.Loader and directory to TemplateSource.
// Default names the template used for "".
type LoaderSource struct {
	Loader  *template.Loader
	Dir     string
	Default string
}

func (s LoaderSource) Template(name string) (*template.Template, error) {
	if name == "" {
		name = s.Default
	}
	return s.Loader.Get(s.Dir, name)
}

// UpdateRequest is one ingestion to apply to a named calendar.
type UpdateRequest struct {
	Name     string
	Template string // empty: keep the calendar's template, or the fallback
	Incoming model.Calendar
	Source   string
	Note     string

	// Strategy overrides the default replace-by-year merge.
	Strategy merge.Strategy
	// Year overrides year inference for the default merge.
	Year int
}

// UpdateResult reports what an update did or would do.
type UpdateResult struct {
	Created  bool
	Changed  bool
	Version  int // 0 for a preview
	Year     int // year replaced by the default merge, else 0
	Strategy string
	Process  process.Result
	Diff     diff.Result
	Calendar model.Calendar
}

// Manager processes incoming events and merges them into stored calendars.
type Manager struct {
	store     *Store
	templates TemplateSource
}

func NewManager(s *Store, templates TemplateSource) *Manager {
	return &Manager{store: s, templates: templates}
}

// Store returns the underlying store.
func (m *Manager) Store() *Store { return m.store }

// Template resolves a stored template name. The fallback template's name
// and "" both resolve to the configured default.
func (m *Manager) Template(name string) (*template.Template, error) {
	if name == template.Fallback().Name {
		name = ""
	}
	return m.templates.Template(name)
}

// Update applies req and saves a new version.
func (m *Manager) Update(ctx context.Context, req UpdateRequest) (UpdateResult, error) {
	res, meta, err := m.apply(ctx, req)
	if err != nil {
		return res, err
	}
	if !res.Changed {
		appLog.Info("calendar unchanged, no version saved", "name", req.Name)
		return res, nil
	}
	note := req.Note
	if note == "" {
		note = fmt.Sprintf("%s (%s)", res.Strategy, res.Diff)
	}
	v, err := m.store.Save(ctx, req.Name, meta, res.Calendar, note)
	if err != nil {
		return res, err
	}
	res.Version = v
	return res, nil
}

// Preview computes the result of req without saving it.
func (m *Manager) Preview(ctx context.Context, req UpdateRequest) (UpdateResult, error) {
	res, _, err := m.apply(ctx, req)
	return res, err
}

func (m *Manager) apply(ctx context.Context, req UpdateRequest) (UpdateResult, Meta, error) {
	var res UpdateResult
	if req.Name == "" {
		return res, Meta{}, errors.New("update: empty calendar name")
	}

	existing, err := m.store.Load(ctx, req.Name, 0)
	switch {
	case errors.Is(err, ErrNotFound):
		res.Created = true
	case err != nil:
		return res, Meta{}, err
	}

	tplName := req.Template
	if tplName == "" && !res.Created {
		tplName = existing.Info.TemplateName
	}
	tpl, err := m.Template(tplName)
	if err != nil {
		return res, Meta{}, err
	}

	pr, err := process.New(tpl).Process(req.Incoming.Events)
	if err != nil {
		return res, Meta{}, err
	}
	res.Process = pr

	var merged []model.Event
	switch {
	case res.Created:
		res.Strategy = "create"
		merged = pr.Events
	case req.Strategy != nil:
		res.Strategy = req.Strategy.String()
		merged = req.Strategy.Merge(existing.Calendar.Events, pr.Events)
	default:
		year, err := merge.DetermineYear(pr.Events, req.Year)
		if err != nil {
			return res, Meta{}, err
		}
		if merged, err = merge.ReplaceYear(existing.Calendar.Events, pr.Events, year); err != nil {
			return res, Meta{}, err
		}
		res.Year = year
		res.Strategy = merge.ReplaceByYear{Year: year}.String()
	}

	revised := req.Incoming.RevisedDate
	if revised.IsZero() {
		revised = existing.Calendar.RevisedDate
	}
	merged = slices.Clone(merged)
	model.SortByDate(merged)
	res.Calendar = model.Calendar{Events: merged, RevisedDate: revised}
	res.Diff = diff.Compute(existing.Calendar.Events, merged)
	res.Changed = res.Created || !res.Diff.Empty() || revised != existing.Calendar.RevisedDate

	source := req.Source
	if source == "" {
		source = existing.Info.Source
	}
	meta := Meta{TemplateName: tpl.Name, TemplateVersion: tpl.Version, Source: source}
	appLog.Debug("calendar update computed", "name", req.Name, "strategy", res.Strategy, "diff", res.Diff.String())
	return res, meta, nil
}
