// Package ingest reads schedules from files or remote feeds into events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"schedcal/internal/ics"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/template"
)

// UnsupportedFormatError is returned for a source whose extension has no
// registered reader.
type UnsupportedFormatError struct {
	Source    string
	Ext       string
	Supported []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format %q for %s (supported: %s)",
		e.Ext, e.Source, strings.Join(e.Supported, ", "))
}

// Options tune how a payload is decoded.
type Options struct {
	// Location reads floating ICS times; UTC when nil.
	Location *time.Location
	Expand   ics.ExpandConfig
}

// Reader decodes one payload format.
type Reader func(data []byte, opts Options) (model.Calendar, error)

// ReadJSON accepts {"events": [...]} or a bare event list.
func ReadJSON(data []byte, _ Options) (model.Calendar, error) {
	return model.DecodeEvents(data)
}

// ReadICS parses and expands an iCalendar payload.
func ReadICS(data []byte, opts Options) (model.Calendar, error) {
	events, err := ics.Import(data, opts.Location, opts.Expand)
	if err != nil {
		return model.Calendar{}, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return model.Calendar{Events: events}, nil
}

// Ingester resolves a source to a reader and optionally classifies event
// types with a template matcher.
type Ingester struct {
	readers map[string]Reader
	fetcher *ics.Fetcher
	matcher *template.Matcher
	opts    Options
}

// New returns an Ingester with the JSON and ICS readers registered. fetcher
// may be nil, in which case URLs are rejected.
func New(fetcher *ics.Fetcher, opts Options) *Ingester {
	in := &Ingester{
		readers: make(map[string]Reader),
		fetcher: fetcher,
		opts:    opts,
	}
	in.Register(".json", ReadJSON)
	in.Register(".ics", ReadICS)
	in.Register(".ical", ReadICS)
	return in
}

// Register binds ext (with or without the dot) to r, replacing any
// previous reader.
func (in *Ingester) Register(ext string, r Reader) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	in.readers[ext] = r
}

// Formats lists registered extensions, sorted.
func (in *Ingester) Formats() []string {
	out := make([]string, 0, len(in.readers))
	for ext := range in.readers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// WithMatcher makes Ingest fill empty event types from m.
func (in *Ingester) WithMatcher(m *template.Matcher) *Ingester {
	in.matcher = m
	return in
}

// Ingest reads source, which is a file path or an http(s) URL.
func (in *Ingester) Ingest(ctx context.Context, source string) (model.Calendar, error) {
	if isURL(source) {
		return in.ingestURL(ctx, source)
	}
	ext := strings.ToLower(filepath.Ext(source))
	r, ok := in.readers[ext]
	if !ok {
		return model.Calendar{}, &UnsupportedFormatError{Source: source, Ext: ext, Supported: in.Formats()}
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return model.Calendar{}, fmt.Errorf("ingest: %w", err)
	}
	return in.decode(source, data, r)
}

// IngestBytes decodes data with the reader for ext.
func (in *Ingester) IngestBytes(ext string, data []byte) (model.Calendar, error) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	r, ok := in.readers[ext]
	if !ok {
		return model.Calendar{}, &UnsupportedFormatError{Source: "payload", Ext: ext, Supported: in.Formats()}
	}
	return in.decode("payload", data, r)
}

func (in *Ingester) ingestURL(ctx context.Context, source string) (model.Calendar, error) {
	if in.fetcher == nil {
		return model.Calendar{}, errors.New("ingest: remote sources are not enabled")
	}
	res, err := in.fetcher.Fetch(ctx, source)
	if err != nil {
		return model.Calendar{}, err
	}
	// feeds are iCalendar unless the path says JSON
	r := in.readers[".ics"]
	if u := strings.ToLower(stripQuery(source)); strings.HasSuffix(u, ".json") {
		r = in.readers[".json"]
	}
	return in.decode("remote feed", res.Body, r)
}

func (in *Ingester) decode(source string, data []byte, r Reader) (model.Calendar, error) {
	cal, err := r(data, in.opts)
	if err != nil {
		return model.Calendar{}, fmt.Errorf("ingest %s: %w", source, err)
	}
	if in.matcher != nil {
		cal.Events = in.matcher.Classify(cal.Events)
	}
	appLog.Info("ingested events", "source", source, "count", len(cal.Events))
	return cal, nil
}

func isURL(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
