package publish

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/config"
	"schedcal/internal/ics"
	"schedcal/internal/ingest"
	"schedcal/internal/model"
	"schedcal/internal/store"
	"schedcal/internal/template"
)

const workTemplate = `{
  "name": "work",
  "locations": {"clinic": {"address": "1 Main St"}},
  "defaults": {"location": "clinic"}
}`

var fixedNow = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }

func setup(t *testing.T) *store.Manager {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "work.json"), []byte(workTemplate), 0o600))
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return store.NewManager(s, store.LoaderSource{Loader: template.NewLoader(), Dir: dir})
}

func seed(t *testing.T, m *store.Manager, name string, events ...model.Event) {
	t.Helper()
	_, err := m.Update(context.Background(), store.UpdateRequest{
		Name: name, Template: "work", Incoming: model.Calendar{Events: events},
	})
	require.NoError(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "on-call_2025.ics", FileName("on-call 2025"))
	assert.Equal(t, "_etc_passwd.ics", FileName("/etc/passwd"))
}

func TestWriteCalendarResolvesTemplateLocations(t *testing.T) {
	m := setup(t)
	seed(t, m, "work", model.Event{Title: "Clinic", Date: model.MustDate("2025-01-06")})

	var buf bytes.Buffer
	require.NoError(t, WriteCalendar(context.Background(), m, &buf, "work", 0, ics.ExportOptions{Now: fixedNow}))
	assert.Contains(t, buf.String(), "LOCATION:1 Main St")
	assert.Contains(t, buf.String(), "X-WR-CALNAME:work")

	err := WriteCalendar(context.Background(), m, &buf, "missing", 0, ics.ExportOptions{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExportAll(t *testing.T) {
	m := setup(t)
	seed(t, m, "a", model.Event{Title: "A", Date: model.MustDate("2025-01-06")})
	seed(t, m, "b c", model.Event{Title: "B", Date: model.MustDate("2025-01-07")})

	dir := filepath.Join(t.TempDir(), "out")
	p := New(m, dir, ics.ExportOptions{Now: fixedNow})
	paths, err := p.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.ics"), filepath.Join(dir, "b_c.ics")}, paths)

	body, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Contains(t, string(body), "SUMMARY:B")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

const feedBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:1\r\nSUMMARY:Call\r\nDTSTART;VALUE=DATE:20250110\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:2\r\nSUMMARY:Call\r\nDTSTART;VALUE=DATE:20250112\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestRefreshReplacesFeedSpan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	m := setup(t)
	seed(t, m, "oncall",
		model.Event{Title: "Old", Date: model.MustDate("2025-01-11")},
		model.Event{Title: "Keep", Date: model.MustDate("2025-02-01")},
	)

	in := ingest.New(ics.NewFetcher(t.TempDir(), srv.Client()), ingest.Options{})
	r := NewRefresher(m, in, []config.FeedConfig{{Calendar: "oncall", URL: srv.URL + "/oncall.ics"}})
	require.NoError(t, r.Refresh(context.Background()))

	snap, err := m.Store().Load(context.Background(), "oncall", 0)
	require.NoError(t, err)
	var titles []string
	for _, e := range snap.Calendar.Events {
		titles = append(titles, e.Title)
	}
	assert.Equal(t, []string{"Call", "Call", "Keep"}, titles)
	assert.Equal(t, "feed", snap.Info.Source)
}

func TestSchedulerRunsJob(t *testing.T) {
	_, err := NewScheduler("not a cron line", "x", nil)
	require.Error(t, err)

	var runs atomic.Int32
	s, err := NewScheduler("@every 1s", "count", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
