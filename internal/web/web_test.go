package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"schedcal/internal/config"
	"schedcal/internal/model"
	"schedcal/internal/store"
	"schedcal/internal/template"
)

const workTemplate = `{
  "name": "work",
  "locations": {"clinic": {"address": "1 Main St"}},
  "defaults": {"location": "clinic"}
}`

func newTestServer(t *testing.T, auth *config.BasicAuthConfig) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "work.json"), []byte(workTemplate), 0o600))

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.DefaultConfig()
	cfg.TemplateDir = dir
	cfg.DefaultTemplate = "work"
	cfg.BasicAuth = auth
	m := store.NewManager(s, store.LoaderSource{Loader: template.NewLoader(), Dir: dir, Default: "work"})

	srv := NewServer(cfg, m)
	srv.now = func() time.Time { return time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC) }
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, body := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	ts := newTestServer(t, &config.BasicAuthConfig{Username: "admin", PasswordHash: string(hash)})

	resp, _ := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is exempt")

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/calendars", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/calendars", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("admin", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCheckPasswordPlain(t *testing.T) {
	auth := config.BasicAuthConfig{Username: "u", Password: "pw"}
	assert.True(t, checkPassword(auth, "pw"))
	assert.False(t, checkPassword(auth, "pW"))
}

func TestProcess(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/process",
		`[{"title":"Clinic","date":"2025-01-06"},{"title":"Clinic","date":"2025-01-07"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var out processResponse
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	assert.Equal(t, "work", out.Template)
	assert.Equal(t, 2, out.Summary.InputTotal)
	assert.NotEmpty(t, out.Events)

	resp, body = do(t, http.MethodPost, ts.URL+"/api/process?format=ics", `[{"title":"Clinic","date":"2025-01-06"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/calendar")
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "LOCATION:1 Main St")

	feed := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:1\r\nSUMMARY:Ward\r\nDTSTART;VALUE=DATE:20250110\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/process", strings.NewReader(feed))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/calendar")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Events, 1)
	assert.Equal(t, "Ward", out.Events[0].Title)
}

func TestProcessErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/process", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)

	resp, body = do(t, http.MethodPost, ts.URL+"/api/process", `[{"title":"","date":"2025-01-06"}]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	assert.Contains(t, body, "title")

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/process?template=nope", `[]`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/process", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCalendarLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	api := ts.URL + "/api/calendars/oncall"

	resp, body := do(t, http.MethodPost, api, `{"events":[
		{"title":"Clinic","date":"2025-01-06","start":"0800","end":"1200"},
		{"title":"Ward","date":"2025-01-08"}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	var up updateResponse
	require.NoError(t, json.Unmarshal([]byte(body), &up))
	assert.True(t, up.Created)
	assert.Equal(t, 1, up.Version)
	assert.Len(t, up.Added, 2)

	// Preview does not save.
	resp, body = do(t, http.MethodPost, api+"?preview=1", `[{"title":"Ward","date":"2025-01-09"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.NoError(t, json.Unmarshal([]byte(body), &up))
	assert.Zero(t, up.Version)
	assert.True(t, up.Changed)

	resp, body = do(t, http.MethodGet, api, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var detail struct {
		Calendar store.Info      `json:"calendar"`
		Versions []store.Version `json:"versions"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &detail))
	assert.Equal(t, "oncall", detail.Calendar.Name)
	assert.Len(t, detail.Versions, 1)

	resp, body = do(t, http.MethodGet, ts.URL+"/api/calendars", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "oncall")

	resp, body = do(t, http.MethodGet, api+"/events?date=2025-01-08", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var evs struct {
		Events []model.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &evs))
	require.Len(t, evs.Events, 1)
	assert.Equal(t, "Ward", evs.Events[0].Title)

	resp, body = do(t, http.MethodGet, api+"/events?days=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.NoError(t, json.Unmarshal([]byte(body), &evs))
	require.Len(t, evs.Events, 1)
	assert.Equal(t, "Clinic", evs.Events[0].Title)

	resp, _ = do(t, http.MethodGet, api+"/events?from=bad", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, http.MethodGet, api+"/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, `"total_events":2`)

	resp, body = do(t, http.MethodGet, ts.URL+"/calendars/oncall.ics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, "SUMMARY:Ward")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "oncall.ics")

	resp, _ = do(t, http.MethodDelete, api, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, api, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, ts.URL+"/calendars/oncall.ics", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCalendarUpdateAmbiguousYear(t *testing.T) {
	ts := newTestServer(t, nil)
	api := ts.URL + "/api/calendars/c"
	resp, _ := do(t, http.MethodPost, api, `[{"title":"A","date":"2025-01-06"}]`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := do(t, http.MethodPost, api, `[{"title":"A","date":"2025-12-30"},{"title":"B","date":"2026-01-02"}]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)

	resp, body = do(t, http.MethodPost, api+"?strategy=add", `[{"title":"A","date":"2025-12-30"},{"title":"B","date":"2026-01-02"}]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode, body)
}

func TestTemplatesAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/templates", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, body, `"work"`)

	resp, body = do(t, http.MethodGet, ts.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `schedcal_http_requests_total{code="200",route="templates"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestParseIntDefault(t *testing.T) {
	assert.Equal(t, 5, parseIntDefault("", 5))
	assert.Equal(t, 5, parseIntDefault("x", 5))
	assert.Equal(t, 12, parseIntDefault("12", 5))
}
