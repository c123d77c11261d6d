// Package store keeps named calendars and every saved version of their
// events in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrNotFound is returned for an unknown calendar or version.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when a calendar name is already taken.
	ErrExists = errors.New("already exists")
)

// Meta is the calendar-level metadata recorded with each save.
type Meta struct {
	TemplateName    string
	TemplateVersion string
	Source          string
}

// Info describes a stored calendar and its latest version.
type Info struct {
	Name            string     `json:"name"`
	TemplateName    string     `json:"template_name,omitempty"`
	TemplateVersion string     `json:"template_version,omitempty"`
	Source          string     `json:"source,omitempty"`
	LatestVersion   int        `json:"latest_version"`
	RevisedDate     model.Date `json:"revised_date"`
	EventCount      int        `json:"event_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Version is one saved revision of a calendar.
type Version struct {
	Number      int        `json:"version"`
	RevisedDate model.Date `json:"revised_date"`
	Note        string     `json:"note,omitempty"`
	EventCount  int        `json:"event_count"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Snapshot is a calendar loaded at a particular version.
type Snapshot struct {
	Info     Info
	Version  Version
	Calendar model.Calendar
}

type infoRow struct {
	ID              int64     `db:"id"`
	Name            string    `db:"name"`
	TemplateName    string    `db:"template_name"`
	TemplateVersion string    `db:"template_version"`
	Source          string    `db:"source"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
	LatestVersion   int       `db:"latest_version"`
	RevisedDate     string    `db:"revised_date"`
	EventCount      int       `db:"event_count"`
}

func (r infoRow) info() Info {
	d, _ := model.ParseDate(r.RevisedDate)
	return Info{
		Name:            r.Name,
		TemplateName:    r.TemplateName,
		TemplateVersion: r.TemplateVersion,
		Source:          r.Source,
		LatestVersion:   r.LatestVersion,
		RevisedDate:     d,
		EventCount:      r.EventCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type versionRow struct {
	Version     int       `db:"version"`
	RevisedDate string    `db:"revised_date"`
	Note        string    `db:"note"`
	EventCount  int       `db:"event_count"`
	Events      string    `db:"events"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r versionRow) version() Version {
	d, _ := model.ParseDate(r.RevisedDate)
	return Version{Number: r.Version, RevisedDate: d, Note: r.Note, EventCount: r.EventCount, CreatedAt: r.CreatedAt}
}

// Store is the SQLite-backed calendar store.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies
// migrations. ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one connection: sqlite serializes writers anyway and an in-memory
	// database exists per connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	appLog.Debug("store opened", "path", path)
	return &Store{db: db, now: time.Now}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save stores cal as the next version of calendar name, creating the
// calendar on first save. It returns the new version number.
func (s *Store) Save(ctx context.Context, name string, meta Meta, cal model.Calendar, note string) (int, error) {
	if name == "" {
		return 0, errors.New("save: empty calendar name")
	}
	events := cal.Events
	if events == nil {
		events = []model.Event{}
	}
	payload, err := json.Marshal(events)
	if err != nil {
		return 0, fmt.Errorf("encode events: %w", err)
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.GetContext(ctx, &id, `SELECT id FROM calendars WHERE name = ?`, name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO calendars (name, template_name, template_version, source, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			name, meta.TemplateName, meta.TemplateVersion, meta.Source, now, now)
		if err != nil {
			return 0, fmt.Errorf("insert calendar: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("query calendar: %w", err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE calendars SET template_name = ?, template_version = ?, source = ?, updated_at = ? WHERE id = ?`,
			meta.TemplateName, meta.TemplateVersion, meta.Source, now, id); err != nil {
			return 0, fmt.Errorf("update calendar: %w", err)
		}
	}

	var next int
	if err := tx.GetContext(ctx, &next,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM calendar_versions WHERE calendar_id = ?`, id); err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO calendar_versions (calendar_id, version, revised_date, note, event_count, events, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, next, cal.RevisedDate.String(), note, len(events), string(payload), now); err != nil {
		return 0, fmt.Errorf("insert version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	appLog.Info("calendar saved", "name", name, "version", next, "events", len(events))
	return next, nil
}

const infoQuery = `
SELECT c.id, c.name, c.template_name, c.template_version, c.source, c.created_at, c.updated_at,
       v.version AS latest_version, v.revised_date, v.event_count
FROM calendars c
JOIN calendar_versions v ON v.calendar_id = c.id
WHERE v.version = (SELECT MAX(version) FROM calendar_versions WHERE calendar_id = c.id)`

// List returns every stored calendar ordered by name.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	var rows []infoRow
	if err := s.db.SelectContext(ctx, &rows, infoQuery+` ORDER BY c.name`); err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	out := make([]Info, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.info())
	}
	return out, nil
}

// Info returns metadata for calendar name.
func (s *Store) Info(ctx context.Context, name string) (Info, error) {
	row, err := s.infoRow(ctx, name)
	if err != nil {
		return Info{}, err
	}
	return row.info(), nil
}

func (s *Store) infoRow(ctx context.Context, name string) (infoRow, error) {
	var row infoRow
	err := s.db.GetContext(ctx, &row, infoQuery+` AND c.name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("calendar %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return row, fmt.Errorf("query calendar: %w", err)
	}
	return row, nil
}

// Exists reports whether calendar name has been saved.
func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.infoRow(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Load returns calendar name at version; version 0 means the latest.
func (s *Store) Load(ctx context.Context, name string, version int) (Snapshot, error) {
	info, err := s.infoRow(ctx, name)
	if err != nil {
		return Snapshot{}, err
	}
	if version == 0 {
		version = info.LatestVersion
	}

	var row versionRow
	err = s.db.GetContext(ctx, &row,
		`SELECT version, revised_date, note, event_count, events, created_at
		 FROM calendar_versions WHERE calendar_id = ? AND version = ?`, info.ID, version)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("calendar %q version %d: %w", name, version, ErrNotFound)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("query version: %w", err)
	}

	var events []model.Event
	if err := json.Unmarshal([]byte(row.Events), &events); err != nil {
		return Snapshot{}, fmt.Errorf("decode calendar %q version %d: %w", name, version, err)
	}
	v := row.version()
	return Snapshot{
		Info:     info.info(),
		Version:  v,
		Calendar: model.Calendar{Events: events, RevisedDate: v.RevisedDate},
	}, nil
}

// Versions lists the saved versions of calendar name, newest first.
func (s *Store) Versions(ctx context.Context, name string) ([]Version, error) {
	info, err := s.infoRow(ctx, name)
	if err != nil {
		return nil, err
	}
	var rows []versionRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT version, revised_date, note, event_count, '' AS events, created_at
		 FROM calendar_versions WHERE calendar_id = ? ORDER BY version DESC`, info.ID); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	out := make([]Version, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.version())
	}
	return out, nil
}

// Restore saves the events of an older version as the newest one.
func (s *Store) Restore(ctx context.Context, name string, version int) (int, error) {
	snap, err := s.Load(ctx, name, version)
	if err != nil {
		return 0, err
	}
	meta := Meta{
		TemplateName:    snap.Info.TemplateName,
		TemplateVersion: snap.Info.TemplateVersion,
		Source:          snap.Info.Source,
	}
	return s.Save(ctx, name, meta, snap.Calendar, fmt.Sprintf("restore version %d", version))
}

// Prune deletes all but the newest keep versions of calendar name and
// returns how many were removed.
func (s *Store) Prune(ctx context.Context, name string, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune: keep must be at least 1, got %d", keep)
	}
	info, err := s.infoRow(ctx, name)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM calendar_versions WHERE calendar_id = ? AND version <= ?`,
		info.ID, info.LatestVersion-keep)
	if err != nil {
		return 0, fmt.Errorf("prune versions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		appLog.Info("calendar versions pruned", "name", name, "removed", n)
	}
	return int(n), nil
}

// Delete removes calendar name and all of its versions.
func (s *Store) Delete(ctx context.Context, name string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.GetContext(ctx, &id, `SELECT id FROM calendars WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("calendar %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query calendar: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM calendar_versions WHERE calendar_id = ?`, id); err != nil {
		return fmt.Errorf("delete versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM calendars WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete calendar: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	appLog.Info("calendar deleted", "name", name)
	return nil
}

// Rename moves a calendar and its versions to newName.
func (s *Store) Rename(ctx context.Context, oldName, newName string) error {
	if newName == "" {
		return errors.New("calendar name is required")
	}
	if oldName == newName {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var taken int
	if err := tx.GetContext(ctx, &taken, `SELECT COUNT(*) FROM calendars WHERE name = ?`, newName); err != nil {
		return fmt.Errorf("query calendar: %w", err)
	}
	if taken > 0 {
		return fmt.Errorf("calendar %q: %w", newName, ErrExists)
	}
	res, err := tx.ExecContext(ctx, `UPDATE calendars SET name = ?, updated_at = ? WHERE name = ?`,
		newName, s.now().UTC(), oldName)
	if err != nil {
		return fmt.Errorf("rename calendar: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rename calendar: %w", err)
	} else if n == 0 {
		return fmt.Errorf("calendar %q: %w", oldName, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	appLog.Info("calendar renamed", "from", oldName, "to", newName)
	return nil
}
