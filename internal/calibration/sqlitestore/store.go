// Package sqlitestore is a SQLite-backed calibration.Store. The schema is
// managed by golang-migrate from migrations embedded in the binary.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Store implements calibration.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

var _ calibration.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open calibration db: %w", err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// MigrateUp runs all pending migrations. No change is not an error.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty state.
// A database with no migrations applied reports 0, false, nil.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger routes golang-migrate output to the package logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

func (s *Store) GetProfile(ctx context.Context, userID string) (calibration.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, shoulder_scale, height_scale, confidence_scale,
		       references_json, created_at_ns, last_updated_ns
		FROM calibration_profiles
		WHERE user_id = ?`, userID)

	var (
		p                calibration.Profile
		refsJSON         string
		created, updated int64
	)
	err := row.Scan(&p.UserID, &p.ScaleFactors.ShoulderWidth, &p.ScaleFactors.Height,
		&p.ScaleFactors.Confidence, &refsJSON, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calibration.Profile{}, calibration.ErrNotFound
		}
		return calibration.Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(refsJSON), &p.References); err != nil {
		return calibration.Profile{}, fmt.Errorf("decode references for %s: %w", userID, err)
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	p.LastUpdated = time.Unix(0, updated).UTC()
	return p, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) PutProfile(ctx context.Context, p calibration.Profile) error {
	return retryOnBusy(ctx, func() error { return putProfile(ctx, s.db, p) })
}

// SaveFeedback upserts p and inserts rec in one transaction.
func (s *Store) SaveFeedback(ctx context.Context, p calibration.Profile, rec calibration.FeedbackRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := putProfile(ctx, tx, p); err != nil {
			return err
		}
		if err := insertFeedback(ctx, tx, rec); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func putProfile(ctx context.Context, ex execer, p calibration.Profile) error {
	refs := p.References
	if refs == nil {
		refs = []calibration.Reference{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("encode references: %w", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO calibration_profiles (
			user_id, shoulder_scale, height_scale, confidence_scale,
			references_json, created_at_ns, last_updated_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			shoulder_scale = excluded.shoulder_scale,
			height_scale = excluded.height_scale,
			confidence_scale = excluded.confidence_scale,
			references_json = excluded.references_json,
			last_updated_ns = excluded.last_updated_ns`,
		p.UserID, p.ScaleFactors.ShoulderWidth, p.ScaleFactors.Height, p.ScaleFactors.Confidence,
		string(refsJSON), p.CreatedAt.UnixNano(), p.LastUpdated.UnixNano(),
	)
	return err
}

func insertFeedback(ctx context.Context, ex execer, rec calibration.FeedbackRecord) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO calibration_feedback (
			feedback_id, user_id,
			observed_shoulder, observed_height, observed_confidence,
			calibrated_shoulder, calibrated_height, calibrated_confidence,
			known_shoulder_width, known_height, rating, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.UserID,
		rec.Observed.ShoulderWidth, rec.Observed.Height, rec.Observed.Confidence,
		rec.Calibrated.ShoulderWidth, rec.Calibrated.Height, rec.Calibrated.Confidence,
		nullFloat(rec.KnownShoulderWidth), nullFloat(rec.KnownHeight), rec.Rating, rec.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (s *Store) Feedback(ctx context.Context, userID string, limit int) ([]calibration.FeedbackRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT feedback_id, user_id,
		       observed_shoulder, observed_height, observed_confidence,
		       calibrated_shoulder, calibrated_height, calibrated_confidence,
		       known_shoulder_width, known_height, rating, created_at_ns
		FROM calibration_feedback
		WHERE user_id = ?
		ORDER BY created_at_ns DESC, rowid DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []calibration.FeedbackRecord
	for rows.Next() {
		rec, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest first from the query; callers want oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Users returns every user id with a stored profile, sorted.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM calibration_profiles ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanFeedback(rows *sql.Rows) (calibration.FeedbackRecord, error) {
	var (
		rec       calibration.FeedbackRecord
		id        string
		knownSW   sql.NullFloat64
		knownH    sql.NullFloat64
		createdNs int64
	)
	err := rows.Scan(&id, &rec.UserID,
		&rec.Observed.ShoulderWidth, &rec.Observed.Height, &rec.Observed.Confidence,
		&rec.Calibrated.ShoulderWidth, &rec.Calibrated.Height, &rec.Calibrated.Confidence,
		&knownSW, &knownH, &rec.Rating, &createdNs)
	if err != nil {
		return rec, fmt.Errorf("scan feedback: %w", err)
	}
	if rec.ID, err = uuid.Parse(id); err != nil {
		return rec, fmt.Errorf("parse feedback id %q: %w", id, err)
	}
	rec.KnownShoulderWidth = fromNull(knownSW)
	rec.KnownHeight = fromNull(knownH)
	rec.Timestamp = time.Unix(0, createdNs).UTC()
	return rec, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

const (
	busyRetries = 5
	busyBackoff = 20 * time.Millisecond
)

// retryOnBusy retries fn while SQLite reports the database as locked.
func retryOnBusy(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < busyRetries; i++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyBackoff * time.Duration(i+1)):
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
