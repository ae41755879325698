// Package storage provides SQLite-backed persistence for positions and observations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/henrisama/dexscreener/internal/models"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no position exists for a token.
var ErrNotFound = errors.New("position not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db              *sql.DB
	maxObservations int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/dexscreener/data.db.
func New(maxObservations int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "dexscreener", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxObservations: maxObservations}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id          TEXT PRIMARY KEY,
			token_key   TEXT NOT NULL UNIQUE,
			token       TEXT NOT NULL,
			name        TEXT,
			symbol      TEXT,
			event_tag   TEXT NOT NULL,
			held        INTEGER NOT NULL,
			entry_tx    TEXT,
			exit_tx     TEXT,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL,
			closed_at   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_held ON positions(held)`,
		`CREATE TABLE IF NOT EXISTS observations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			token_key   TEXT NOT NULL,
			token       TEXT NOT NULL,
			name        TEXT,
			symbol      TEXT,
			issuer      TEXT,
			price_usd   REAL,
			change_1h   REAL,
			change_24h  REAL,
			change_7d   REAL,
			volume_24h  REAL,
			fdv         REAL,
			event_tag   TEXT NOT NULL,
			observed_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_observed_at ON observations(observed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_token ON observations(token_key)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return s.addColumnIfMissing("observations", "change_7d", "REAL")
}

// addColumnIfMissing upgrades tables created before column existed.
func (s *Storage) addColumnIfMissing(table, column, decl string) error {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

// Open records a new held position for token. It is a no-op returning false
// when any record for the token already exists, held or closed.
func (s *Storage) Open(ctx context.Context, token, name, symbol string, tag models.EventTag, txRef string) (bool, error) {
	key := models.NormalizeID(token)
	if key == "" {
		return false, errors.New("token must not be empty")
	}
	now := time.Now().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(id, token_key, token, name, symbol, event_tag, held, entry_tx, created_at, updated_at)
		VALUES (?,?,?,?,?,?,1,?,?,?)
		ON CONFLICT(token_key) DO NOTHING`,
		uuid.New().String(), key, token, name, symbol, string(tag), txRef, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to open position: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ClosePosition marks the held position for token as closed. It is a no-op returning
// false when the token has no record or is already closed.
func (s *Storage) ClosePosition(ctx context.Context, token string, tag models.EventTag, txRef string) (bool, error) {
	now := time.Now().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET held=0, event_tag=?, exit_tx=?, updated_at=?, closed_at=?
		WHERE token_key=? AND held=1`,
		string(tag), txRef, now, now, models.NormalizeID(token),
	)
	if err != nil {
		return false, fmt.Errorf("failed to close position: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ListOpen returns every held position, oldest first.
func (s *Storage) ListOpen(ctx context.Context) ([]models.Position, error) {
	return s.queryPositions(ctx, `SELECT `+positionCols+` FROM positions WHERE held=1 ORDER BY created_at`)
}

// ListAll returns every position, newest first.
func (s *Storage) ListAll(ctx context.Context) ([]models.Position, error) {
	return s.queryPositions(ctx, `SELECT `+positionCols+` FROM positions ORDER BY created_at DESC`)
}

// Get returns the position for token or ErrNotFound.
func (s *Storage) Get(ctx context.Context, token string) (*models.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionCols+` FROM positions WHERE token_key = ?`, models.NormalizeID(token))
	p, err := scanPosition(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

func (s *Storage) queryPositions(ctx context.Context, query string) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()
	positions := []models.Position{}
	for rows.Next() {
		p, err := scanPosition(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

// RecordObservation appends a history row and trims the table to the newest
// maxObservations rows.
func (s *Storage) RecordObservation(ctx context.Context, obs models.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO observations
			(token_key, token, name, symbol, issuer, price_usd, change_1h, change_24h,
			 change_7d, volume_24h, fdv, event_tag, observed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		models.NormalizeID(obs.Token), obs.Token, obs.Name, obs.Symbol, obs.Issuer,
		nullFloat(obs.Metrics.PriceUSD), nullFloat(obs.Metrics.Change1h), nullFloat(obs.Metrics.Change24h),
		nullFloat(obs.Metrics.Change7d), nullFloat(obs.Metrics.Volume24h), nullFloat(obs.Metrics.FDV),
		string(obs.EventTag), obs.ObservedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}

	if s.maxObservations > 0 {
		if _, err = tx.ExecContext(ctx, `
			DELETE FROM observations WHERE id NOT IN (
				SELECT id FROM observations ORDER BY observed_at DESC, id DESC LIMIT ?
			)`, s.maxObservations); err != nil {
			return fmt.Errorf("failed to enforce observation cap: %w", err)
		}
	}

	return tx.Commit()
}

// RecentObservations returns up to limit observations, newest first.
func (s *Storage) RecentObservations(ctx context.Context, limit int) ([]models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, name, symbol, issuer, price_usd, change_1h, change_24h,
		       change_7d, volume_24h, fdv, event_tag, observed_at
		FROM observations ORDER BY observed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	observations := []models.Observation{}
	for rows.Next() {
		var o models.Observation
		var name, symbol, issuer sql.NullString
		var price, ch1, ch24, ch7d, vol, fdv sql.NullFloat64
		var tag string
		var observedAtNano int64
		if err := rows.Scan(&o.Token, &name, &symbol, &issuer, &price, &ch1, &ch24, &ch7d, &vol, &fdv, &tag, &observedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Name, o.Symbol, o.Issuer = name.String, symbol.String, issuer.String
		o.Metrics = models.Metrics{
			PriceUSD:  floatOrNaN(price),
			Change1h:  floatOrNaN(ch1),
			Change24h: floatOrNaN(ch24),
			Change7d:  floatOrNaN(ch7d),
			Volume24h: floatOrNaN(vol),
			FDV:       floatOrNaN(fdv),
		}
		o.EventTag = models.ParseEventTag(tag)
		o.ObservedAt = time.Unix(0, observedAtNano)
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

const positionCols = `id, token, name, symbol, event_tag, held, entry_tx, exit_tx,
	created_at, updated_at, closed_at`

func scanPosition(scan func(...any) error) (*models.Position, error) {
	var p models.Position
	var name, symbol, entryTx, exitTx sql.NullString
	var tag string
	var held int
	var createdAtNano, updatedAtNano int64
	var closedAtNano sql.NullInt64
	err := scan(
		&p.ID, &p.Token, &name, &symbol, &tag, &held, &entryTx, &exitTx,
		&createdAtNano, &updatedAtNano, &closedAtNano,
	)
	if err != nil {
		return nil, err
	}
	p.Name, p.Symbol = name.String, symbol.String
	p.EntryTxRef, p.ExitTxRef = entryTx.String, exitTx.String
	p.EventTag = models.ParseEventTag(tag)
	p.Held = held != 0
	p.CreatedAt = time.Unix(0, createdAtNano)
	p.UpdatedAt = time.Unix(0, updatedAtNano)
	if closedAtNano.Valid {
		t := time.Unix(0, closedAtNano.Int64)
		p.ClosedAt = &t
	}
	return &p, nil
}

// nullFloat stores non-finite values as NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if !models.Finite(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
