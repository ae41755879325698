package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/henrisama/dexscreener/internal/models"
	"github.com/henrisama/dexscreener/internal/storage"
)

// Ledger implements the position ledger using PostgreSQL.
type Ledger struct {
	pool            *Pool
	maxObservations int
}

// NewLedger creates a new Ledger.
func NewLedger(pool *Pool, maxObservations int) *Ledger {
	return &Ledger{pool: pool, maxObservations: maxObservations}
}

// Open inserts a held position unless any record exists for token.
func (l *Ledger) Open(ctx context.Context, token, name, symbol string, tag models.EventTag, txRef string) (bool, error) {
	key := models.NormalizeID(token)
	if key == "" {
		return false, errors.New("token must not be empty")
	}
	query := `
		INSERT INTO positions (
			id, token_key, token, name, symbol, event_tag, held, entry_tx, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $8)
		ON CONFLICT (token_key) DO NOTHING
	`
	res, err := l.pool.Exec(ctx, query, uuid.New(), key, token, name, symbol, string(tag), txRef, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("open position: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

// ClosePosition marks a held position closed. Missing or closed records are a no-op.
func (l *Ledger) ClosePosition(ctx context.Context, token string, tag models.EventTag, txRef string) (bool, error) {
	query := `
		UPDATE positions
		SET held = FALSE, event_tag = $1, exit_tx = $2, updated_at = $3, closed_at = $3
		WHERE token_key = $4 AND held
	`
	res, err := l.pool.Exec(ctx, query, string(tag), txRef, time.Now().UTC(), models.NormalizeID(token))
	if err != nil {
		return false, fmt.Errorf("close position: %w", err)
	}
	return res.RowsAffected() == 1, nil
}

const positionCols = `id, token, name, symbol, event_tag, held, entry_tx, exit_tx, created_at, updated_at, closed_at`

// ListOpen returns held positions, oldest first.
func (l *Ledger) ListOpen(ctx context.Context) ([]models.Position, error) {
	return l.queryPositions(ctx, `SELECT `+positionCols+` FROM positions WHERE held ORDER BY created_at ASC`)
}

// ListAll returns every position, newest first.
func (l *Ledger) ListAll(ctx context.Context) ([]models.Position, error) {
	return l.queryPositions(ctx, `SELECT `+positionCols+` FROM positions ORDER BY created_at DESC`)
}

// Get returns the position for token or storage.ErrNotFound.
func (l *Ledger) Get(ctx context.Context, token string) (*models.Position, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+positionCols+` FROM positions WHERE token_key = $1`, models.NormalizeID(token))
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, token)
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

func (l *Ledger) queryPositions(ctx context.Context, query string) ([]models.Position, error) {
	rows, err := l.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	positions := []models.Position{}
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func scanPosition(row pgx.Row) (*models.Position, error) {
	var p models.Position
	var id uuid.UUID
	var tag string
	err := row.Scan(
		&id, &p.Token, &p.Name, &p.Symbol, &tag, &p.Held, &p.EntryTxRef, &p.ExitTxRef,
		&p.CreatedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ID = id.String()
	p.EventTag = models.ParseEventTag(tag)
	return &p, nil
}

// RecordObservation appends a history row and trims to the newest maxObservations.
func (l *Ledger) RecordObservation(ctx context.Context, obs models.Observation) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		INSERT INTO observations (
			token_key, token, name, symbol, issuer, price_usd, change_1h, change_24h,
			change_7d, volume_24h, fdv, event_tag, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	m := obs.Metrics
	_, err = tx.Exec(ctx, query,
		models.NormalizeID(obs.Token), obs.Token, obs.Name, obs.Symbol, obs.Issuer,
		finite(m.PriceUSD), finite(m.Change1h), finite(m.Change24h),
		finite(m.Change7d), finite(m.Volume24h), finite(m.FDV),
		string(obs.EventTag), obs.ObservedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}

	if l.maxObservations > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM observations WHERE id NOT IN (
				SELECT id FROM observations ORDER BY observed_at DESC, id DESC LIMIT $1
			)`, l.maxObservations)
		if err != nil {
			return fmt.Errorf("enforce observation cap: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// RecentObservations returns up to limit observations, newest first.
func (l *Ledger) RecentObservations(ctx context.Context, limit int) ([]models.Observation, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT token, name, symbol, issuer, price_usd, change_1h, change_24h,
		       change_7d, volume_24h, fdv, event_tag, observed_at
		FROM observations ORDER BY observed_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	observations := []models.Observation{}
	for rows.Next() {
		var o models.Observation
		var price, ch1, ch24, ch7d, vol, fdv *float64
		var tag string
		if err := rows.Scan(&o.Token, &o.Name, &o.Symbol, &o.Issuer, &price, &ch1, &ch24, &ch7d, &vol, &fdv, &tag, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Metrics = models.Metrics{
			PriceUSD:  orNaN(price),
			Change1h:  orNaN(ch1),
			Change24h: orNaN(ch24),
			Change7d:  orNaN(ch7d),
			Volume24h: orNaN(vol),
			FDV:       orNaN(fdv),
		}
		o.EventTag = models.ParseEventTag(tag)
		observations = append(observations, o)
	}
	return observations, rows.Err()
}

func finite(v float64) *float64 {
	if !models.Finite(v) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
