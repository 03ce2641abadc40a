package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shaloml/cui/internal/audit"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
)

// TrailRepo persists batched decision-trail records. Uses database/sql on
// top of the pgx driver: the trail worker is a single writer and needs
// nothing from the pool API.
type TrailRepo struct {
	db *sql.DB
}

func NewTrailRepo(connString string) (*TrailRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open trail db: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &TrailRepo{db: db}, nil
}

func (r *TrailRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *TrailRepo) Close() error {
	return r.db.Close()
}

// WriteBatch bulk-inserts one flush of the decision trail.
func (r *TrailRepo) WriteBatch(ctx context.Context, records []audit.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	const numFields = 10
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(records)*numFields)

	for i, rec := range records {
		p := i * numFields
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10)

		vals = append(vals,
			rec.ID, rec.RequestID, rec.CorrelationID, rec.Kind, rec.Status,
			[]byte(rec.Payload), []byte(rec.Decision), rec.CreatedAt, rec.DecidedAt, rec.WaitedMs,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO decision_trail (id, request_id, correlation_id, kind, status, payload, decision, created_at, decided_at, waited_ms) VALUES %s",
		strings.TrimSuffix(placeholders.String(), ","),
	)

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: trail batch insert failed: %w", err)
	}
	return nil
}
