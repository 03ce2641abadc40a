package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaloml/cui/internal/domain"
	"github.com/shaloml/cui/internal/infra"
)

// ConversationRepo reads and writes the durable conversation summaries the
// live correlator overlays. The pending mediation requests themselves are
// never persisted here; only finished-conversation metadata is durable.
type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(ctx context.Context, cfg infra.DatabaseConfig) (*ConversationRepo, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	return &ConversationRepo{pool: pool}, nil
}

func (r *ConversationRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *ConversationRepo) Close() {
	r.pool.Close()
}

// ListSummaries returns one page of summaries ordered by last update,
// newest first. Implements live.SummarySource.
func (r *ConversationRepo) ListSummaries(ctx context.Context, limit, offset int) ([]domain.ConversationSummary, error) {
	query := `SELECT id, correlation_id, title, status, created_at, updated_at
	          FROM conversations
	          ORDER BY updated_at DESC
	          LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query conversations: %w", err)
	}
	defer rows.Close()

	// Empty slice so handlers encode [] instead of null.
	results := make([]domain.ConversationSummary, 0)
	for rows.Next() {
		var s domain.ConversationSummary
		var correlationID *string

		if err := rows.Scan(&s.ID, &correlationID, &s.Title, &s.Status, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan conversation: %w", err)
		}
		if correlationID != nil {
			s.CorrelationID = *correlationID
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// GetSummary fetches a single conversation by id.
func (r *ConversationRepo) GetSummary(ctx context.Context, id string) (*domain.ConversationSummary, error) {
	query := `SELECT id, correlation_id, title, status, created_at, updated_at
	          FROM conversations WHERE id = $1`

	var s domain.ConversationSummary
	var correlationID *string
	err := r.pool.QueryRow(ctx, query, id).Scan(&s.ID, &correlationID, &s.Title, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("postgres: failed to fetch conversation: %w", err)
	}
	if correlationID != nil {
		s.CorrelationID = *correlationID
	}
	return &s, nil
}

// UpsertSummary is called by the process supervisor when a run starts or
// its durable record lands. The correlator never writes through here.
func (r *ConversationRepo) UpsertSummary(ctx context.Context, s domain.ConversationSummary) error {
	query := `
		INSERT INTO conversations (id, correlation_id, title, status, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET correlation_id = NULLIF($2, ''),
		    title = $3,
		    status = $4,
		    updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, s.ID, s.CorrelationID, s.Title, s.Status); err != nil {
		return fmt.Errorf("postgres: failed to upsert conversation: %w", err)
	}
	return nil
}
