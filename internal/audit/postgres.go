package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/facesystem/gateway/internal/tracing"
)

const rowColumns = `id, request_id, user_id, actor_email, actor_role, action, target_type, target_id,
	outcome, method, path, status_code, client_ip, user_agent, duration_ms, event_timestamp, created_at`

// PostgresRepository implements Repository on the audit_logs table.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

// Save inserts row. A row with the same request_id is left untouched.
func (r *PostgresRepository) Save(ctx context.Context, row *Row) (inserted bool, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_logs", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO audit_logs (request_id, user_id, actor_email, actor_role, action, target_type, target_id,
			outcome, method, path, status_code, client_ip, user_agent, duration_ms, event_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		row.RequestID, row.UserID, row.ActorEmail, row.ActorRole, row.Action, row.TargetType, row.TargetID,
		string(row.Outcome), row.Method, row.Path, row.StatusCode, row.ClientIP, row.UserAgent,
		row.DurationMs, row.Timestamp,
	).Scan(&row.ID, &row.CreatedAt)
	if err == sql.ErrNoRows {
		r.logger.DebugContext(ctx, "audit row already stored",
			slog.String("request_id", row.RequestID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert audit row: %w", err)
	}
	return true, nil
}

// FindAll returns rows ordered by created_at descending.
func (r *PostgresRepository) FindAll(ctx context.Context, page, size int) (Page[Row], error) {
	return r.find(ctx, page, size, "", nil)
}

// FindByUser returns rows for userID ordered by created_at descending.
func (r *PostgresRepository) FindByUser(ctx context.Context, userID int64, page, size int) (Page[Row], error) {
	return r.find(ctx, page, size, "WHERE user_id = $1", []any{userID})
}

func (r *PostgresRepository) find(ctx context.Context, page, size int, where string, args []any) (result Page[Row], err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_logs", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var total int64
	if err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs "+where, args...).Scan(&total); err != nil {
		return Page[Row]{}, fmt.Errorf("count audit rows: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf("SELECT %s FROM audit_logs %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		rowColumns, where, n+1, n+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, size, page*size)...)
	if err != nil {
		return Page[Row]{}, fmt.Errorf("query audit rows: %w", err)
	}
	defer rows.Close()

	var content []Row
	for rows.Next() {
		var row Row
		var outcome string
		if err = rows.Scan(
			&row.ID, &row.RequestID, &row.UserID, &row.ActorEmail, &row.ActorRole, &row.Action,
			&row.TargetType, &row.TargetID, &outcome, &row.Method, &row.Path, &row.StatusCode,
			&row.ClientIP, &row.UserAgent, &row.DurationMs, &row.Timestamp, &row.CreatedAt,
		); err != nil {
			return Page[Row]{}, fmt.Errorf("scan audit row: %w", err)
		}
		row.Outcome = Outcome(outcome)
		content = append(content, row)
	}
	if err = rows.Err(); err != nil {
		return Page[Row]{}, fmt.Errorf("iterate audit rows: %w", err)
	}

	return NewPage(content, total, page, size), nil
}
