package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads the audit timeline from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// TimelineWindow returns a page of audit rows matching the filters, newest
// first.
func (r *PGRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	query, args := buildTimelineQuery(filters)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC OFFSET $%d LIMIT $%d", len(args)+1, len(args)+2)
	args = append(args, offset, limit)
	return r.queryRows(ctx, query, args)
}

// TimelineAll returns every matching row without paging, newest first.
func (r *PGRepository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	query, args := buildTimelineQuery(filters)
	query += " ORDER BY occurred_at DESC"
	return r.queryRows(ctx, query, args)
}

func buildTimelineQuery(filters TimelineFilters) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filters.From.IsZero() {
		add("occurred_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("occurred_at <= $%d", filters.To)
	}
	if filters.ActorID != nil {
		add("actor_id = $%d", *filters.ActorID)
	}
	if entity := strings.TrimSpace(filters.Entity); entity != "" {
		add("entity = $%d", entity)
	}
	if action := strings.TrimSpace(filters.Action); action != "" {
		add("action = $%d", action)
	}
	query := `SELECT occurred_at, actor_id, action, entity, entity_id, meta FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query, args
}

func (r *PGRepository) queryRows(ctx context.Context, query string, args []any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []TimelineRow
	for rows.Next() {
		row, err := scanTimelineRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func scanTimelineRow(rows pgx.Rows) (TimelineRow, error) {
	var row TimelineRow
	var metaJSON []byte
	if err := rows.Scan(&row.At, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &metaJSON); err != nil {
		return TimelineRow{}, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &row.Meta); err != nil {
			return TimelineRow{}, err
		}
	}
	return row, nil
}
