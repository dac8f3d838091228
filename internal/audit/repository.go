package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository menulis dan membaca tabel audit_log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository membuat repository audit berbasis PostgreSQL.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append inserts one entry. Rows are never updated or deleted.
func (r *Repository) Append(ctx context.Context, entry Entry) error {
	if r == nil || r.pool == nil {
		return errors.New("audit: repository not initialised")
	}
	oldJSON, err := marshalValues(entry.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(entry.NewValues)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO audit_log (id, tenant_id, entity_type, entity_id, action, old_values, new_values, actor_id, actor_role, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.TenantID, entry.EntityType, entry.EntityID, entry.Action, oldJSON, newJSON,
		entry.ActorID, entry.ActorRole, entry.At)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

// Window returns at most limit rows matching the filters, newest first.
func (r *Repository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Entry, error) {
	query, args := windowQuery(filters)
	query += fmt.Sprintf(" ORDER BY at DESC, id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	return r.query(ctx, query, args...)
}

// All returns every row matching the filters, oldest first.
func (r *Repository) All(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	query, args := windowQuery(filters)
	query += " ORDER BY at ASC, id"
	return r.query(ctx, query, args...)
}

func windowQuery(filters TimelineFilters) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, tenant_id, entity_type, entity_id, action, old_values, new_values, actor_id, actor_role, at
FROM audit_log WHERE tenant_id = $1`)
	args := []any{filters.TenantID}
	add := func(clause string, value any) {
		args = append(args, value)
		fmt.Fprintf(&sb, " AND "+clause, len(args))
	}
	if filters.EntityType != "" {
		add("entity_type = $%d", filters.EntityType)
	}
	if filters.EntityID != "" {
		add("entity_id = $%d", filters.EntityID)
	}
	if filters.Action != "" {
		add("action = $%d", filters.Action)
	}
	if filters.Actor != "" {
		add("actor_id = $%d", filters.Actor)
	}
	if !filters.From.IsZero() {
		add("at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("at < $%d", filters.To)
	}
	return sb.String(), args
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var oldJSON, newJSON []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EntityType, &e.EntityID, &e.Action, &oldJSON, &newJSON, &e.ActorID, &e.ActorRole, &e.At); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if len(oldJSON) > 0 {
			if err := json.Unmarshal(oldJSON, &e.OldValues); err != nil {
				return nil, err
			}
		}
		if len(newJSON) > 0 {
			if err := json.Unmarshal(newJSON, &e.NewValues); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func marshalValues(values map[string]any) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal values: %w", err)
	}
	return data, nil
}
