package workitem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists work items in PostgreSQL. Status changes and history
// rows are written in the same transaction under SELECT ... FOR UPDATE.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const itemColumns = `id::text, kind, status, owner_id, reviewer_id, created_by, payload, version, created_at, updated_at`

// Keep id comparisons uncast or the primary key and the history index go
// unused.
const (
	selectItemSQL          = `SELECT ` + itemColumns + ` FROM work_items WHERE id = $1`
	selectItemForUpdateSQL = selectItemSQL + ` FOR UPDATE`
	selectHistorySQL       = `
		SELECT work_item_id::text, seq, at, actor_id, action, from_status, to_status, comment
		FROM work_item_history
		WHERE work_item_id = ANY($1::uuid[])
		ORDER BY work_item_id, seq ASC`
)

// parseID maps ids that cannot name a stored row onto ErrNotFound.
func parseID(id string) (uuid.UUID, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, ErrNotFound
	}
	return key, nil
}

func (s *PGStore) Create(ctx context.Context, item WorkItem) (WorkItem, error) {
	payload, err := encodePayload(item.Payload)
	if err != nil {
		return WorkItem{}, err
	}

	const query = `
		INSERT INTO work_items (id, kind, status, owner_id, reviewer_id, created_by, payload, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10)
		RETURNING ` + itemColumns

	created, err := scanItem(s.pool.QueryRow(ctx, query,
		item.ID, item.Kind, item.Status, item.OwnerID, item.ReviewerID, item.CreatedBy,
		payload, item.Version, item.CreatedAt, item.UpdatedAt,
	))
	if err != nil {
		return WorkItem{}, fmt.Errorf("workitem: insert: %w", err)
	}
	created.History = []HistoryEntry{}
	return created, nil
}

func (s *PGStore) Get(ctx context.Context, id string) (WorkItem, error) {
	key, err := parseID(id)
	if err != nil {
		return WorkItem{}, err
	}
	item, err := scanItem(s.pool.QueryRow(ctx, selectItemSQL, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkItem{}, ErrNotFound
		}
		return WorkItem{}, fmt.Errorf("workitem: query by id: %w", err)
	}
	history, err := loadHistory(ctx, s.pool, []string{item.ID})
	if err != nil {
		return WorkItem{}, err
	}
	item.History = history[item.ID]
	return item, nil
}

func (s *PGStore) List(ctx context.Context, filter Filter) ([]WorkItem, error) {
	query := `SELECT ` + itemColumns + ` FROM work_items`
	var (
		clauses []string
		args    []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.OwnerID != "" {
		add("owner_id", filter.OwnerID)
	}
	if filter.ReviewerID != "" {
		add("reviewer_id", filter.ReviewerID)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if filter.Kind != "" {
		add("kind", filter.Kind)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workitem: list: %w", err)
	}
	defer rows.Close()

	items := make([]WorkItem, 0, 16)
	ids := make([]string, 0, 16)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("workitem: scan: %w", err)
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workitem: iterate: %w", err)
	}

	if len(ids) == 0 {
		return items, nil
	}
	history, err := loadHistory(ctx, s.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].History = history[items[i].ID]
	}
	return items, nil
}

func (s *PGStore) Update(ctx context.Context, id string, mutate func(WorkItem) (WorkItem, error)) (WorkItem, error) {
	key, err := parseID(id)
	if err != nil {
		return WorkItem{}, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WorkItem{}, fmt.Errorf("workitem: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanItem(tx.QueryRow(ctx, selectItemForUpdateSQL, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkItem{}, ErrNotFound
		}
		return WorkItem{}, fmt.Errorf("workitem: fetch current status: %w", err)
	}
	history, err := loadHistory(ctx, tx, []string{current.ID})
	if err != nil {
		return WorkItem{}, err
	}
	current.History = history[current.ID]

	next, err := mutate(current.Clone())
	if err != nil {
		return WorkItem{}, err
	}
	if len(next.History) < len(current.History) {
		return WorkItem{}, fmt.Errorf("workitem: update would drop history of %s", id)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE work_items
		SET status = $1, version = $2, updated_at = $3
		WHERE id = $4 AND version = $5
	`, next.Status, next.Version, next.UpdatedAt, key, current.Version)
	if err != nil {
		return WorkItem{}, fmt.Errorf("workitem: update status: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return WorkItem{}, fmt.Errorf("%w: version moved past %d", ErrInvalidTransition, current.Version)
	}

	for _, entry := range next.History[len(current.History):] {
		if _, err := tx.Exec(ctx, `
			INSERT INTO work_item_history (work_item_id, seq, at, actor_id, action, from_status, to_status, comment)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, key, entry.Seq, entry.At, entry.ActorID, entry.Action, entry.From, entry.To, entry.Comment); err != nil {
			return WorkItem{}, fmt.Errorf("workitem: insert history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return WorkItem{}, fmt.Errorf("workitem: commit transition: %w", err)
	}
	return next, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadHistory(ctx context.Context, q querier, ids []string) (map[string][]HistoryEntry, error) {
	keys := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		key, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("workitem: history key %q: %w", id, err)
		}
		keys = append(keys, key)
	}
	rows, err := q.Query(ctx, selectHistorySQL, keys)
	if err != nil {
		return nil, fmt.Errorf("workitem: query history: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]HistoryEntry, len(ids))
	for _, id := range ids {
		out[id] = []HistoryEntry{}
	}
	for rows.Next() {
		var (
			itemID string
			entry  HistoryEntry
		)
		if err := rows.Scan(&itemID, &entry.Seq, &entry.At, &entry.ActorID, &entry.Action, &entry.From, &entry.To, &entry.Comment); err != nil {
			return nil, fmt.Errorf("workitem: scan history: %w", err)
		}
		out[itemID] = append(out[itemID], entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workitem: iterate history: %w", err)
	}
	return out, nil
}

func scanItem(row pgx.Row) (WorkItem, error) {
	var (
		item    WorkItem
		payload []byte
	)
	if err := row.Scan(
		&item.ID,
		&item.Kind,
		&item.Status,
		&item.OwnerID,
		&item.ReviewerID,
		&item.CreatedBy,
		&payload,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return WorkItem{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return WorkItem{}, fmt.Errorf("workitem: decode payload: %w", err)
		}
	}
	return item, nil
}

func encodePayload(payload map[string]any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("workitem: encode payload: %w", err)
	}
	return string(b), nil
}
