// Package oracles holds SQL checks that must return no rows no matter how
// transitions interleave.
package oracles

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"opsdesk/workitem"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "history_seq_contiguous",
			SQL: `SELECT work_item_id, seq, rn FROM (
                      SELECT work_item_id, seq,
                             ROW_NUMBER() OVER (PARTITION BY work_item_id ORDER BY seq) AS rn
                      FROM work_item_history) h
                  WHERE seq <> rn`,
		},
		{
			Name: "version_matches_history",
			SQL: `SELECT w.id, w.version, COUNT(h.seq)
                  FROM work_items w
                  LEFT JOIN work_item_history h ON h.work_item_id = w.id
                  GROUP BY w.id, w.version
                  HAVING w.version <> COUNT(h.seq)`,
		},
		{
			Name: "history_chain_unbroken",
			SQL: `SELECT work_item_id, seq, from_status, prev_to FROM (
                      SELECT work_item_id, seq, from_status,
                             COALESCE(LAG(to_status) OVER (PARTITION BY work_item_id ORDER BY seq), 'pending') AS prev_to
                      FROM work_item_history) h
                  WHERE from_status <> prev_to`,
		},
		{
			Name: "status_is_last_entry",
			SQL: `SELECT w.id, w.status, COALESCE(last.to_status, 'pending') AS expected
                  FROM work_items w
                  LEFT JOIN LATERAL (
                      SELECT to_status FROM work_item_history h
                      WHERE h.work_item_id = w.id
                      ORDER BY seq DESC LIMIT 1) last ON true
                  WHERE w.status <> COALESCE(last.to_status, 'pending')`,
		},
		{
			Name: "history_follows_rules",
			SQL: `SELECT h.work_item_id, h.seq, h.from_status, h.action, h.to_status
                  FROM work_item_history h
                  WHERE (h.from_status, h.action, h.to_status) NOT IN (` + ruleValues() + `)`,
		},
		{
			Name: "history_actor_is_party",
			SQL: `SELECT h.work_item_id, h.seq, h.actor_id
                  FROM work_item_history h
                  JOIN work_items w ON w.id = h.work_item_id
                  WHERE h.actor_id NOT IN (w.owner_id, w.reviewer_id)`,
		},
		{
			Name: "work_item_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'work_items_no_delete')`,
		},
	}
}

func ruleValues() string {
	rows := make([]string, 0, len(workitem.Rules()))
	for _, r := range workitem.Rules() {
		rows = append(rows, fmt.Sprintf("('%s', '%s', '%s')", r.From, r.Action, r.To))
	}
	return strings.Join(rows, ", ")
}

// Run executes every oracle and returns the first failure's name and a
// sample row, or an empty name when all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
