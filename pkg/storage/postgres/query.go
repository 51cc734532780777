package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// conds accumulates WHERE clauses. Each clause uses ? for its single
// argument, which is rewritten to the next $n placeholder.
type conds struct {
	clauses []string
	args    []any
}

func (c *conds) add(clause string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, strings.Replace(clause, "?", fmt.Sprintf("$%d", len(c.args)), 1))
}

func (c *conds) raw(clause string) {
	c.clauses = append(c.clauses, clause)
}

func (c *conds) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// limit returns a LIMIT/OFFSET suffix and the full argument list.
func (c *conds) limit(page models.PageRequest) (string, []any) {
	n := len(c.args)
	args := append(append([]any(nil), c.args...), page.PageSize, page.Offset())
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2), args
}

func (s *Store) count(ctx context.Context, table string, c *conds) (int64, error) {
	var total int64
	err := s.replica().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+c.where(), c.args...).Scan(&total)
	return total, err
}

// loadIDs fetches the (parent, child) id pairs of a join table for the given parents.
func loadIDs(ctx context.Context, db *sql.DB, query string, parents []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(parents))
	if len(parents) == 0 {
		return out, nil
	}
	rows, err := db.QueryContext(ctx, query, pq.Array(parents))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var parent, child int64
		if err := rows.Scan(&parent, &child); err != nil {
			return nil, err
		}
		out[parent] = append(out[parent], child)
	}
	return out, rows.Err()
}

func ownersOrEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func replaceOwners(ctx context.Context, tx *sql.Tx, table, column string, id int64, owners []int64) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table, column), id); err != nil {
		return err
	}
	for _, uid := range owners {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (%s, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING", table, column),
			id, uid); err != nil {
			return err
		}
	}
	return nil
}
