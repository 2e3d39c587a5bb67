package registry

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"time"
)

// postgresRegistry keeps one row per connection in the "connections" table
// (see db_client/schema.sql). Each operation is a single statement.
type postgresRegistry struct {
	db  *sql.DB
	now func() time.Time
}

var _ Registry = (*postgresRegistry)(nil)

func NewPostgresRegistry(db *sql.DB) Registry {
	return &postgresRegistry{db: db, now: time.Now}
}

func (r *postgresRegistry) Insert(ctx context.Context, id, node string) error {
	const upsertQ = `
	  INSERT INTO connections (connection_id, user_name, node, created_at)
	       VALUES ($1, '', $2, $3)
	  ON CONFLICT (connection_id) DO UPDATE
	        SET user_name  = '',
	            node       = EXCLUDED.node,
	            created_at = EXCLUDED.created_at`

	if _, err := r.db.ExecContext(ctx, upsertQ, id, node, r.now().UTC()); err != nil {
		return unavailable("insert", err)
	}
	return nil
}

func (r *postgresRegistry) Remove(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE connection_id = $1`, id); err != nil {
		return unavailable("remove", err)
	}
	return nil
}

func (r *postgresRegistry) UpdateUserName(ctx context.Context, id, userName string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE connections SET user_name = $2 WHERE connection_id = $1`, id, userName)
	if err != nil {
		return unavailable("rename", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("rename", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (r *postgresRegistry) Get(ctx context.Context, id string) (ConnectionRecord, error) {
	const q = `SELECT connection_id, coalesce(user_name,''), coalesce(node,''), created_at
	             FROM connections WHERE connection_id = $1`

	var rec ConnectionRecord
	err := r.db.QueryRowContext(ctx, q, id).Scan(&rec.ConnectionID, &rec.UserName, &rec.Node, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConnectionRecord{}, notFound(id)
		}
		return ConnectionRecord{}, unavailable("get", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (r *postgresRegistry) ListAll(ctx context.Context) iter.Seq2[ConnectionRecord, error] {
	return func(yield func(ConnectionRecord, error) bool) {
		const q = `SELECT connection_id, coalesce(user_name,''), coalesce(node,''), created_at
		             FROM connections`

		rows, err := r.db.QueryContext(ctx, q)
		if err != nil {
			yield(ConnectionRecord{}, unavailable("list", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var rec ConnectionRecord
			if err := rows.Scan(&rec.ConnectionID, &rec.UserName, &rec.Node, &rec.CreatedAt); err != nil {
				yield(ConnectionRecord{}, unavailable("list", err))
				return
			}
			rec.CreatedAt = rec.CreatedAt.UTC()
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(ConnectionRecord{}, unavailable("list", err))
		}
	}
}

func (r *postgresRegistry) RemoveNode(ctx context.Context, node string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE node = $1`, node)
	if err != nil {
		return 0, unavailable("remove node", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("remove node", err)
	}
	return int(n), nil
}
