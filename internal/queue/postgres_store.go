package queue

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/lib/pq"

	"offsync-go/internal/apierr"
	"offsync-go/internal/queue/migrations"
)

// PostgresStore persists the queue in a queue_entries table. Seq comes
// from the table's bigserial so append order survives any number of
// clients.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool for dsn.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, apierr.Storage("open postgres", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing pool, mainly for tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Initialize(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return apierr.Storage("postgres ping", err)
	}
	if err := migrations.PostgresUp(p.db); err != nil {
		return apierr.Storage("apply queue migrations", err)
	}
	return nil
}

const pgEntryColumns = "seq, id, method, path, body, headers, idempotency_key, enqueued_at, attempts, last_error, dead_reason, status"

func (p *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	headers, err := marshalHeaders(entry.Headers)
	if err != nil {
		return err
	}
	entry.Status = StatusPending
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO queue_entries (id, method, path, body, headers, idempotency_key, enqueued_at, attempts, last_error, dead_reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq`,
		entry.ID, entry.Method, entry.Path, entry.Body, headers, entry.IdempotencyKey,
		entry.EnqueuedAt, entry.Attempts, entry.LastError, entry.DeadReason, entry.Status,
	).Scan(&entry.Seq)
	if err != nil {
		return apierr.Storage("append queue entry", err)
	}
	return nil
}

func (p *PostgresStore) Pending(ctx context.Context) ([]*Entry, error) {
	return p.query(ctx, `
		SELECT `+pgEntryColumns+` FROM queue_entries
		WHERE status IN ($1, $2) ORDER BY seq`,
		StatusPending, StatusInFlight)
}

func (p *PostgresStore) Update(ctx context.Context, entry *Entry) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET attempts = $2, last_error = $3, dead_reason = $4, status = $5
		WHERE seq = $1`,
		entry.Seq, entry.Attempts, entry.LastError, entry.DeadReason, entry.Status)
	if err != nil {
		return apierr.Storage("update queue entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Storage("update queue entry", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, seq int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE seq = $1`, seq)
	if err != nil {
		return apierr.Storage("delete queue entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.Storage("delete queue entry", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) DeadLetters(ctx context.Context) ([]*Entry, error) {
	return p.query(ctx, `
		SELECT `+pgEntryColumns+` FROM queue_entries
		WHERE status = $1 ORDER BY seq`,
		StatusDeadLetter)
}

func (p *PostgresStore) PurgeDeadLetters(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE status = $1`, StatusDeadLetter)
	if err != nil {
		return 0, apierr.Storage("purge dead letters", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apierr.Storage("purge dead letters", err)
	}
	return int(n), nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apierr.Storage("query queue entries", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var headers []byte
		if err := rows.Scan(&e.Seq, &e.ID, &e.Method, &e.Path, &e.Body, &headers,
			&e.IdempotencyKey, &e.EnqueuedAt, &e.Attempts, &e.LastError, &e.DeadReason, &e.Status); err != nil {
			return nil, apierr.Storage("scan queue entry", err)
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &e.Headers); err != nil {
				return nil, apierr.Storage("decode queue entry headers", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Storage("iterate queue entries", err)
	}
	return entries, nil
}

func marshalHeaders(headers map[string]string) ([]byte, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, apierr.Storage("encode queue entry headers", err)
	}
	return data, nil
}
