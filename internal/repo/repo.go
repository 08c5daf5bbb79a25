package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"todoline/internal/storage"
)

// Repo is the sqlite key-value table backing storage facades.
type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = storage.ErrNotFound

// Entry is one stored key with its metadata.
type Entry struct {
	Key       string `json:"key"`
	Bytes     int    `json:"bytes"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) Get(ctx context.Context, key string) ([]byte, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT value_json FROM kv WHERE key=?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (r Repo) Put(ctx context.Context, key string, value []byte) error {
	now := r.now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO kv(key,value_json,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`, key, string(value), now)
	return err
}

func (r Repo) Delete(ctx context.Context, key string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM kv WHERE key=?`, key)
	return err
}

// Keys lists entries whose key starts with prefix.
func (r Repo) Keys(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key,length(value_json),updated_at FROM kv WHERE key LIKE ? ESCAPE '\' ORDER BY key`, likePrefix(prefix))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Bytes, &e.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// DeletePrefix removes every key starting with prefix and reports how many were removed.
func (r Repo) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM kv WHERE key LIKE ? ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
