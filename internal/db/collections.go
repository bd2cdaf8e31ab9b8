package db

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
)

// RecordKey extracts the value of field from a JSON object record as a
// string key. Numeric keys keep their JSON spelling.
func RecordKey(record json.RawMessage, field string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(record))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return "", fmt.Errorf("decode record: %w", err)
	}
	switch v := obj[field].(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("%w: empty %q", ErrMissingKey, field)
		}
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("%w: field %q", ErrMissingKey, field)
	}
}

// Collections returns the names of every collection in the schema.
func (db *DB) Collections(ctx context.Context) ([]string, error) {
	if err := db.Open(ctx); err != nil {
		return nil, err
	}
	db.mu.Lock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	db.mu.Unlock()
	sort.Strings(names)
	return names, nil
}

// HasCollection reports whether the schema defines the collection.
func (db *DB) HasCollection(ctx context.Context, name string) bool {
	if err := db.Open(ctx); err != nil {
		return false
	}
	_, err := db.keyField(name)
	return err == nil
}

// prepare opens the store and resolves the collection's key field.
func (db *DB) prepare(ctx context.Context, collection string) (*sql.DB, string, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, "", err
	}
	field, err := db.keyField(collection)
	if err != nil {
		return nil, "", err
	}
	return conn, field, nil
}

// GetAll returns every record in the collection in insertion order.
func (db *DB) GetAll(ctx context.Context, collection string) ([]json.RawMessage, error) {
	conn, _, err := db.prepare(ctx, collection)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, `SELECT data FROM records WHERE collection = ? ORDER BY rowid`, collection)
	if err != nil {
		return nil, fmt.Errorf("get all %s: %w", collection, err)
	}
	defer rows.Close()

	records := []json.RawMessage{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		records = append(records, json.RawMessage(data))
	}
	return records, rows.Err()
}

// Get returns the record stored under key, or ErrNotFound.
func (db *DB) Get(ctx context.Context, collection, key string) (json.RawMessage, error) {
	conn, _, err := db.prepare(ctx, collection)
	if err != nil {
		return nil, err
	}

	var data string
	err = conn.QueryRowContext(ctx, `SELECT data FROM records WHERE collection = ? AND key = ?`, collection, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Put inserts the record, overwriting any record with the same key.
func (db *DB) Put(ctx context.Context, collection string, record json.RawMessage) error {
	conn, field, err := db.prepare(ctx, collection)
	if err != nil {
		return err
	}
	key, err := RecordKey(record, field)
	if err != nil {
		return fmt.Errorf("put %s: %w", collection, err)
	}

	return db.withWriteLock(ctx, func() error {
		_, err := conn.ExecContext(ctx, upsertRecord, collection, key, string(record))
		return err
	})
}

// Delete removes the record stored under key. Deleting a missing key is not an error.
func (db *DB) Delete(ctx context.Context, collection, key string) error {
	conn, _, err := db.prepare(ctx, collection)
	if err != nil {
		return err
	}
	return db.withWriteLock(ctx, func() error {
		_, err := conn.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND key = ?`, collection, key)
		return err
	})
}

// Clear removes every record in the collection.
func (db *DB) Clear(ctx context.Context, collection string) error {
	conn, _, err := db.prepare(ctx, collection)
	if err != nil {
		return err
	}
	return db.withWriteLock(ctx, func() error {
		_, err := conn.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection)
		return err
	})
}

// Count returns the number of records in the collection.
func (db *DB) Count(ctx context.Context, collection string) (int, error) {
	conn, _, err := db.prepare(ctx, collection)
	if err != nil {
		return 0, err
	}
	var n int
	err = conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&n)
	return n, err
}

// Replace clears the collection and stores records in one transaction, so
// readers see either the old contents or the new ones.
func (db *DB) Replace(ctx context.Context, collection string, records []json.RawMessage) error {
	conn, field, err := db.prepare(ctx, collection)
	if err != nil {
		return err
	}

	keys := make([]string, len(records))
	for i, rec := range records {
		key, err := RecordKey(rec, field)
		if err != nil {
			return fmt.Errorf("replace %s: record %d: %w", collection, i, err)
		}
		keys[i] = key
	}

	return db.withWriteLock(ctx, func() error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
			return fmt.Errorf("clear %s: %w", collection, err)
		}

		stmt, err := tx.PrepareContext(ctx, upsertRecord)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, rec := range records {
			if _, err := stmt.ExecContext(ctx, collection, keys[i], string(rec)); err != nil {
				return fmt.Errorf("insert %s/%s: %w", collection, keys[i], err)
			}
		}
		return tx.Commit()
	})
}

const upsertRecord = `
	INSERT INTO records (collection, key, data, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(collection, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
`

// PutJSON marshals v and stores it in the collection.
func PutJSON[T any](ctx context.Context, db *DB, collection string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", collection, err)
	}
	return db.Put(ctx, collection, data)
}

// GetAllJSON loads and decodes every record in the collection.
func GetAllJSON[T any](ctx context.Context, db *DB, collection string) ([]T, error) {
	records, err := db.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](records)
}

// DecodeAll decodes raw records into values of type T.
func DecodeAll[T any](records []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
