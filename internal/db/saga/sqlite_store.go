package sagadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sagaflow/internal/saga"
)

// SQLiteStore persists saga instances and their outbox in SQLite, for
// single-node deployments.
//
// It expects an *sql.DB opened with a SQLite driver; the caller imports the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ saga.Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the schema and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS saga_instances (
			correlation_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			amount REAL NOT NULL,
			items TEXT NOT NULL,
			payment_id TEXT,
			version INTEGER NOT NULL,
			processed_event_ids TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS saga_outbox (
			message_id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at_version INTEGER NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, correlationID string) (*saga.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, state, customer_id, amount, items, payment_id,
		       version, processed_event_ids, created_at, updated_at
		FROM saga_instances
		WHERE correlation_id = ?`,
		correlationID,
	)

	var (
		inst      saga.Instance
		state     string
		items     string
		paymentID sql.NullString
		processed string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&inst.CorrelationID, &state, &inst.CustomerID, &inst.Amount,
		&items, &paymentID, &inst.Version, &processed, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, saga.ErrNotFound
		}
		return nil, err
	}

	inst.State = saga.State(state)
	inst.PaymentID = paymentID.String
	if err := json.Unmarshal([]byte(items), &inst.Items); err != nil {
		return nil, fmt.Errorf("decode items for %s: %w", correlationID, err)
	}
	if err := json.Unmarshal([]byte(processed), &inst.ProcessedEventIDs); err != nil {
		return nil, fmt.Errorf("decode processed ids for %s: %w", correlationID, err)
	}
	if inst.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at for %s: %w", correlationID, err)
	}
	if inst.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("decode updated_at for %s: %w", correlationID, err)
	}

	return &inst, nil
}

func (s *SQLiteStore) Save(ctx context.Context, inst *saga.Instance, expectedVersion int64, outbox []saga.OutboxEntry) error {
	items, err := json.Marshal(instItems(inst))
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	processed, err := json.Marshal(instProcessed(inst))
	if err != nil {
		return fmt.Errorf("encode processed ids: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var res sql.Result
	if expectedVersion == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO saga_instances
				(correlation_id, state, customer_id, amount, items, payment_id,
				 version, processed_event_ids, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (correlation_id) DO NOTHING`,
			inst.CorrelationID, string(inst.State), inst.CustomerID, inst.Amount,
			string(items), nullable(inst.PaymentID), inst.Version, string(processed),
			inst.CreatedAt.UTC().Format(time.RFC3339Nano),
			inst.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE saga_instances
			SET state = ?, payment_id = ?, version = ?, processed_event_ids = ?, updated_at = ?
			WHERE correlation_id = ? AND version = ?`,
			string(inst.State), nullable(inst.PaymentID), inst.Version, string(processed),
			inst.UpdatedAt.UTC().Format(time.RFC3339Nano),
			inst.CorrelationID, expectedVersion,
		)
	}
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return saga.ErrVersionConflict
	}

	for _, entry := range outbox {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO saga_outbox
				(message_id, correlation_id, kind, payload, created_at_version, delivered, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?)`,
			entry.MessageID, entry.CorrelationID, entry.Kind, entry.Payload,
			entry.CreatedAtVersion, entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) PendingOutbox(ctx context.Context, limit int) ([]saga.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, correlation_id, kind, payload, created_at_version, delivered, created_at
		FROM saga_outbox
		WHERE delivered = 0
		ORDER BY created_at, message_id
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []saga.OutboxEntry
	for rows.Next() {
		var (
			entry     saga.OutboxEntry
			delivered int
			createdAt string
		)
		if err := rows.Scan(&entry.MessageID, &entry.CorrelationID, &entry.Kind,
			&entry.Payload, &entry.CreatedAtVersion, &delivered, &createdAt); err != nil {
			return nil, err
		}
		entry.Delivered = delivered != 0
		if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("decode outbox created_at for %s: %w", entry.MessageID, err)
		}
		pending = append(pending, entry)
	}
	return pending, rows.Err()
}

func (s *SQLiteStore) MarkDelivered(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE saga_outbox SET delivered = 1 WHERE message_id = ?`,
		messageID,
	)
	return err
}
