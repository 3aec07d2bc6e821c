package sagadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sagaflow/internal/contracts"
	"sagaflow/internal/saga"
)

// PostgresStore persists saga instances and their outbox in Postgres.
type PostgresStore struct {
	db *sql.DB
}

var _ saga.Store = (*PostgresStore)(nil)

// NewPostgresStore constructs a saga.Store backed by Postgres.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresStoreWithSchema initializes the schema then returns the store.
func NewPostgresStoreWithSchema(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	store := NewPostgresStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates saga tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS saga_instances (
			correlation_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			items JSONB NOT NULL,
			payment_id TEXT,
			version BIGINT NOT NULL,
			processed_event_ids JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS saga_outbox (
			message_id TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at_version BIGINT NOT NULL,
			delivered BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			FOREIGN KEY (correlation_id) REFERENCES saga_instances(correlation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS saga_outbox_pending ON saga_outbox (created_at) WHERE NOT delivered`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Load reads the instance for the correlation id.
func (s *PostgresStore) Load(ctx context.Context, correlationID string) (*saga.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, state, customer_id, amount, items, payment_id,
		       version, processed_event_ids, created_at, updated_at
		FROM saga_instances
		WHERE correlation_id = $1`,
		correlationID,
	)

	var (
		inst      saga.Instance
		state     string
		items     []byte
		paymentID sql.NullString
		processed []byte
	)
	err := row.Scan(&inst.CorrelationID, &state, &inst.CustomerID, &inst.Amount,
		&items, &paymentID, &inst.Version, &processed, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, saga.ErrNotFound
		}
		return nil, err
	}

	inst.State = saga.State(state)
	inst.PaymentID = paymentID.String
	if err := json.Unmarshal(items, &inst.Items); err != nil {
		return nil, fmt.Errorf("decode items for %s: %w", correlationID, err)
	}
	if err := json.Unmarshal(processed, &inst.ProcessedEventIDs); err != nil {
		return nil, fmt.Errorf("decode processed ids for %s: %w", correlationID, err)
	}

	return &inst, nil
}

// Save writes the instance and its new outbox entries in one transaction,
// guarded by the expected version.
func (s *PostgresStore) Save(ctx context.Context, inst *saga.Instance, expectedVersion int64, outbox []saga.OutboxEntry) error {
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
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (correlation_id) DO NOTHING`,
			inst.CorrelationID, string(inst.State), inst.CustomerID, inst.Amount,
			items, nullable(inst.PaymentID), inst.Version, processed,
			inst.CreatedAt, inst.UpdatedAt,
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE saga_instances
			SET state = $2, payment_id = $3, version = $4,
			    processed_event_ids = $5, updated_at = $6
			WHERE correlation_id = $1 AND version = $7`,
			inst.CorrelationID, string(inst.State), nullable(inst.PaymentID),
			inst.Version, processed, inst.UpdatedAt, expectedVersion,
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
			VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
			entry.MessageID, entry.CorrelationID, entry.Kind, entry.Payload,
			entry.CreatedAtVersion, entry.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// PendingOutbox returns undelivered entries, oldest first.
func (s *PostgresStore) PendingOutbox(ctx context.Context, limit int) ([]saga.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, correlation_id, kind, payload, created_at_version, delivered, created_at
		FROM saga_outbox
		WHERE NOT delivered
		ORDER BY created_at, message_id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []saga.OutboxEntry
	for rows.Next() {
		var entry saga.OutboxEntry
		if err := rows.Scan(&entry.MessageID, &entry.CorrelationID, &entry.Kind,
			&entry.Payload, &entry.CreatedAtVersion, &entry.Delivered, &entry.CreatedAt); err != nil {
			return nil, err
		}
		pending = append(pending, entry)
	}
	return pending, rows.Err()
}

// MarkDelivered flags an outbox entry as handed to the transport.
func (s *PostgresStore) MarkDelivered(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE saga_outbox SET delivered = TRUE WHERE message_id = $1`,
		messageID,
	)
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// instItems and instProcessed normalize nil slices so the JSON columns always
// hold arrays.
func instItems(inst *saga.Instance) []contracts.OrderItem {
	if inst.Items == nil {
		return []contracts.OrderItem{}
	}
	return inst.Items
}

func instProcessed(inst *saga.Instance) []string {
	if inst.ProcessedEventIDs == nil {
		return []string{}
	}
	return inst.ProcessedEventIDs
}
