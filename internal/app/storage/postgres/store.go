// Package postgres implements the persistence bridge on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/storage"
	"github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/config"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(db)
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS canvas_ops (
	seq         BIGSERIAL PRIMARY KEY,
	project_id  TEXT NOT NULL,
	op_type     TEXT NOT NULL,
	data        JSONB,
	inverse     JSONB,
	element_ids TEXT[] NOT NULL DEFAULT '{}',
	element_id  TEXT NOT NULL DEFAULT '',
	actor_id    TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS canvas_ops_project_seq ON canvas_ops (project_id, seq);

CREATE TABLE IF NOT EXISTS canvas_elements (
	project_id TEXT NOT NULL,
	element_id TEXT NOT NULL,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (project_id, element_id)
);

CREATE TABLE IF NOT EXISTS canvas_snapshots (
	project_id        TEXT PRIMARY KEY,
	elements          JSONB NOT NULL,
	snapshot_op_index BIGINT NOT NULL,
	taken_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Init applies the schema. The tables are small enough that embedded DDL
// replaces a migration tool.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// --- OpLog ------------------------------------------------------------------

// AppendOp appends a record to the project's operation log and returns
// the assigned sequence number.
func (s *Store) AppendOp(ctx context.Context, rec storage.OpRecord) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO canvas_ops (project_id, op_type, data, inverse, element_ids, element_id, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`, rec.ProjectID, rec.Type, nullableJSON(rec.Data), nullableJSON(rec.Inverse),
		pq.Array(rec.ElementIDs), rec.ElementID, rec.ActorID)

	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("append op: %w", err)
	}
	return seq, nil
}

// OpsAfter returns the project's log entries with seq greater than
// afterSeq, in log order.
func (s *Store) OpsAfter(ctx context.Context, projectID string, afterSeq int64) ([]storage.OpRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, project_id, op_type, data, inverse, element_ids, element_id, actor_id, created_at
		FROM canvas_ops
		WHERE project_id = $1 AND seq > $2
		ORDER BY seq
	`, projectID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}
	defer rows.Close()

	var result []storage.OpRecord
	for rows.Next() {
		var (
			rec        storage.OpRecord
			data       sql.NullString
			inverse    sql.NullString
			elementIDs pq.StringArray
		)
		if err := rows.Scan(&rec.Seq, &rec.ProjectID, &rec.Type, &data, &inverse,
			&elementIDs, &rec.ElementID, &rec.ActorID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan op: %w", err)
		}
		if data.Valid {
			rec.Data = json.RawMessage(data.String)
		}
		if inverse.Valid {
			rec.Inverse = json.RawMessage(inverse.String)
		}
		rec.ElementIDs = []string(elementIDs)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// CountOpsAfter counts the project's log entries past afterSeq.
func (s *Store) CountOpsAfter(ctx context.Context, projectID string, afterSeq int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM canvas_ops WHERE project_id = $1 AND seq > $2
	`, projectID, afterSeq).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ops: %w", err)
	}
	return n, nil
}

// --- ElementStore -----------------------------------------------------------

// UpsertElement writes one element to the authoritative element table.
func (s *Store) UpsertElement(ctx context.Context, projectID string, el canvas.Element) error {
	id := el.ID()
	if id == "" {
		return fmt.Errorf("upsert element: element has no id")
	}
	doc, err := json.Marshal(el)
	if err != nil {
		return fmt.Errorf("marshal element: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO canvas_elements (project_id, element_id, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (project_id, element_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`, projectID, id, doc)
	if err != nil {
		return fmt.Errorf("upsert element: %w", err)
	}
	return nil
}

// DeleteElement removes one element. Deleting an absent element is a
// no-op.
func (s *Store) DeleteElement(ctx context.Context, projectID, elementID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM canvas_elements WHERE project_id = $1 AND element_id = $2
	`, projectID, elementID)
	if err != nil {
		return fmt.Errorf("delete element: %w", err)
	}
	return nil
}

// BatchUpsertElements writes a batch of elements in one transaction.
func (s *Store) BatchUpsertElements(ctx context.Context, projectID string, els []canvas.Element) error {
	if len(els) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch upsert: %w", err)
	}
	defer tx.Rollback()

	for _, el := range els {
		id := el.ID()
		if id == "" {
			continue
		}
		doc, err := json.Marshal(el)
		if err != nil {
			return fmt.Errorf("marshal element %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO canvas_elements (project_id, element_id, doc, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (project_id, element_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
		`, projectID, id, doc); err != nil {
			return fmt.Errorf("batch upsert element %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// --- SnapshotStore ----------------------------------------------------------

// LatestSnapshot returns the project's snapshot, or storage.ErrNotFound
// when the project has never been compacted.
func (s *Store) LatestSnapshot(ctx context.Context, projectID string) (storage.Snapshot, error) {
	var (
		snap     storage.Snapshot
		elements string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, elements, snapshot_op_index, taken_at
		FROM canvas_snapshots
		WHERE project_id = $1
	`, projectID).Scan(&snap.ProjectID, &elements, &snap.SnapshotOpIndex, &snap.TakenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("query snapshot: %w", err)
	}
	snap.Elements = json.RawMessage(elements)
	return snap, nil
}

// SaveSnapshot replaces the project's snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap storage.Snapshot) error {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canvas_snapshots (project_id, elements, snapshot_op_index, taken_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id) DO UPDATE
		SET elements = EXCLUDED.elements,
		    snapshot_op_index = EXCLUDED.snapshot_op_index,
		    taken_at = EXCLUDED.taken_at
	`, snap.ProjectID, []byte(snap.Elements), snap.SnapshotOpIndex, snap.TakenAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// ProjectIDs lists every project present in the op log.
func (s *Store) ProjectIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT project_id FROM canvas_ops`); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return ids, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
