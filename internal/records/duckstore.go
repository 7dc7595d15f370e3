package records

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/pdf-batch/backend/internal/events"
	"github.com/pdf-batch/backend/internal/models"
	"github.com/rs/zerolog"
)

var schemaDDL = []string{`
CREATE TABLE IF NOT EXISTS batches (
	id          VARCHAR PRIMARY KEY,
	status      VARCHAR NOT NULL,
	total_count INTEGER NOT NULL,
	done_count  INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS work_items (
	id            VARCHAR PRIMARY KEY,
	batch_id      VARCHAR NOT NULL,
	item_order    INTEGER NOT NULL,
	file_name     VARCHAR NOT NULL,
	stored_path   VARCHAR NOT NULL,
	label         VARCHAR,
	extraction_schema VARCHAR NOT NULL,
	status        VARCHAR NOT NULL,
	duration_ms   BIGINT,
	result_path   VARCHAR,
	error_message VARCHAR,
	created_at    TIMESTAMP NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_batch ON work_items(batch_id)`,
}

const (
	batchColumns = "id, status, total_count, done_count, error_count, created_at, updated_at"
	itemColumns  = "id, batch_id, item_order, file_name, stored_path, label, extraction_schema, status, duration_ms, result_path, error_message, created_at"
)

// DuckStore stores records in DuckDB. An empty path opens an in-memory
// database.
type DuckStore struct {
	db     *sql.DB
	dbPath string
	pub    events.Publisher
	logger zerolog.Logger
}

// NewDuckStore opens (or creates) the database at dbPath and ensures the
// tables exist. pub may be nil.
func NewDuckStore(dbPath string, pub events.Publisher, logger zerolog.Logger) (*DuckStore, error) {
	logger = logger.With().Str("component", "records.duckdb").Logger()

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				logger.Warn().Err(err).Str("pragma", pragma).Msg("pragma failed")
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	for _, ddl := range schemaDDL {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	logger.Info().Str("path", displayPath(dbPath)).Msg("record store ready")
	return &DuckStore{db: db, dbPath: dbPath, pub: pub, logger: logger}, nil
}

func displayPath(p string) string {
	if p == "" {
		return ":memory:"
	}
	return p
}

// Close closes the database.
func (s *DuckStore) Close() error {
	return s.db.Close()
}

// InsertBatch stores a new batch. Missing status and timestamps are filled in.
func (s *DuckStore) InsertBatch(ctx context.Context, b *models.Batch) error {
	if b.ID == "" {
		return errors.New("batch id is required")
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	if b.Status == "" {
		b.Status = models.BatchStatusCreated
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO batches ("+batchColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		b.ID, string(b.Status), b.TotalCount, b.DoneCount, b.ErrorCount, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}

	s.publish(ctx, models.CollectionBatches, models.EventInsert, b.ID, b.ID, b)
	return nil
}

// GetBatch loads one batch.
func (s *DuckStore) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+batchColumns+" FROM batches WHERE id = ?", id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading batch: %w", err)
	}
	return b, nil
}

// UpdateBatch applies the present fields of patch and returns the new row.
func (s *DuckStore) UpdateBatch(ctx context.Context, id string, patch models.BatchPatch) (*models.Batch, error) {
	var sets []string
	var args []any
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.TotalCount != nil {
		sets = append(sets, "total_count = ?")
		args = append(args, *patch.TotalCount)
	}
	if patch.DoneCount != nil {
		sets = append(sets, "done_count = ?")
		args = append(args, *patch.DoneCount)
	}
	if patch.ErrorCount != nil {
		sets = append(sets, "error_count = ?")
		args = append(args, *patch.ErrorCount)
	}
	updatedAt := time.Now().UTC()
	if patch.UpdatedAt != nil {
		updatedAt = patch.UpdatedAt.UTC()
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, updatedAt, id)

	res, err := s.db.ExecContext(ctx, "UPDATE batches SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("updating batch: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: batch %s", ErrNotFound, id)
	}

	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, models.CollectionBatches, models.EventUpdate, b.ID, b.ID, b)
	return b, nil
}

// TransitionBatch performs a compare-and-set on the batch status.
func (s *DuckStore) TransitionBatch(ctx context.Context, id string, from, to models.BatchStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE batches SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transitioning batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transitioning batch: %w", err)
	}
	if n == 0 {
		if _, err := s.GetBatch(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	b, err := s.GetBatch(ctx, id)
	if err != nil {
		return true, err
	}
	s.publish(ctx, models.CollectionBatches, models.EventUpdate, b.ID, b.ID, b)
	return true, nil
}

// InsertWorkItems stores items in one transaction.
func (s *DuckStore) InsertWorkItems(ctx context.Context, items []models.WorkItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO work_items ("+itemColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range items {
		it := &items[i]
		if it.ID == "" || it.BatchID == "" {
			return fmt.Errorf("work item %d: id and batch id are required", i)
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		if it.Status == "" {
			it.Status = models.ItemStatusQueued
		}
		schema := string(it.Schema)
		if schema == "" {
			schema = "{}"
		}
		if _, err := stmt.ExecContext(ctx,
			it.ID, it.BatchID, it.Position, it.FileName, it.StoredPath, it.Label, schema,
			string(it.Status), nullInt64(it.DurationMs), it.ResultPath, it.ErrorMessage, it.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting work item %s: %w", it.FileName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing work items: %w", err)
	}

	for i := range items {
		s.publish(ctx, models.CollectionWorkItems, models.EventInsert, items[i].ID, items[i].BatchID, &items[i])
	}
	return nil
}

// GetWorkItem loads one work item.
func (s *DuckStore) GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM work_items WHERE id = ?", id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: work item %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading work item: %w", err)
	}
	return it, nil
}

// UpdateWorkItem applies the present fields of patch and returns the new row.
func (s *DuckStore) UpdateWorkItem(ctx context.Context, id string, patch models.WorkItemPatch) (*models.WorkItem, error) {
	if patch.Empty() {
		return s.GetWorkItem(ctx, id)
	}

	var sets []string
	var args []any
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.DurationMs != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *patch.DurationMs)
	}
	if patch.ResultPath != nil {
		sets = append(sets, "result_path = ?")
		args = append(args, *patch.ResultPath)
	}
	if patch.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *patch.ErrorMessage)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, "UPDATE work_items SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("updating work item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%w: work item %s", ErrNotFound, id)
	}

	it, err := s.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, models.CollectionWorkItems, models.EventUpdate, it.ID, it.BatchID, it)
	return it, nil
}

// ListWorkItems returns the items of a batch ordered by creation time and
// submission position.
func (s *DuckStore) ListWorkItems(ctx context.Context, batchID string) ([]models.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM work_items WHERE batch_id = ? ORDER BY created_at, item_order", batchID)
	if err != nil {
		return nil, fmt.Errorf("listing work items: %w", err)
	}
	defer rows.Close()

	items := make([]models.WorkItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning work item: %w", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing work items: %w", err)
	}
	return items, nil
}

func (s *DuckStore) publish(ctx context.Context, coll models.Collection, typ models.EventType, recordID, batchID string, record any) {
	if s.pub == nil {
		return
	}
	ev, err := models.NewEvent(coll, typ, recordID, batchID, record)
	if err != nil {
		s.logger.Warn().Err(err).Str("record_id", recordID).Msg("encoding change event")
		return
	}
	if err := s.pub.Publish(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Warn().Err(err).Str("collection", string(coll)).Str("record_id", recordID).Msg("publishing change event")
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(row scanner) (*models.Batch, error) {
	var b models.Batch
	var status string
	if err := row.Scan(&b.ID, &status, &b.TotalCount, &b.DoneCount, &b.ErrorCount, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = models.BatchStatus(status)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

func scanItem(row scanner) (*models.WorkItem, error) {
	var it models.WorkItem
	var status, schema string
	var label, resultPath, errorMessage sql.NullString
	var duration sql.NullInt64
	if err := row.Scan(&it.ID, &it.BatchID, &it.Position, &it.FileName, &it.StoredPath, &label, &schema,
		&status, &duration, &resultPath, &errorMessage, &it.CreatedAt); err != nil {
		return nil, err
	}
	it.Label = label.String
	it.Schema = json.RawMessage(schema)
	it.Status = models.ItemStatus(status)
	if duration.Valid {
		d := duration.Int64
		it.DurationMs = &d
	}
	it.ResultPath = resultPath.String
	it.ErrorMessage = errorMessage.String
	it.CreatedAt = it.CreatedAt.UTC()
	return &it, nil
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
