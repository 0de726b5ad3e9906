package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

// detectionStore implements driven.DetectionStore.
type detectionStore struct {
	store *Store
}

var _ driven.DetectionStore = (*detectionStore)(nil)

const recordColumns = "image_id, user_id, ts_nanos, image_storage_ref, objects, version"

// Put upserts a record and queues its index job in one transaction.
func (s *detectionStore) Put(ctx context.Context, record *domain.DetectionRecord, opts domain.PutOptions) (int64, error) {
	if err := record.Validate(); err != nil {
		return 0, err
	}

	objectsJSON, err := json.Marshal(objectsOrEmpty(record.Objects))
	if err != nil {
		return 0, fmt.Errorf("marshalling objects: %w", err)
	}

	var version int64
	err = s.store.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanRecord(tx.QueryRowContext(ctx,
			"SELECT "+recordColumns+" FROM detection_records WHERE image_id = ?", record.ImageID))
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		var current int64
		if existing != nil {
			current = existing.Version
		}
		if opts.ExpectedVersion > 0 && opts.ExpectedVersion != current {
			return domain.ErrConflict
		}
		if existing != nil && existing.SameContent(record) {
			version = current
			return nil
		}

		version = current + 1
		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO detection_records (image_id, user_id, ts_nanos, image_storage_ref, objects, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(image_id) DO UPDATE SET
				user_id = excluded.user_id,
				ts_nanos = excluded.ts_nanos,
				image_storage_ref = excluded.image_storage_ref,
				objects = excluded.objects,
				version = excluded.version,
				updated_at = excluded.updated_at
		`, record.ImageID, record.UserID, record.Timestamp.UTC().UnixNano(),
			record.ImageStorageRef, string(objectsJSON), version, now.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("saving detection record: %w", classify(err))
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM tombstones WHERE image_id = ?", record.ImageID); err != nil {
			return fmt.Errorf("clearing tombstone: %w", classify(err))
		}

		return upsertJob(ctx, tx, domain.IndexJob{
			ImageID: record.ImageID,
			UserID:  record.UserID,
			Kind:    domain.IndexJobIndex,
			Version: version,
		}, now)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Get retrieves a record by image ID.
func (s *detectionStore) Get(ctx context.Context, imageID string) (*domain.DetectionRecord, error) {
	rec, err := scanRecord(s.store.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM detection_records WHERE image_id = ?", imageID))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByUser returns a user's records newest first, continuing after cursor.
func (s *detectionStore) ListByUser(
	ctx context.Context, userID string, cursor domain.Cursor, limit int,
) ([]domain.DetectionRecord, error) {
	query := "SELECT " + recordColumns + " FROM detection_records WHERE user_id = ?"
	args := []any{userID}
	if !cursor.IsZero() {
		query += " AND (ts_nanos < ? OR (ts_nanos = ? AND image_id < ?))"
		args = append(args, cursor.Timestamp, cursor.Timestamp, cursor.ImageID)
	}
	query += " ORDER BY ts_nanos DESC, image_id DESC LIMIT ?"
	args = append(args, sqlLimit(limit))

	return s.queryRecords(ctx, query, args...)
}

// Delete removes a record and any queued index job for it.
func (s *detectionStore) Delete(ctx context.Context, imageID string) error {
	return s.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM detection_records WHERE image_id = ?", imageID)
		if err != nil {
			return fmt.Errorf("deleting detection record: %w", classify(err))
		}
		if n, _ := res.RowsAffected(); n > 0 { //nolint:errcheck // sqlite always reports rows affected
			_, err = tx.ExecContext(ctx, `
				INSERT INTO tombstones (image_id, deleted_at) VALUES (?, ?)
				ON CONFLICT(image_id) DO UPDATE SET deleted_at = excluded.deleted_at
			`, imageID, time.Now().UTC().Format(time.RFC3339Nano))
			if err != nil {
				return fmt.Errorf("writing tombstone: %w", classify(err))
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM index_jobs WHERE image_id = ?", imageID); err != nil {
			return fmt.Errorf("dropping index job: %w", classify(err))
		}
		return nil
	})
}

// Tombstoned reports whether the image was explicitly deleted.
func (s *detectionStore) Tombstoned(ctx context.Context, imageID string) (bool, error) {
	var one int
	err := s.store.db.QueryRowContext(ctx, "SELECT 1 FROM tombstones WHERE image_id = ?", imageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading tombstone: %w", classify(err))
	}
	return true, nil
}

// Scan iterates every record in image ID order.
func (s *detectionStore) Scan(ctx context.Context, afterImageID string, limit int) ([]domain.DetectionRecord, error) {
	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM detection_records WHERE image_id > ? ORDER BY image_id LIMIT ?",
		afterImageID, sqlLimit(limit))
}

func (s *detectionStore) queryRecords(ctx context.Context, query string, args ...any) ([]domain.DetectionRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying detection records: %w", classify(err))
	}
	defer rows.Close()

	records := []domain.DetectionRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating detection records: %w", classify(err))
	}
	return records, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a detection record row.
func scanRecord(row rowScanner) (*domain.DetectionRecord, error) {
	var rec domain.DetectionRecord
	var tsNanos int64
	var objectsJSON string

	if err := row.Scan(&rec.ImageID, &rec.UserID, &tsNanos,
		&rec.ImageStorageRef, &objectsJSON, &rec.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning detection record: %w", classify(err))
	}

	rec.Timestamp = fromNanos(tsNanos)
	if err := json.Unmarshal([]byte(objectsJSON), &rec.Objects); err != nil {
		return nil, fmt.Errorf("unmarshaling objects: %w", err)
	}
	rec.Objects = objectsOrEmpty(rec.Objects)

	return &rec, nil
}

// objectsOrEmpty keeps a record with no detections as [] rather than null.
func objectsOrEmpty(objects []domain.DetectedObject) []domain.DetectedObject {
	if objects == nil {
		return []domain.DetectedObject{}
	}
	return objects
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
