package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
	"github.com/custodia-labs/detectsearch/internal/core/ports/driven"
)

// labelIndex implements driven.LabelIndex over the label_index and
// indexed_records tables.
type labelIndex struct {
	store *Store
}

var _ driven.LabelIndex = (*labelIndex)(nil)

// Index projects every distinct label of the record into the index.
func (x *labelIndex) Index(ctx context.Context, record *domain.DetectionRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	labels := record.Labels()
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("marshalling labels: %w", err)
	}
	ts := record.Timestamp.UTC().UnixNano()

	return x.store.withTx(ctx, func(tx *sql.Tx) error {
		var indexed int64
		err := tx.QueryRowContext(ctx,
			"SELECT version FROM indexed_records WHERE image_id = ?", record.ImageID).Scan(&indexed)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("reading indexed version: %w", classify(err))
		case record.Version > 0 && indexed >= record.Version:
			return nil
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM label_index WHERE image_id = ?", record.ImageID); err != nil {
			return fmt.Errorf("clearing postings: %w", classify(err))
		}
		for _, label := range labels {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO label_index (user_id, label, image_id, ts_nanos) VALUES (?, ?, ?, ?)
			`, record.UserID, label, record.ImageID, ts)
			if err != nil {
				return fmt.Errorf("inserting posting: %w", classify(err))
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO indexed_records (image_id, user_id, version, ts_nanos, labels)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(image_id) DO UPDATE SET
				user_id = excluded.user_id,
				version = excluded.version,
				ts_nanos = excluded.ts_nanos,
				labels = excluded.labels
		`, record.ImageID, record.UserID, record.Version, ts, string(labelsJSON))
		if err != nil {
			return fmt.Errorf("saving indexed record: %w", classify(err))
		}
		return nil
	})
}

// Unindex removes every entry for the image.
func (x *labelIndex) Unindex(ctx context.Context, imageID, _ string) error {
	return x.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM label_index WHERE image_id = ?", imageID); err != nil {
			return fmt.Errorf("deleting postings: %w", classify(err))
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM indexed_records WHERE image_id = ?", imageID); err != nil {
			return fmt.Errorf("deleting indexed record: %w", classify(err))
		}
		return nil
	})
}

// Search returns hits for an exact normalised label, newest first.
func (x *labelIndex) Search(
	ctx context.Context, userID, label string, cursor domain.Cursor, limit int,
) ([]domain.LabelHit, error) {
	key := domain.NormalizeLabel(label)
	query := "SELECT image_id, ts_nanos FROM label_index WHERE user_id = ? AND label = ?"
	args := []any{userID, key}
	if !cursor.IsZero() {
		query += " AND (ts_nanos < ? OR (ts_nanos = ? AND image_id < ?))"
		args = append(args, cursor.Timestamp, cursor.Timestamp, cursor.ImageID)
	}
	query += " ORDER BY ts_nanos DESC, image_id DESC LIMIT ?"
	args = append(args, sqlLimit(limit))

	rows, err := x.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying label index: %w", classify(err))
	}
	defer rows.Close()

	hits := []domain.LabelHit{}
	for rows.Next() {
		hit := domain.LabelHit{UserID: userID, Label: key}
		if err := rows.Scan(&hit.ImageID, &hit.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning label hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating label hits: %w", classify(err))
	}
	return hits, nil
}

// IndexedVersion returns the record version currently projected for an image.
func (x *labelIndex) IndexedVersion(ctx context.Context, imageID string) (int64, error) {
	var version int64
	err := x.store.db.QueryRowContext(ctx,
		"SELECT version FROM indexed_records WHERE image_id = ?", imageID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading indexed version: %w", classify(err))
	}
	return version, nil
}

// Labels returns the sorted labels indexed for an image.
func (x *labelIndex) Labels(ctx context.Context, imageID string) ([]string, error) {
	var labelsJSON string
	err := x.store.db.QueryRowContext(ctx,
		"SELECT labels FROM indexed_records WHERE image_id = ?", imageID).Scan(&labelsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading indexed labels: %w", classify(err))
	}

	var labels []string
	if err := json.Unmarshal([]byte(labelsJSON), &labels); err != nil {
		return nil, fmt.Errorf("unmarshaling labels: %w", err)
	}
	return labels, nil
}

// ScanImages iterates indexed image IDs in order.
func (x *labelIndex) ScanImages(ctx context.Context, afterImageID string, limit int) ([]driven.IndexedImage, error) {
	rows, err := x.store.db.QueryContext(ctx, `
		SELECT image_id, user_id, version FROM indexed_records
		WHERE image_id > ? ORDER BY image_id LIMIT ?
	`, afterImageID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying indexed records: %w", classify(err))
	}
	defer rows.Close()

	images := []driven.IndexedImage{}
	for rows.Next() {
		var img driven.IndexedImage
		if err := rows.Scan(&img.ImageID, &img.UserID, &img.Version); err != nil {
			return nil, fmt.Errorf("scanning indexed record: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating indexed records: %w", classify(err))
	}
	return images, nil
}
