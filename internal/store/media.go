package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateMediaAsset records a stored media file and returns its id.
func (s *Store) CreateMediaAsset(ctx context.Context, kind, name, filename string) (int64, error) {
	if kind != MediaSound && kind != MediaImage {
		return 0, fmt.Errorf("invalid media kind %q", kind)
	}
	res, err := s.execRetry(ctx,
		`INSERT INTO media_assets (kind, name, filename) VALUES (?, ?, ?)`,
		kind, name, filename)
	if err != nil {
		return 0, fmt.Errorf("creating %s asset %q: %w", kind, name, err)
	}
	return res.LastInsertId()
}

// GetMediaAsset returns one asset by id.
func (s *Store) GetMediaAsset(ctx context.Context, id int64) (MediaAsset, error) {
	var (
		a         MediaAsset
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, name, filename, created_at FROM media_assets WHERE id = ?`, id).
		Scan(&a.ID, &a.Kind, &a.Name, &a.Filename, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return MediaAsset{}, fmt.Errorf("media asset %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return MediaAsset{}, fmt.Errorf("getting media asset %d: %w", id, err)
	}
	if ts, err := parseTime(createdAt); err == nil {
		a.CreatedAt = ts
	}
	return a, nil
}

// ListMediaAssets returns the assets of one kind, newest first.
func (s *Store) ListMediaAssets(ctx context.Context, kind string) ([]MediaAsset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, filename, created_at FROM media_assets
         WHERE kind = ? ORDER BY id DESC`, kind)
	if err != nil {
		return nil, fmt.Errorf("listing %s assets: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var assets []MediaAsset
	for rows.Next() {
		var (
			a         MediaAsset
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Kind, &a.Name, &a.Filename, &createdAt); err != nil {
			return nil, err
		}
		if ts, err := parseTime(createdAt); err == nil {
			a.CreatedAt = ts
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// DeleteMediaAsset removes the row and returns the stored filename so the
// caller can unlink the file.
func (s *Store) DeleteMediaAsset(ctx context.Context, id int64) (string, error) {
	asset, err := s.GetMediaAsset(ctx, id)
	if err != nil {
		return "", err
	}
	if _, err := s.execRetry(ctx, `DELETE FROM media_assets WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("deleting media asset %d: %w", id, err)
	}
	return asset.Filename, nil
}
