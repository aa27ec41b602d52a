package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const tagColumns = `id, name, color, category, alert_enabled, alert_message, alert_cooldown,
       block_enabled, block_start, block_end, created_at`

func scanTag(row interface{ Scan(...any) error }) (Tag, error) {
	var (
		t         Tag
		createdAt string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Color, &t.Category,
		&t.AlertEnabled, &t.AlertMessage, &t.AlertCooldown,
		&t.BlockEnabled, &t.BlockStart, &t.BlockEnd, &createdAt)
	if err != nil {
		return Tag{}, err
	}
	if ts, err := parseTime(createdAt); err == nil {
		t.CreatedAt = ts
	}
	return t, nil
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []Tag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetTag returns one tag by id.
func (s *Store) GetTag(ctx context.Context, id int64) (Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Tag{}, fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Tag{}, fmt.Errorf("getting tag %d: %w", id, err)
	}
	return t, nil
}

// GetTagByName returns one tag by its unique name.
func (s *Store) GetTagByName(ctx context.Context, name string) (Tag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Tag{}, fmt.Errorf("tag %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Tag{}, fmt.Errorf("getting tag %q: %w", name, err)
	}
	return t, nil
}

// CreateTag inserts a tag and returns its id.
func (s *Store) CreateTag(ctx context.Context, t Tag) (int64, error) {
	if t.Color == "" {
		t.Color = "#808080"
	}
	if t.Category == "" {
		t.Category = "other"
	}
	if t.AlertCooldown < 1 {
		t.AlertCooldown = 60
	}
	res, err := s.execRetry(ctx,
		`INSERT INTO tags (name, color, category, alert_enabled, alert_message, alert_cooldown,
                           block_enabled, block_start, block_end)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Color, t.Category, t.AlertEnabled, t.AlertMessage, t.AlertCooldown,
		t.BlockEnabled, t.BlockStart, t.BlockEnd)
	if err != nil {
		return 0, fmt.Errorf("creating tag %q: %w", t.Name, err)
	}
	return res.LastInsertId()
}

// UpdateTag rewrites every mutable field of a tag.
func (s *Store) UpdateTag(ctx context.Context, t Tag) error {
	res, err := s.execRetry(ctx,
		`UPDATE tags SET name = ?, color = ?, category = ?, alert_enabled = ?, alert_message = ?,
                alert_cooldown = ?, block_enabled = ?, block_start = ?, block_end = ?
         WHERE id = ?`,
		t.Name, t.Color, t.Category, t.AlertEnabled, t.AlertMessage, max(1, t.AlertCooldown),
		t.BlockEnabled, t.BlockStart, t.BlockEnd, t.ID)
	if err != nil {
		return fmt.Errorf("updating tag %d: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("tag %d: %w", t.ID, ErrNotFound)
	}
	return nil
}

// UpdateTagBlock rewrites only the block configuration of a tag.
func (s *Store) UpdateTagBlock(ctx context.Context, id int64, enabled bool, start, end string) error {
	res, err := s.execRetry(ctx,
		`UPDATE tags SET block_enabled = ?, block_start = ?, block_end = ? WHERE id = ?`,
		enabled, start, end, id)
	if err != nil {
		return fmt.Errorf("updating block config of tag %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	return nil
}

// ClearAllBlocks removes the block flag from every tag. Returns the number
// of tags that had the flag set.
func (s *Store) ClearAllBlocks(ctx context.Context) (int, error) {
	res, err := s.execRetry(ctx, `UPDATE tags SET block_enabled = 0 WHERE block_enabled = 1`)
	if err != nil {
		return 0, fmt.Errorf("clearing block flags: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DeleteTag removes a tag. Rules targeting it cascade away; historical
// activities keep their rows with tag_id set to NULL.
func (s *Store) DeleteTag(ctx context.Context, id int64) error {
	res, err := s.execRetry(ctx, `DELETE FROM tags WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting tag %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	return nil
}

// EnsureTag returns the named tag, creating it with the given defaults when
// missing. The rule engine uses this to self-heal the reserved tags.
func (s *Store) EnsureTag(ctx context.Context, name, color, category string) (Tag, error) {
	t, err := s.GetTagByName(ctx, name)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Tag{}, err
	}
	if _, err := s.CreateTag(ctx, Tag{Name: name, Color: color, Category: category}); err != nil {
		// A concurrent creator can win the race; re-read before failing.
		if existing, lookupErr := s.GetTagByName(ctx, name); lookupErr == nil {
			return existing, nil
		}
		return Tag{}, err
	}
	return s.GetTagByName(ctx, name)
}
