package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const ruleColumns = `id, name, priority, enabled, tag_id,
       COALESCE(process_pattern, ''), COALESCE(url_pattern, ''), COALESCE(title_pattern, ''),
       COALESCE(browser_profile, ''), COALESCE(process_path_pattern, ''), created_at`

func scanRule(row interface{ Scan(...any) error }) (Rule, error) {
	var (
		r         Rule
		createdAt string
	)
	err := row.Scan(&r.ID, &r.Name, &r.Priority, &r.Enabled, &r.TagID,
		&r.ProcessPattern, &r.URLPattern, &r.TitlePattern,
		&r.BrowserProfile, &r.ProcessPathPattern, &createdAt)
	if err != nil {
		return Rule{}, err
	}
	if ts, err := parseTime(createdAt); err == nil {
		r.CreatedAt = ts
	}
	return r, nil
}

// ListRules returns rules ordered priority-descending with insertion order
// breaking ties, which is the evaluation order the rule engine requires.
func (s *Store) ListRules(ctx context.Context, enabledOnly bool) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY priority DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetRule returns one rule by id.
func (s *Store) GetRule(ctx context.Context, id int64) (Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Rule{}, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Rule{}, fmt.Errorf("getting rule %d: %w", id, err)
	}
	return r, nil
}

// CreateRule inserts a rule and returns its id. The target tag must exist.
func (s *Store) CreateRule(ctx context.Context, r Rule) (int64, error) {
	res, err := s.execRetry(ctx,
		`INSERT INTO rules (name, priority, enabled, tag_id, process_pattern, url_pattern,
                            title_pattern, browser_profile, process_path_pattern)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Priority, r.Enabled, r.TagID,
		nullIfEmpty(r.ProcessPattern), nullIfEmpty(r.URLPattern), nullIfEmpty(r.TitlePattern),
		nullIfEmpty(r.BrowserProfile), nullIfEmpty(r.ProcessPathPattern))
	if err != nil {
		return 0, fmt.Errorf("creating rule %q: %w", r.Name, err)
	}
	return res.LastInsertId()
}

// UpdateRule rewrites every mutable field of a rule.
func (s *Store) UpdateRule(ctx context.Context, r Rule) error {
	res, err := s.execRetry(ctx,
		`UPDATE rules SET name = ?, priority = ?, enabled = ?, tag_id = ?, process_pattern = ?,
                url_pattern = ?, title_pattern = ?, browser_profile = ?, process_path_pattern = ?
         WHERE id = ?`,
		r.Name, r.Priority, r.Enabled, r.TagID,
		nullIfEmpty(r.ProcessPattern), nullIfEmpty(r.URLPattern), nullIfEmpty(r.TitlePattern),
		nullIfEmpty(r.BrowserProfile), nullIfEmpty(r.ProcessPathPattern), r.ID)
	if err != nil {
		return fmt.Errorf("updating rule %d: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", r.ID, ErrNotFound)
	}
	return nil
}

// DeleteRule removes a rule. Historical activities keep their rows with
// rule_id set to NULL.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	res, err := s.execRetry(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting rule %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteRulesExcept removes every rule whose name is not in keep. Rules
// import uses it in replace mode to preserve the seeded sentinel rules.
func (s *Store) DeleteRulesExcept(ctx context.Context, keep []string) (int, error) {
	if len(keep) == 0 {
		res, err := s.execRetry(ctx, `DELETE FROM rules`)
		if err != nil {
			return 0, fmt.Errorf("deleting rules: %w", err)
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	placeholders := strings.Repeat("?,", len(keep))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(keep))
	for i, name := range keep {
		args[i] = name
	}
	res, err := s.execRetry(ctx, `DELETE FROM rules WHERE name NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting rules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
