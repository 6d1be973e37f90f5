package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

// ListRules returns every keyword rule, enabled or not. The rule reloader
// filters on Enabled when compiling its index; returning the full set keeps
// the change-detection hash stable across enable/disable flips.
func (s *Store) ListRules(ctx context.Context) ([]types.KeywordRule, error) {
	const q = `
		SELECT rule_id, rule_set, keyword, match_type, fuzzy_threshold,
		       severity, category, language, enabled
		FROM   keyword_rules
		ORDER  BY rule_id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.KeywordRule, error) {
		var r types.KeywordRule
		err := row.Scan(
			&r.RuleID, &r.RuleSet, &r.Keyword, &r.MatchType, &r.FuzzyThreshold,
			&r.Severity, &r.Category, &r.Language, &r.Enabled,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	return rules, nil
}

// UpsertRule inserts or updates one keyword rule.
func (s *Store) UpsertRule(ctx context.Context, r types.KeywordRule) error {
	const q = `
		INSERT INTO keyword_rules
		    (rule_id, rule_set, keyword, match_type, fuzzy_threshold,
		     severity, category, language, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (rule_id) DO UPDATE SET
		    rule_set        = EXCLUDED.rule_set,
		    keyword         = EXCLUDED.keyword,
		    match_type      = EXCLUDED.match_type,
		    fuzzy_threshold = EXCLUDED.fuzzy_threshold,
		    severity        = EXCLUDED.severity,
		    category        = EXCLUDED.category,
		    language        = EXCLUDED.language,
		    enabled         = EXCLUDED.enabled,
		    updated_at      = now()`

	_, err := s.pool.Exec(ctx, q,
		r.RuleID, r.RuleSet, r.Keyword, r.MatchType, r.FuzzyThreshold,
		r.Severity, r.Category, r.Language, r.Enabled,
	)
	if err != nil {
		return fmt.Errorf("store: upsert rule: %w", err)
	}
	return nil
}

// DeleteRule removes one keyword rule.
func (s *Store) DeleteRule(ctx context.Context, ruleID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM keyword_rules WHERE rule_id = $1`, ruleID,
	); err != nil {
		return fmt.Errorf("store: delete rule: %w", err)
	}
	return nil
}
