package store

import (
	"fmt"

	"github.com/sells-group/ddi-catalog/internal/db"
	"github.com/sells-group/ddi-catalog/internal/model"
)

// Statements shared by both dialects. They are written with ? placeholders;
// the Postgres store rewrites them with rebind.
const (
	qUpsertDistributor = `INSERT INTO distributors (name) VALUES (?)
		ON CONFLICT (name) DO UPDATE SET name = excluded.name
		RETURNING id`

	qInsertCollection    = `INSERT INTO collections (name, distributor_id) VALUES (?, ?) RETURNING id`
	qInsertSubcollection = `INSERT INTO subcollections (name, collection_id) VALUES (?, ?) RETURNING id`

	qInsertSurvey = `INSERT INTO surveys (external_ref, name, subcollection_id, language, author, producer,
		start_date, date_last_version, geographic_coverage, geographic_unit, unit_of_analysis, contact, citation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`

	surveyColumns = `id, external_ref, name, subcollection_id, language, author, producer,
		start_date, date_last_version, geographic_coverage, geographic_unit, unit_of_analysis, contact, citation`

	qSurveyByRef = `SELECT ` + surveyColumns + ` FROM surveys WHERE external_ref = ?`

	qDeleteSurveyStats    = `DELETE FROM binding_category_stats WHERE binding_id IN (SELECT id FROM bindings WHERE survey_id = ?)`
	qDeleteSurveyBindings = `DELETE FROM bindings WHERE survey_id = ?`
	qDeleteSurvey         = `DELETE FROM surveys WHERE id = ?`
	qSurveyBindingIDs     = `SELECT id FROM bindings WHERE survey_id = ? ORDER BY id`

	variableColumns = `id, conceptual_var_id, type, question_text, internal_label, is_unique, type_categories`

	qQuestionVariables = `SELECT ` + variableColumns + ` FROM represented_variables
		WHERE question_text IS NOT NULL AND question_text <> '' ORDER BY id`
	qVariableByID = `SELECT ` + variableColumns + ` FROM represented_variables WHERE id = ?`

	qInsertConceptual = `INSERT INTO conceptual_variables (internal_label, is_unique) VALUES (?, ?) RETURNING id`
	qInsertVariable   = `INSERT INTO represented_variables (conceptual_var_id, type, question_text, internal_label, is_unique, type_categories)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`

	qUpsertCategory = `INSERT INTO categories (code, label, missing) VALUES (?, ?, ?)
		ON CONFLICT (code, label) DO UPDATE SET code = excluded.code
		RETURNING id, missing`
	qSetCategoryMissing = `UPDATE categories SET missing = ? WHERE id = ?`

	bindingColumns = `id, survey_id, variable_id, variable_name, universe, notes, is_indexed`

	qBindingByName = `SELECT ` + bindingColumns + ` FROM bindings WHERE survey_id = ? AND variable_name = ?`
	qInsertBinding = `INSERT INTO bindings (survey_id, variable_id, variable_name, universe, notes, is_indexed)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`
	qUpdateBinding = `UPDATE bindings SET variable_id = ?, universe = ?, notes = ?, is_indexed = ? WHERE id = ?`

	qCategoryStats = `SELECT binding_id, category_id, stat FROM binding_category_stats WHERE binding_id = ? ORDER BY category_id`

	qUnindexed = `SELECT id FROM bindings WHERE is_indexed = ? ORDER BY id`

	qSweepVariableLinks = `DELETE FROM represented_variable_categories WHERE variable_id IN (
		SELECT rv.id FROM represented_variables rv
		WHERE NOT EXISTS (SELECT 1 FROM bindings b WHERE b.variable_id = rv.id))`
	qSweepVariables = `DELETE FROM represented_variables
		WHERE NOT EXISTS (SELECT 1 FROM bindings b WHERE b.variable_id = represented_variables.id)`
	qSweepConceptuals = `DELETE FROM conceptual_variables
		WHERE NOT EXISTS (SELECT 1 FROM represented_variables rv WHERE rv.conceptual_var_id = conceptual_variables.id)`
	qSweepCategories = `DELETE FROM categories
		WHERE NOT EXISTS (SELECT 1 FROM represented_variable_categories l WHERE l.category_id = categories.id)
		AND NOT EXISTS (SELECT 1 FROM binding_category_stats s WHERE s.category_id = categories.id)`

	qCounts = `SELECT
		(SELECT COUNT(*) FROM surveys),
		(SELECT COUNT(*) FROM conceptual_variables),
		(SELECT COUNT(*) FROM represented_variables),
		(SELECT COUNT(*) FROM categories),
		(SELECT COUNT(*) FROM bindings),
		(SELECT COUNT(*) FROM bindings WHERE is_indexed = ?)`

	qInsertImportRun   = `INSERT INTO import_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`
	qCompleteImportRun = `UPDATE import_runs SET status = ?, result = ?, error = ?, completed_at = ? WHERE id = ?`
	qListImportRuns    = `SELECT id, source, status, result, error, started_at, completed_at
		FROM import_runs ORDER BY started_at DESC LIMIT ?`
)

// resetTables lists every catalog table in delete order. import_runs is kept.
var resetTables = []string{
	"binding_category_stats",
	"bindings",
	"represented_variable_categories",
	"represented_variables",
	"conceptual_variables",
	"categories",
	"surveys",
	"subcollections",
	"collections",
	"distributors",
}

var (
	variableCategoryLinks = db.UpsertConfig{
		Table:        "represented_variable_categories",
		Columns:      []string{"variable_id", "category_id"},
		ConflictKeys: []string{"variable_id", "category_id"},
		DoNothing:    true,
	}

	categoryStats = db.UpsertConfig{
		Table:        "binding_category_stats",
		Columns:      []string{"binding_id", "category_id", "stat"},
		ConflictKeys: []string{"binding_id", "category_id"},
	}
)

func qCollectionLookup(ph db.Placeholder) string {
	if ph == db.Question {
		return `SELECT id, name, distributor_id, abstract FROM collections WHERE name = ? AND distributor_id IS ?`
	}
	return `SELECT id, name, distributor_id, abstract FROM collections WHERE name = $1 AND distributor_id IS NOT DISTINCT FROM $2`
}

func qSubcollectionLookup(ph db.Placeholder) string {
	if ph == db.Question {
		return `SELECT id, name, collection_id FROM subcollections WHERE name = ? AND collection_id IS ?`
	}
	return `SELECT id, name, collection_id FROM subcollections WHERE name = $1 AND collection_id IS NOT DISTINCT FROM $2`
}

func qSurveysByRef(ph db.Placeholder, n int) string {
	return fmt.Sprintf(`SELECT %s FROM surveys WHERE external_ref IN (%s)`, surveyColumns, db.Placeholders(ph, 1, n))
}

func qVariableCategories(ph db.Placeholder, n int) string {
	return fmt.Sprintf(`SELECT l.variable_id, c.id, c.code, c.label, c.missing
		FROM represented_variable_categories l
		JOIN categories c ON c.id = l.category_id
		WHERE l.variable_id IN (%s)
		ORDER BY l.variable_id, c.id`, db.Placeholders(ph, 1, n))
}

func qMarkIndexed(ph db.Placeholder, n int) string {
	return fmt.Sprintf(`UPDATE bindings SET is_indexed = %s WHERE id IN (%s)`,
		db.Placeholders(ph, 1, 1), db.Placeholders(ph, 2, n))
}

func qExistingBindings(ph db.Placeholder, n int) string {
	return fmt.Sprintf(`SELECT id FROM bindings WHERE id IN (%s)`, db.Placeholders(ph, 1, n))
}

func qBindingViews(ph db.Placeholder, n int) string {
	return fmt.Sprintf(`SELECT b.id, b.survey_id, b.variable_id, b.variable_name, b.universe, b.notes, b.is_indexed,
		s.id, s.external_ref, s.name, s.subcollection_id, s.start_date, sc.collection_id,
		rv.id, rv.conceptual_var_id, rv.type, rv.question_text, rv.internal_label, rv.is_unique, rv.type_categories
		FROM bindings b
		JOIN surveys s ON s.id = b.survey_id
		LEFT JOIN subcollections sc ON sc.id = s.subcollection_id
		JOIN represented_variables rv ON rv.id = b.variable_id
		WHERE b.id IN (%s)
		ORDER BY b.id`, db.Placeholders(ph, 1, n))
}

func qBoundVariableNames(ph db.Placeholder, n int) string {
	return fmt.Sprintf(`SELECT b.variable_name FROM bindings b
		JOIN surveys s ON s.id = b.survey_id
		WHERE s.external_ref = %s AND b.variable_name IN (%s)`,
		db.Placeholders(ph, 1, 1), db.Placeholders(ph, 2, n))
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func stringArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

func linkArgs(variableID int64, cats []int64) []any {
	args := make([]any, 0, 2*len(cats))
	for _, id := range cats {
		args = append(args, variableID, id)
	}
	return args
}

func statArgs(stats []model.CategoryStat) []any {
	args := make([]any, 0, 3*len(stats))
	for _, s := range stats {
		args = append(args, s.BindingID, s.CategoryID, s.Stat)
	}
	return args
}

// orderedNames filters names to those present in found, keeping the input
// order and dropping duplicates.
func orderedNames(names []string, found map[string]bool) []string {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if found[n] && !seen[n] {
			out = append(out, n)
			seen[n] = true
		}
	}
	return out
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
