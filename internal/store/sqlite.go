package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ddi-catalog/internal/db"
	"github.com/sells-group/ddi-catalog/internal/model"
)

const dateLayout = "2006-01-02"

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	*sqliteCatalog
	db *sql.DB
}

// sqliteCatalog implements Catalog on top of a database or a transaction.
type sqliteCatalog struct {
	q sqlQuerier
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, sqliteCatalog: &sqliteCatalog{q: db}}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS distributors (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS collections (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL,
	distributor_id INTEGER REFERENCES distributors(id),
	abstract       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS subcollections (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	collection_id INTEGER REFERENCES collections(id)
);

CREATE TABLE IF NOT EXISTS surveys (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	external_ref        TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL,
	subcollection_id    INTEGER REFERENCES subcollections(id),
	language            TEXT NOT NULL DEFAULT '',
	author              TEXT NOT NULL DEFAULT '',
	producer            TEXT NOT NULL DEFAULT '',
	start_date          TEXT,
	date_last_version   TEXT,
	geographic_coverage TEXT NOT NULL DEFAULT '',
	geographic_unit     TEXT NOT NULL DEFAULT '',
	unit_of_analysis    TEXT NOT NULL DEFAULT '',
	contact             TEXT NOT NULL DEFAULT '',
	citation            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conceptual_variables (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	internal_label TEXT NOT NULL DEFAULT '',
	is_unique      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS categories (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	code    TEXT NOT NULL,
	label   TEXT NOT NULL,
	missing INTEGER NOT NULL DEFAULT 0,
	UNIQUE (code, label)
);

CREATE TABLE IF NOT EXISTS represented_variables (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	conceptual_var_id INTEGER NOT NULL REFERENCES conceptual_variables(id),
	type              TEXT NOT NULL DEFAULT 'question',
	question_text     TEXT,
	internal_label    TEXT NOT NULL DEFAULT '',
	is_unique         INTEGER NOT NULL DEFAULT 0,
	type_categories   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS represented_variable_categories (
	variable_id INTEGER NOT NULL REFERENCES represented_variables(id),
	category_id INTEGER NOT NULL REFERENCES categories(id),
	PRIMARY KEY (variable_id, category_id)
);

CREATE TABLE IF NOT EXISTS bindings (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	survey_id     INTEGER NOT NULL REFERENCES surveys(id),
	variable_id   INTEGER NOT NULL REFERENCES represented_variables(id),
	variable_name TEXT NOT NULL,
	universe      TEXT NOT NULL DEFAULT '',
	notes         TEXT NOT NULL DEFAULT '',
	is_indexed    INTEGER NOT NULL DEFAULT 0,
	UNIQUE (survey_id, variable_name)
);

CREATE TABLE IF NOT EXISTS binding_category_stats (
	binding_id  INTEGER NOT NULL REFERENCES bindings(id),
	category_id INTEGER NOT NULL REFERENCES categories(id),
	stat        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (binding_id, category_id)
);

CREATE TABLE IF NOT EXISTS import_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	result       TEXT,
	error        TEXT,
	started_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_rv_conceptual ON represented_variables(conceptual_var_id);
CREATE INDEX IF NOT EXISTS idx_rvc_category ON represented_variable_categories(category_id);
CREATE INDEX IF NOT EXISTS idx_bindings_variable ON bindings(variable_id);
CREATE INDEX IF NOT EXISTS idx_bindings_indexed ON bindings(is_indexed);
CREATE INDEX IF NOT EXISTS idx_stats_category ON binding_category_stats(category_id);
CREATE INDEX IF NOT EXISTS idx_import_runs_started ON import_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InTx runs fn in a SQLite transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Catalog) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&sqliteCatalog{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Hierarchy and surveys ---

func (c *sqliteCatalog) GetOrCreateDistributor(ctx context.Context, name string) (*model.Distributor, error) {
	d := &model.Distributor{Name: name}
	if err := c.q.QueryRowContext(ctx, qUpsertDistributor, name).Scan(&d.ID); err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert distributor %q", name)
	}
	return d, nil
}

func (c *sqliteCatalog) GetOrCreateCollection(ctx context.Context, name string, distributorID *int64) (*model.Collection, error) {
	col := &model.Collection{}
	err := c.q.QueryRowContext(ctx, qCollectionLookup(db.Question), name, nullInt64(distributorID)).
		Scan(&col.ID, &col.Name, &col.DistributorID, &col.Abstract)
	if err == nil {
		return col, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(err, "sqlite: get collection %q", name)
	}

	col = &model.Collection{Name: name, DistributorID: distributorID}
	if err := c.q.QueryRowContext(ctx, qInsertCollection, name, nullInt64(distributorID)).Scan(&col.ID); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert collection %q", name)
	}
	return col, nil
}

func (c *sqliteCatalog) GetOrCreateSubcollection(ctx context.Context, name string, collectionID *int64) (*model.Subcollection, error) {
	sc := &model.Subcollection{}
	err := c.q.QueryRowContext(ctx, qSubcollectionLookup(db.Question), name, nullInt64(collectionID)).
		Scan(&sc.ID, &sc.Name, &sc.CollectionID)
	if err == nil {
		return sc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(err, "sqlite: get subcollection %q", name)
	}

	sc = &model.Subcollection{Name: name, CollectionID: collectionID}
	if err := c.q.QueryRowContext(ctx, qInsertSubcollection, name, nullInt64(collectionID)).Scan(&sc.ID); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert subcollection %q", name)
	}
	return sc, nil
}

func (c *sqliteCatalog) CreateSurvey(ctx context.Context, s *model.Survey) error {
	err := c.q.QueryRowContext(ctx, qInsertSurvey,
		s.ExternalRef, s.Name, nullInt64(s.SubcollectionID), s.Language, s.Author, s.Producer,
		dateArg(s.StartDate), dateArg(s.DateLastVersion),
		s.GeographicCoverage, s.GeographicUnit, s.UnitOfAnalysis, s.Contact, s.Citation,
	).Scan(&s.ID)
	return eris.Wrapf(err, "sqlite: insert survey %s", s.ExternalRef)
}

func (c *sqliteCatalog) GetSurveyByRef(ctx context.Context, ref string) (*model.Survey, error) {
	s, err := scanSQLiteSurvey(c.q.QueryRowContext(ctx, qSurveyByRef, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: survey %s", ref)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get survey %s", ref)
	}
	return s, nil
}

func (c *sqliteCatalog) SurveysByRef(ctx context.Context, refs []string) (map[string]*model.Survey, error) {
	out := make(map[string]*model.Survey, len(refs))
	for len(refs) > 0 {
		n := min(len(refs), inChunk)
		batch := refs[:n]
		refs = refs[n:]

		rows, err := c.q.QueryContext(ctx, qSurveysByRef(db.Question, len(batch)), stringArgs(batch)...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: surveys by ref")
		}
		for rows.Next() {
			s, err := scanSQLiteSurvey(rows)
			if err != nil {
				rows.Close() //nolint:errcheck
				return nil, eris.Wrap(err, "sqlite: scan survey")
			}
			out[s.ExternalRef] = s
		}
		err = rows.Err()
		rows.Close() //nolint:errcheck
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: iterate surveys")
		}
	}
	return out, nil
}

func (c *sqliteCatalog) DeleteSurvey(ctx context.Context, id int64) ([]int64, error) {
	ids, err := c.queryIDs(ctx, qSurveyBindingIDs, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: bindings of survey %d", id)
	}
	if _, err := c.q.ExecContext(ctx, qDeleteSurveyStats, id); err != nil {
		return nil, eris.Wrapf(err, "sqlite: delete stats of survey %d", id)
	}
	if _, err := c.q.ExecContext(ctx, qDeleteSurveyBindings, id); err != nil {
		return nil, eris.Wrapf(err, "sqlite: delete bindings of survey %d", id)
	}
	res, err := c.q.ExecContext(ctx, qDeleteSurvey, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: delete survey %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: survey %d", id)
	}
	return ids, nil
}

// --- Variables ---

func (c *sqliteCatalog) ListQuestionVariables(ctx context.Context) ([]*model.RepresentedVariable, error) {
	rows, err := c.q.QueryContext(ctx, qQuestionVariables)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list question variables")
	}
	var vars []*model.RepresentedVariable
	for rows.Next() {
		v, err := scanSQLiteVariable(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan variable")
		}
		vars = append(vars, v)
	}
	err = rows.Err()
	rows.Close() //nolint:errcheck
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate variables")
	}

	if err := c.attachCategories(ctx, vars); err != nil {
		return nil, err
	}
	return vars, nil
}

func (c *sqliteCatalog) GetRepresentedVariable(ctx context.Context, id int64) (*model.RepresentedVariable, error) {
	v, err := scanSQLiteVariable(c.q.QueryRowContext(ctx, qVariableByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: represented variable %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get represented variable %d", id)
	}
	if err := c.attachCategories(ctx, []*model.RepresentedVariable{v}); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *sqliteCatalog) CreateConceptualVariable(ctx context.Context, cv *model.ConceptualVariable) error {
	err := c.q.QueryRowContext(ctx, qInsertConceptual, cv.InternalLabel, cv.IsUnique).Scan(&cv.ID)
	return eris.Wrap(err, "sqlite: insert conceptual variable")
}

func (c *sqliteCatalog) CreateRepresentedVariable(ctx context.Context, rv *model.RepresentedVariable) error {
	if rv.Type == "" {
		rv.Type = model.VariableTypeQuestion
	}
	err := c.q.QueryRowContext(ctx, qInsertVariable,
		rv.ConceptualID, string(rv.Type), nullString(rv.QuestionText), rv.InternalLabel, rv.IsUnique, rv.TypeCategories,
	).Scan(&rv.ID)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert represented variable")
	}

	catIDs := make([]int64, len(rv.Categories))
	for i, cat := range rv.Categories {
		catIDs[i] = cat.ID
	}
	for _, batch := range chunk(uniqueIDs(catIDs), inChunk/2) {
		query, err := db.UpsertSQL(variableCategoryLinks, len(batch), db.Question)
		if err != nil {
			return err
		}
		if _, err := c.q.ExecContext(ctx, query, linkArgs(rv.ID, batch)...); err != nil {
			return eris.Wrapf(err, "sqlite: link categories of variable %d", rv.ID)
		}
	}
	return nil
}

func (c *sqliteCatalog) attachCategories(ctx context.Context, vars []*model.RepresentedVariable) error {
	if len(vars) == 0 {
		return nil
	}
	byID := make(map[int64][]*model.RepresentedVariable, len(vars))
	ids := make([]int64, 0, len(vars))
	for _, v := range vars {
		if _, ok := byID[v.ID]; !ok {
			ids = append(ids, v.ID)
		}
		byID[v.ID] = append(byID[v.ID], v)
	}

	for _, batch := range chunk(ids, inChunk) {
		rows, err := c.q.QueryContext(ctx, qVariableCategories(db.Question, len(batch)), int64Args(batch)...)
		if err != nil {
			return eris.Wrap(err, "sqlite: load variable categories")
		}
		for rows.Next() {
			var (
				varID int64
				cat   model.Category
			)
			if err := rows.Scan(&varID, &cat.ID, &cat.Code, &cat.Label, &cat.Missing); err != nil {
				rows.Close() //nolint:errcheck
				return eris.Wrap(err, "sqlite: scan variable category")
			}
			for _, v := range byID[varID] {
				v.Categories = append(v.Categories, cat)
			}
		}
		err = rows.Err()
		rows.Close() //nolint:errcheck
		if err != nil {
			return eris.Wrap(err, "sqlite: iterate variable categories")
		}
	}
	return nil
}

// --- Categories ---

func (c *sqliteCatalog) GetOrCreateCategory(ctx context.Context, code, label string, missing bool) (*model.Category, error) {
	cat := &model.Category{Code: code, Label: label}
	if err := c.q.QueryRowContext(ctx, qUpsertCategory, code, label, missing).Scan(&cat.ID, &cat.Missing); err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert category %s,%s", code, label)
	}
	return cat, nil
}

func (c *sqliteCatalog) SetCategoryMissing(ctx context.Context, id int64, missing bool) error {
	res, err := c.q.ExecContext(ctx, qSetCategoryMissing, missing, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update category %d", id)
	}
	return checkRowsAffected(res, "category", id)
}

// --- Bindings ---

func (c *sqliteCatalog) GetBinding(ctx context.Context, surveyID int64, variableName string) (*model.Binding, error) {
	var b model.Binding
	err := c.q.QueryRowContext(ctx, qBindingByName, surveyID, variableName).
		Scan(&b.ID, &b.SurveyID, &b.VariableID, &b.VariableName, &b.Universe, &b.Notes, &b.IsIndexed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get binding %d/%s", surveyID, variableName)
	}
	return &b, nil
}

func (c *sqliteCatalog) CreateBinding(ctx context.Context, b *model.Binding) error {
	err := c.q.QueryRowContext(ctx, qInsertBinding,
		b.SurveyID, b.VariableID, b.VariableName, b.Universe, b.Notes, b.IsIndexed,
	).Scan(&b.ID)
	return eris.Wrapf(err, "sqlite: insert binding %d/%s", b.SurveyID, b.VariableName)
}

func (c *sqliteCatalog) UpdateBinding(ctx context.Context, b *model.Binding) error {
	b.IsIndexed = false
	res, err := c.q.ExecContext(ctx, qUpdateBinding, b.VariableID, b.Universe, b.Notes, b.IsIndexed, b.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update binding %d", b.ID)
	}
	return checkRowsAffected(res, "binding", b.ID)
}

func (c *sqliteCatalog) UpsertCategoryStats(ctx context.Context, stats []model.CategoryStat) error {
	for len(stats) > 0 {
		n := min(len(stats), inChunk/3)
		batch := stats[:n]
		stats = stats[n:]

		query, err := db.UpsertSQL(categoryStats, len(batch), db.Question)
		if err != nil {
			return err
		}
		if _, err := c.q.ExecContext(ctx, query, statArgs(batch)...); err != nil {
			return eris.Wrap(err, "sqlite: upsert category stats")
		}
	}
	return nil
}

func (c *sqliteCatalog) ListCategoryStats(ctx context.Context, bindingID int64) ([]model.CategoryStat, error) {
	rows, err := c.q.QueryContext(ctx, qCategoryStats, bindingID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list stats of binding %d", bindingID)
	}
	defer rows.Close() //nolint:errcheck

	var stats []model.CategoryStat
	for rows.Next() {
		var s model.CategoryStat
		if err := rows.Scan(&s.BindingID, &s.CategoryID, &s.Stat); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category stat")
		}
		stats = append(stats, s)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: iterate category stats")
}

func (c *sqliteCatalog) MarkIndexed(ctx context.Context, ids []int64) error {
	for _, batch := range chunk(uniqueIDs(ids), inChunk) {
		args := append([]any{true}, int64Args(batch)...)
		if _, err := c.q.ExecContext(ctx, qMarkIndexed(db.Question, len(batch)), args...); err != nil {
			return eris.Wrap(err, "sqlite: mark indexed")
		}
	}
	return nil
}

func (c *sqliteCatalog) UnindexedBindingIDs(ctx context.Context, limit int) ([]int64, error) {
	query := qUnindexed
	args := []any{false}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	ids, err := c.queryIDs(ctx, query, args...)
	return ids, eris.Wrap(err, "sqlite: unindexed bindings")
}

func (c *sqliteCatalog) ExistingBindingIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	for _, batch := range chunk(ids, inChunk) {
		found, err := c.queryIDs(ctx, qExistingBindings(db.Question, len(batch)), int64Args(batch)...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: existing bindings")
		}
		for _, id := range found {
			out[id] = true
		}
	}
	return out, nil
}

func (c *sqliteCatalog) BindingViews(ctx context.Context, ids []int64) ([]model.BindingView, error) {
	var views []model.BindingView
	for _, batch := range chunk(uniqueIDs(ids), inChunk) {
		rows, err := c.q.QueryContext(ctx, qBindingViews(db.Question, len(batch)), int64Args(batch)...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: binding views")
		}
		for rows.Next() {
			var (
				v         model.BindingView
				startDate sql.NullString
				varType   string
			)
			err := rows.Scan(
				&v.Binding.ID, &v.Binding.SurveyID, &v.Binding.VariableID, &v.Binding.VariableName,
				&v.Binding.Universe, &v.Binding.Notes, &v.Binding.IsIndexed,
				&v.Survey.ID, &v.Survey.ExternalRef, &v.Survey.Name, &v.Survey.SubcollectionID, &startDate, &v.CollectionID,
				&v.Variable.ID, &v.Variable.ConceptualID, &varType, &v.Variable.QuestionText,
				&v.Variable.InternalLabel, &v.Variable.IsUnique, &v.Variable.TypeCategories,
			)
			if err != nil {
				rows.Close() //nolint:errcheck
				return nil, eris.Wrap(err, "sqlite: scan binding view")
			}
			v.Variable.Type = model.VariableType(varType)
			v.Survey.StartDate = parseDate(startDate)
			views = append(views, v)
		}
		err = rows.Err()
		rows.Close() //nolint:errcheck
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: iterate binding views")
		}
	}

	vars := make([]*model.RepresentedVariable, len(views))
	for i := range views {
		vars[i] = &views[i].Variable
	}
	if err := c.attachCategories(ctx, vars); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *sqliteCatalog) BoundVariableNames(ctx context.Context, surveyRef string, names []string) ([]string, error) {
	found := make(map[string]bool)
	rest := names
	for len(rest) > 0 {
		n := min(len(rest), inChunk)
		batch := rest[:n]
		rest = rest[n:]

		args := append([]any{surveyRef}, stringArgs(batch)...)
		rows, err := c.q.QueryContext(ctx, qBoundVariableNames(db.Question, len(batch)), args...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: bound variable names")
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close() //nolint:errcheck
				return nil, eris.Wrap(err, "sqlite: scan variable name")
			}
			found[name] = true
		}
		err = rows.Err()
		rows.Close() //nolint:errcheck
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: iterate variable names")
		}
	}
	return orderedNames(names, found), nil
}

// --- Maintenance ---

// SweepOrphans deletes represented variables without bindings, then
// conceptual variables without represented variables, then categories no
// variable or stat references.
func (c *sqliteCatalog) SweepOrphans(ctx context.Context) (*model.SweepResult, error) {
	if _, err := c.q.ExecContext(ctx, qSweepVariableLinks); err != nil {
		return nil, eris.Wrap(err, "sqlite: sweep variable links")
	}

	var res model.SweepResult
	for _, step := range []struct {
		query string
		dst   *int64
		what  string
	}{
		{qSweepVariables, &res.Variables, "represented variables"},
		{qSweepConceptuals, &res.Conceptuals, "conceptual variables"},
		{qSweepCategories, &res.Categories, "categories"},
	} {
		r, err := c.q.ExecContext(ctx, step.query)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: sweep %s", step.what)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "rows affected")
		}
		*step.dst = n
	}
	return &res, nil
}

func (c *sqliteCatalog) Counts(ctx context.Context) (*model.CatalogCounts, error) {
	var cc model.CatalogCounts
	err := c.q.QueryRowContext(ctx, qCounts, false).
		Scan(&cc.Surveys, &cc.Conceptuals, &cc.Variables, &cc.Categories, &cc.Bindings, &cc.Unindexed)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: counts")
	}
	return &cc, nil
}

func (c *sqliteCatalog) Reset(ctx context.Context) error {
	for _, table := range resetTables {
		if _, err := c.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s", table)
		}
	}
	return nil
}

// --- Import runs ---

func (s *SQLiteStore) StartImportRun(ctx context.Context, source string) (*model.ImportRun, error) {
	run := &model.ImportRun{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.ImportStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, qInsertImportRun, run.ID, run.Source, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert import run")
	}
	return run, nil
}

func (s *SQLiteStore) CompleteImportRun(ctx context.Context, run *model.ImportRun) error {
	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal import result")
	}
	now := time.Now().UTC()
	run.CompletedAt = &now

	res, err := s.db.ExecContext(ctx, qCompleteImportRun,
		string(run.Status), string(resultJSON), run.Error, now, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete import run %s", run.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("import run not found: %s", run.ID)
	}
	return nil
}

func (s *SQLiteStore) ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, qListImportRuns, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list import runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.ImportRun
	for rows.Next() {
		var (
			r           model.ImportRun
			status      string
			resultJSON  sql.NullString
			errText     sql.NullString
			completedAt sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Source, &status, &resultJSON, &errText, &r.StartedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan import run")
		}
		r.Status = model.ImportStatus(status)
		r.Error = errText.String
		if resultJSON.Valid && resultJSON.String != "" {
			if err := json.Unmarshal([]byte(resultJSON.String), &r.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal import result")
			}
		}
		if completedAt.Valid {
			t := completedAt.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate import runs")
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSurvey(row rowScanner) (*model.Survey, error) {
	var (
		s                  model.Survey
		start, lastVersion sql.NullString
	)
	err := row.Scan(&s.ID, &s.ExternalRef, &s.Name, &s.SubcollectionID, &s.Language, &s.Author, &s.Producer,
		&start, &lastVersion, &s.GeographicCoverage, &s.GeographicUnit, &s.UnitOfAnalysis, &s.Contact, &s.Citation)
	if err != nil {
		return nil, err
	}
	s.StartDate = parseDate(start)
	s.DateLastVersion = parseDate(lastVersion)
	return &s, nil
}

func scanSQLiteVariable(row rowScanner) (*model.RepresentedVariable, error) {
	var (
		v       model.RepresentedVariable
		varType string
	)
	err := row.Scan(&v.ID, &v.ConceptualID, &varType, &v.QuestionText, &v.InternalLabel, &v.IsUnique, &v.TypeCategories)
	if err != nil {
		return nil, err
	}
	v.Type = model.VariableType(varType)
	return &v, nil
}

func (c *sqliteCatalog) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// dateArg formats a date as YYYY-MM-DD text.
func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func parseDate(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	raw := ns.String
	if len(raw) > len(dateLayout) {
		raw = raw[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil
	}
	return &t
}
