package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ddi-catalog/internal/db"
	"github.com/sells-group/ddi-catalog/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	*pgCatalog
	pool    db.Pool
	closeFn func()
}

// pgCatalog implements Catalog on top of a pool or a transaction.
type pgCatalog struct {
	q db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the per-row import statements.
var preparedStatements = map[string]string{
	"upsert_category":   rebind(qUpsertCategory),
	"binding_by_name":   rebind(qBindingByName),
	"insert_binding":    rebind(qInsertBinding),
	"update_binding":    rebind(qUpdateBinding),
	"insert_variable":   rebind(qInsertVariable),
	"insert_conceptual": rebind(qInsertConceptual),
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close), nil
}

func newPostgresStore(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{pgCatalog: &pgCatalog{q: pool}, pool: pool, closeFn: closeFn}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS distributors (
	id   BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS collections (
	id             BIGSERIAL PRIMARY KEY,
	name           TEXT NOT NULL,
	distributor_id BIGINT REFERENCES distributors(id),
	abstract       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS subcollections (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	collection_id BIGINT REFERENCES collections(id)
);

CREATE TABLE IF NOT EXISTS surveys (
	id                  BIGSERIAL PRIMARY KEY,
	external_ref        TEXT NOT NULL UNIQUE,
	name                TEXT NOT NULL,
	subcollection_id    BIGINT REFERENCES subcollections(id),
	language            TEXT NOT NULL DEFAULT '',
	author              TEXT NOT NULL DEFAULT '',
	producer            TEXT NOT NULL DEFAULT '',
	start_date          DATE,
	date_last_version   DATE,
	geographic_coverage TEXT NOT NULL DEFAULT '',
	geographic_unit     TEXT NOT NULL DEFAULT '',
	unit_of_analysis    TEXT NOT NULL DEFAULT '',
	contact             TEXT NOT NULL DEFAULT '',
	citation            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conceptual_variables (
	id             BIGSERIAL PRIMARY KEY,
	internal_label TEXT NOT NULL DEFAULT '',
	is_unique      BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS categories (
	id      BIGSERIAL PRIMARY KEY,
	code    TEXT NOT NULL,
	label   TEXT NOT NULL,
	missing BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (code, label)
);

CREATE TABLE IF NOT EXISTS represented_variables (
	id                BIGSERIAL PRIMARY KEY,
	conceptual_var_id BIGINT NOT NULL REFERENCES conceptual_variables(id),
	type              TEXT NOT NULL DEFAULT 'question',
	question_text     TEXT,
	internal_label    TEXT NOT NULL DEFAULT '',
	is_unique         BOOLEAN NOT NULL DEFAULT false,
	type_categories   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS represented_variable_categories (
	variable_id BIGINT NOT NULL REFERENCES represented_variables(id),
	category_id BIGINT NOT NULL REFERENCES categories(id),
	PRIMARY KEY (variable_id, category_id)
);

CREATE TABLE IF NOT EXISTS bindings (
	id            BIGSERIAL PRIMARY KEY,
	survey_id     BIGINT NOT NULL REFERENCES surveys(id),
	variable_id   BIGINT NOT NULL REFERENCES represented_variables(id),
	variable_name TEXT NOT NULL,
	universe      TEXT NOT NULL DEFAULT '',
	notes         TEXT NOT NULL DEFAULT '',
	is_indexed    BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (survey_id, variable_name)
);

CREATE TABLE IF NOT EXISTS binding_category_stats (
	binding_id  BIGINT NOT NULL REFERENCES bindings(id),
	category_id BIGINT NOT NULL REFERENCES categories(id),
	stat        BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (binding_id, category_id)
);

CREATE TABLE IF NOT EXISTS import_runs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	result       JSONB,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_rv_conceptual ON represented_variables(conceptual_var_id);
CREATE INDEX IF NOT EXISTS idx_rvc_category ON represented_variable_categories(category_id);
CREATE INDEX IF NOT EXISTS idx_bindings_variable ON bindings(variable_id);
CREATE INDEX IF NOT EXISTS idx_bindings_unindexed ON bindings(id) WHERE NOT is_indexed;
CREATE INDEX IF NOT EXISTS idx_stats_category ON binding_category_stats(category_id);
CREATE INDEX IF NOT EXISTS idx_import_runs_started ON import_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InTx runs fn in a Postgres transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Catalog) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(&pgCatalog{q: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

// --- Hierarchy and surveys ---

func (c *pgCatalog) GetOrCreateDistributor(ctx context.Context, name string) (*model.Distributor, error) {
	d := &model.Distributor{Name: name}
	if err := c.q.QueryRow(ctx, rebind(qUpsertDistributor), name).Scan(&d.ID); err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert distributor %q", name)
	}
	return d, nil
}

func (c *pgCatalog) GetOrCreateCollection(ctx context.Context, name string, distributorID *int64) (*model.Collection, error) {
	col := &model.Collection{}
	err := c.q.QueryRow(ctx, qCollectionLookup(db.Dollar), name, distributorID).
		Scan(&col.ID, &col.Name, &col.DistributorID, &col.Abstract)
	if err == nil {
		return col, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: get collection %q", name)
	}

	col = &model.Collection{Name: name, DistributorID: distributorID}
	if err := c.q.QueryRow(ctx, rebind(qInsertCollection), name, distributorID).Scan(&col.ID); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert collection %q", name)
	}
	return col, nil
}

func (c *pgCatalog) GetOrCreateSubcollection(ctx context.Context, name string, collectionID *int64) (*model.Subcollection, error) {
	sc := &model.Subcollection{}
	err := c.q.QueryRow(ctx, qSubcollectionLookup(db.Dollar), name, collectionID).
		Scan(&sc.ID, &sc.Name, &sc.CollectionID)
	if err == nil {
		return sc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "postgres: get subcollection %q", name)
	}

	sc = &model.Subcollection{Name: name, CollectionID: collectionID}
	if err := c.q.QueryRow(ctx, rebind(qInsertSubcollection), name, collectionID).Scan(&sc.ID); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert subcollection %q", name)
	}
	return sc, nil
}

func (c *pgCatalog) CreateSurvey(ctx context.Context, s *model.Survey) error {
	err := c.q.QueryRow(ctx, rebind(qInsertSurvey),
		s.ExternalRef, s.Name, s.SubcollectionID, s.Language, s.Author, s.Producer,
		s.StartDate, s.DateLastVersion,
		s.GeographicCoverage, s.GeographicUnit, s.UnitOfAnalysis, s.Contact, s.Citation,
	).Scan(&s.ID)
	return eris.Wrapf(err, "postgres: insert survey %s", s.ExternalRef)
}

func (c *pgCatalog) GetSurveyByRef(ctx context.Context, ref string) (*model.Survey, error) {
	s, err := scanPgSurvey(c.q.QueryRow(ctx, rebind(qSurveyByRef), ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: survey %s", ref)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get survey %s", ref)
	}
	return s, nil
}

func (c *pgCatalog) SurveysByRef(ctx context.Context, refs []string) (map[string]*model.Survey, error) {
	out := make(map[string]*model.Survey, len(refs))
	for len(refs) > 0 {
		n := min(len(refs), inChunk)
		batch := refs[:n]
		refs = refs[n:]

		rows, err := c.q.Query(ctx, qSurveysByRef(db.Dollar, len(batch)), stringArgs(batch)...)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: surveys by ref")
		}
		for rows.Next() {
			s, err := scanPgSurvey(rows)
			if err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "postgres: scan survey")
			}
			out[s.ExternalRef] = s
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "postgres: iterate surveys")
		}
	}
	return out, nil
}

func (c *pgCatalog) DeleteSurvey(ctx context.Context, id int64) ([]int64, error) {
	ids, err := c.queryIDs(ctx, rebind(qSurveyBindingIDs), id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: bindings of survey %d", id)
	}
	if _, err := c.q.Exec(ctx, rebind(qDeleteSurveyStats), id); err != nil {
		return nil, eris.Wrapf(err, "postgres: delete stats of survey %d", id)
	}
	if _, err := c.q.Exec(ctx, rebind(qDeleteSurveyBindings), id); err != nil {
		return nil, eris.Wrapf(err, "postgres: delete bindings of survey %d", id)
	}
	tag, err := c.q.Exec(ctx, rebind(qDeleteSurvey), id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: delete survey %d", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: survey %d", id)
	}
	return ids, nil
}

// --- Variables ---

func (c *pgCatalog) ListQuestionVariables(ctx context.Context) ([]*model.RepresentedVariable, error) {
	rows, err := c.q.Query(ctx, rebind(qQuestionVariables))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list question variables")
	}
	var vars []*model.RepresentedVariable
	for rows.Next() {
		v, err := scanPgVariable(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan variable")
		}
		vars = append(vars, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate variables")
	}

	if err := c.attachCategories(ctx, vars); err != nil {
		return nil, err
	}
	return vars, nil
}

func (c *pgCatalog) GetRepresentedVariable(ctx context.Context, id int64) (*model.RepresentedVariable, error) {
	v, err := scanPgVariable(c.q.QueryRow(ctx, rebind(qVariableByID), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: represented variable %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get represented variable %d", id)
	}
	if err := c.attachCategories(ctx, []*model.RepresentedVariable{v}); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *pgCatalog) CreateConceptualVariable(ctx context.Context, cv *model.ConceptualVariable) error {
	err := c.q.QueryRow(ctx, rebind(qInsertConceptual), cv.InternalLabel, cv.IsUnique).Scan(&cv.ID)
	return eris.Wrap(err, "postgres: insert conceptual variable")
}

func (c *pgCatalog) CreateRepresentedVariable(ctx context.Context, rv *model.RepresentedVariable) error {
	if rv.Type == "" {
		rv.Type = model.VariableTypeQuestion
	}
	err := c.q.QueryRow(ctx, rebind(qInsertVariable),
		rv.ConceptualID, string(rv.Type), rv.QuestionText, rv.InternalLabel, rv.IsUnique, rv.TypeCategories,
	).Scan(&rv.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: insert represented variable")
	}

	catIDs := make([]int64, len(rv.Categories))
	for i, cat := range rv.Categories {
		catIDs[i] = cat.ID
	}
	for _, batch := range chunk(uniqueIDs(catIDs), inChunk) {
		query, err := db.UpsertSQL(variableCategoryLinks, len(batch), db.Dollar)
		if err != nil {
			return err
		}
		if _, err := c.q.Exec(ctx, query, linkArgs(rv.ID, batch)...); err != nil {
			return eris.Wrapf(err, "postgres: link categories of variable %d", rv.ID)
		}
	}
	return nil
}

func (c *pgCatalog) attachCategories(ctx context.Context, vars []*model.RepresentedVariable) error {
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
		rows, err := c.q.Query(ctx, qVariableCategories(db.Dollar, len(batch)), int64Args(batch)...)
		if err != nil {
			return eris.Wrap(err, "postgres: load variable categories")
		}
		for rows.Next() {
			var (
				varID int64
				cat   model.Category
			)
			if err := rows.Scan(&varID, &cat.ID, &cat.Code, &cat.Label, &cat.Missing); err != nil {
				rows.Close()
				return eris.Wrap(err, "postgres: scan variable category")
			}
			for _, v := range byID[varID] {
				v.Categories = append(v.Categories, cat)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "postgres: iterate variable categories")
		}
	}
	return nil
}

// --- Categories ---

func (c *pgCatalog) GetOrCreateCategory(ctx context.Context, code, label string, missing bool) (*model.Category, error) {
	cat := &model.Category{Code: code, Label: label}
	if err := c.q.QueryRow(ctx, rebind(qUpsertCategory), code, label, missing).Scan(&cat.ID, &cat.Missing); err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert category %s,%s", code, label)
	}
	return cat, nil
}

func (c *pgCatalog) SetCategoryMissing(ctx context.Context, id int64, missing bool) error {
	tag, err := c.q.Exec(ctx, rebind(qSetCategoryMissing), missing, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update category %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "category %d", id)
	}
	return nil
}

// --- Bindings ---

func (c *pgCatalog) GetBinding(ctx context.Context, surveyID int64, variableName string) (*model.Binding, error) {
	var b model.Binding
	err := c.q.QueryRow(ctx, rebind(qBindingByName), surveyID, variableName).
		Scan(&b.ID, &b.SurveyID, &b.VariableID, &b.VariableName, &b.Universe, &b.Notes, &b.IsIndexed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get binding %d/%s", surveyID, variableName)
	}
	return &b, nil
}

func (c *pgCatalog) CreateBinding(ctx context.Context, b *model.Binding) error {
	err := c.q.QueryRow(ctx, rebind(qInsertBinding),
		b.SurveyID, b.VariableID, b.VariableName, b.Universe, b.Notes, b.IsIndexed,
	).Scan(&b.ID)
	return eris.Wrapf(err, "postgres: insert binding %d/%s", b.SurveyID, b.VariableName)
}

func (c *pgCatalog) UpdateBinding(ctx context.Context, b *model.Binding) error {
	b.IsIndexed = false
	tag, err := c.q.Exec(ctx, rebind(qUpdateBinding), b.VariableID, b.Universe, b.Notes, b.IsIndexed, b.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update binding %d", b.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "binding %d", b.ID)
	}
	return nil
}

func (c *pgCatalog) UpsertCategoryStats(ctx context.Context, stats []model.CategoryStat) error {
	for len(stats) > 0 {
		n := min(len(stats), inChunk)
		batch := stats[:n]
		stats = stats[n:]

		query, err := db.UpsertSQL(categoryStats, len(batch), db.Dollar)
		if err != nil {
			return err
		}
		if _, err := c.q.Exec(ctx, query, statArgs(batch)...); err != nil {
			return eris.Wrap(err, "postgres: upsert category stats")
		}
	}
	return nil
}

func (c *pgCatalog) ListCategoryStats(ctx context.Context, bindingID int64) ([]model.CategoryStat, error) {
	rows, err := c.q.Query(ctx, rebind(qCategoryStats), bindingID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list stats of binding %d", bindingID)
	}
	defer rows.Close()

	var stats []model.CategoryStat
	for rows.Next() {
		var s model.CategoryStat
		if err := rows.Scan(&s.BindingID, &s.CategoryID, &s.Stat); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category stat")
		}
		stats = append(stats, s)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: iterate category stats")
}

func (c *pgCatalog) MarkIndexed(ctx context.Context, ids []int64) error {
	for _, batch := range chunk(uniqueIDs(ids), inChunk) {
		args := append([]any{true}, int64Args(batch)...)
		if _, err := c.q.Exec(ctx, qMarkIndexed(db.Dollar, len(batch)), args...); err != nil {
			return eris.Wrap(err, "postgres: mark indexed")
		}
	}
	return nil
}

func (c *pgCatalog) UnindexedBindingIDs(ctx context.Context, limit int) ([]int64, error) {
	query := qUnindexed
	args := []any{false}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	ids, err := c.queryIDs(ctx, rebind(query), args...)
	return ids, eris.Wrap(err, "postgres: unindexed bindings")
}

func (c *pgCatalog) ExistingBindingIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	for _, batch := range chunk(ids, inChunk) {
		found, err := c.queryIDs(ctx, qExistingBindings(db.Dollar, len(batch)), int64Args(batch)...)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: existing bindings")
		}
		for _, id := range found {
			out[id] = true
		}
	}
	return out, nil
}

func (c *pgCatalog) BindingViews(ctx context.Context, ids []int64) ([]model.BindingView, error) {
	var views []model.BindingView
	for _, batch := range chunk(uniqueIDs(ids), inChunk) {
		rows, err := c.q.Query(ctx, qBindingViews(db.Dollar, len(batch)), int64Args(batch)...)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: binding views")
		}
		for rows.Next() {
			var (
				v       model.BindingView
				varType string
			)
			err := rows.Scan(
				&v.Binding.ID, &v.Binding.SurveyID, &v.Binding.VariableID, &v.Binding.VariableName,
				&v.Binding.Universe, &v.Binding.Notes, &v.Binding.IsIndexed,
				&v.Survey.ID, &v.Survey.ExternalRef, &v.Survey.Name, &v.Survey.SubcollectionID, &v.Survey.StartDate, &v.CollectionID,
				&v.Variable.ID, &v.Variable.ConceptualID, &varType, &v.Variable.QuestionText,
				&v.Variable.InternalLabel, &v.Variable.IsUnique, &v.Variable.TypeCategories,
			)
			if err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "postgres: scan binding view")
			}
			v.Variable.Type = model.VariableType(varType)
			views = append(views, v)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "postgres: iterate binding views")
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

func (c *pgCatalog) BoundVariableNames(ctx context.Context, surveyRef string, names []string) ([]string, error) {
	found := make(map[string]bool)
	rest := names
	for len(rest) > 0 {
		n := min(len(rest), inChunk)
		batch := rest[:n]
		rest = rest[n:]

		args := append([]any{surveyRef}, stringArgs(batch)...)
		rows, err := c.q.Query(ctx, qBoundVariableNames(db.Dollar, len(batch)), args...)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: bound variable names")
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, eris.Wrap(err, "postgres: scan variable name")
			}
			found[name] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "postgres: iterate variable names")
		}
	}
	return orderedNames(names, found), nil
}

// --- Maintenance ---

func (c *pgCatalog) SweepOrphans(ctx context.Context) (*model.SweepResult, error) {
	if _, err := c.q.Exec(ctx, qSweepVariableLinks); err != nil {
		return nil, eris.Wrap(err, "postgres: sweep variable links")
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
		tag, err := c.q.Exec(ctx, step.query)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: sweep %s", step.what)
		}
		*step.dst = tag.RowsAffected()
	}
	return &res, nil
}

func (c *pgCatalog) Counts(ctx context.Context) (*model.CatalogCounts, error) {
	var cc model.CatalogCounts
	err := c.q.QueryRow(ctx, rebind(qCounts), false).
		Scan(&cc.Surveys, &cc.Conceptuals, &cc.Variables, &cc.Categories, &cc.Bindings, &cc.Unindexed)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: counts")
	}
	return &cc, nil
}

func (c *pgCatalog) Reset(ctx context.Context) error {
	_, err := c.q.Exec(ctx, "TRUNCATE "+strings.Join(resetTables, ", ")+" RESTART IDENTITY")
	return eris.Wrap(err, "postgres: truncate catalog")
}

// --- Import runs ---

func (s *PostgresStore) StartImportRun(ctx context.Context, source string) (*model.ImportRun, error) {
	run := &model.ImportRun{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    model.ImportStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, rebind(qInsertImportRun), run.ID, run.Source, string(run.Status), run.StartedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert import run")
	}
	return run, nil
}

func (s *PostgresStore) CompleteImportRun(ctx context.Context, run *model.ImportRun) error {
	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal import result")
	}
	now := time.Now().UTC()
	run.CompletedAt = &now

	tag, err := s.pool.Exec(ctx, rebind(qCompleteImportRun),
		string(run.Status), resultJSON, run.Error, now, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete import run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("import run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, rebind(qListImportRuns), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list import runs")
	}
	defer rows.Close()

	var runs []model.ImportRun
	for rows.Next() {
		var (
			r          model.ImportRun
			status     string
			resultJSON []byte
			errText    *string
		)
		if err := rows.Scan(&r.ID, &r.Source, &status, &resultJSON, &errText, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan import run")
		}
		r.Status = model.ImportStatus(status)
		if errText != nil {
			r.Error = *errText
		}
		if len(resultJSON) > 0 {
			if err := json.Unmarshal(resultJSON, &r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal import result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate import runs")
}

// --- helpers ---

func scanPgSurvey(row pgx.Row) (*model.Survey, error) {
	var s model.Survey
	err := row.Scan(&s.ID, &s.ExternalRef, &s.Name, &s.SubcollectionID, &s.Language, &s.Author, &s.Producer,
		&s.StartDate, &s.DateLastVersion, &s.GeographicCoverage, &s.GeographicUnit, &s.UnitOfAnalysis, &s.Contact, &s.Citation)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanPgVariable(row pgx.Row) (*model.RepresentedVariable, error) {
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

func (c *pgCatalog) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := c.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

// rebind rewrites ? placeholders as $1, $2, ...
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
