package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ddi-catalog/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = eris.New("not found")

// Catalog is the set of catalog operations that can run inside a
// transaction. Every method operates on the transaction of the Catalog it is
// called on.
type Catalog interface {
	// Hierarchy and surveys
	GetOrCreateDistributor(ctx context.Context, name string) (*model.Distributor, error)
	GetOrCreateCollection(ctx context.Context, name string, distributorID *int64) (*model.Collection, error)
	GetOrCreateSubcollection(ctx context.Context, name string, collectionID *int64) (*model.Subcollection, error)
	CreateSurvey(ctx context.Context, s *model.Survey) error
	GetSurveyByRef(ctx context.Context, ref string) (*model.Survey, error)
	SurveysByRef(ctx context.Context, refs []string) (map[string]*model.Survey, error)
	DeleteSurvey(ctx context.Context, id int64) ([]int64, error)

	// Variables
	ListQuestionVariables(ctx context.Context) ([]*model.RepresentedVariable, error)
	GetRepresentedVariable(ctx context.Context, id int64) (*model.RepresentedVariable, error)
	CreateConceptualVariable(ctx context.Context, cv *model.ConceptualVariable) error
	CreateRepresentedVariable(ctx context.Context, rv *model.RepresentedVariable) error

	// Categories
	GetOrCreateCategory(ctx context.Context, code, label string, missing bool) (*model.Category, error)
	SetCategoryMissing(ctx context.Context, id int64, missing bool) error

	// Bindings
	GetBinding(ctx context.Context, surveyID int64, variableName string) (*model.Binding, error)
	CreateBinding(ctx context.Context, b *model.Binding) error
	UpdateBinding(ctx context.Context, b *model.Binding) error
	UpsertCategoryStats(ctx context.Context, stats []model.CategoryStat) error
	ListCategoryStats(ctx context.Context, bindingID int64) ([]model.CategoryStat, error)
	MarkIndexed(ctx context.Context, ids []int64) error
	UnindexedBindingIDs(ctx context.Context, limit int) ([]int64, error)
	ExistingBindingIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	BindingViews(ctx context.Context, ids []int64) ([]model.BindingView, error)
	BoundVariableNames(ctx context.Context, surveyRef string, names []string) ([]string, error)

	// Maintenance
	SweepOrphans(ctx context.Context) (*model.SweepResult, error)
	Counts(ctx context.Context) (*model.CatalogCounts, error)
	Reset(ctx context.Context) error
}

// Store is the persistence interface of the catalog.
type Store interface {
	Catalog

	// InTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Catalog) error) error

	// Import runs
	StartImportRun(ctx context.Context, source string) (*model.ImportRun, error)
	CompleteImportRun(ctx context.Context, run *model.ImportRun) error
	ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// chunk splits ids into slices of at most size elements.
func chunk(ids []int64, size int) [][]int64 {
	var out [][]int64
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

// inChunk bounds IN (...) lists so SQLite stays under its parameter limit.
const inChunk = 500

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
