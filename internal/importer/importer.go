// Package importer drives the reconciliation of parsed variable rows into
// the catalog, one transaction per survey.
package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ddi-catalog/internal/binding"
	"github.com/sells-group/ddi-catalog/internal/model"
	"github.com/sells-group/ddi-catalog/internal/reconcile"
	"github.com/sells-group/ddi-catalog/internal/store"
)

// Store is the persistence the importer needs.
type Store interface {
	Marker
	SurveysByRef(ctx context.Context, refs []string) (map[string]*model.Survey, error)
	ListQuestionVariables(ctx context.Context) ([]*model.RepresentedVariable, error)
	InTx(ctx context.Context, fn func(tx store.Catalog) error) error
}

// Importer imports variable rows.
type Importer struct {
	store      Store
	indexer    Indexer
	batchSize  int
	reconciler *reconcile.Reconciler
	bindings   *binding.Manager
}

// New creates an Importer. indexer may be nil, in which case bindings stay
// unindexed until the next reindex. batchSize <= 0 uses DefaultBatchSize.
func New(st Store, indexer Indexer, batchSize int) *Importer {
	return &Importer{
		store:      st,
		indexer:    indexer,
		batchSize:  batchSize,
		reconciler: reconcile.New(),
		bindings:   binding.NewManager(),
	}
}

type surveyRows struct {
	ref  string
	rows []numberedRow
}

type numberedRow struct {
	line int
	row  model.Row
}

// groupRows groups rows by survey reference in order of first appearance,
// keeping row order inside each group.
func groupRows(rows []model.Row) []surveyRows {
	pos := make(map[string]int)
	var groups []surveyRows
	for i, r := range rows {
		ref := strings.TrimSpace(r.SurveyRef)
		j, ok := pos[ref]
		if !ok {
			j = len(groups)
			pos[ref] = j
			groups = append(groups, surveyRows{ref: ref})
		}
		groups[j].rows = append(groups[j].rows, numberedRow{line: i + 1, row: r})
	}
	return groups
}

// Import reconciles rows survey by survey. Each survey commits or rolls back
// on its own: a bad row discards the rows of its survey only, and the other
// surveys are still imported. When anything failed the returned error is an
// *ImportError and the result still counts the committed surveys.
func (im *Importer) Import(ctx context.Context, rows []model.Row) (model.ImportResult, error) {
	log := zap.L().With(zap.String("component", "importer"))
	var result model.ImportResult

	groups := groupRows(rows)
	if len(groups) == 0 {
		return result, nil
	}

	refs := make([]string, len(groups))
	for i, g := range groups {
		refs[i] = g.ref
	}
	surveys, err := im.store.SurveysByRef(ctx, refs)
	if err != nil {
		return result, eris.Wrap(err, "importer: prefetch surveys")
	}

	vars, err := im.store.ListQuestionVariables(ctx)
	if err != nil {
		return result, eris.Wrap(err, "importer: load question index")
	}
	idx := reconcile.BuildQuestionIndex(vars)
	log.Debug("question index built", zap.Int("questions", idx.Len()), zap.Int("surveys", len(groups)))

	queue := NewIndexQueue(im.indexer, im.store, im.batchSize)
	var failures ImportError

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			queue.Flush(ctx)
			return result, eris.Wrap(err, "importer: cancelled")
		}

		survey, ok := surveys[g.ref]
		if !ok {
			failures.add(eris.Wrapf(ErrSurveyNotFound, "survey %q", g.ref), fmt.Sprintf("survey %q not found", g.ref))
			log.Warn("survey not found", zap.String("survey", g.ref), zap.Int("rows", len(g.rows)))
			continue
		}

		start := time.Now()
		res, changed, err := im.importSurvey(ctx, survey, g.rows, idx)
		if err != nil {
			failures.add(err, groupMessage(g.ref, err))
			log.Warn("survey import rolled back", zap.String("survey", g.ref), zap.Error(err))
			continue
		}

		result.Add(res)
		queue.Add(ctx, changed...)
		log.Debug("survey imported",
			zap.String("survey", g.ref),
			zap.Int("rows", res.Rows),
			zap.Int("new_variables", res.NewVariables),
			zap.Int("new_bindings", res.NewBindings),
			zap.Duration("elapsed", time.Since(start)),
		)
	}

	queue.Flush(ctx)
	indexed, unindexed := queue.Stats()
	log.Info("import finished",
		zap.Int("rows", result.Rows),
		zap.Int("new_variables", result.NewVariables),
		zap.Int("new_bindings", result.NewBindings),
		zap.Int("updated_bindings", result.UpdatedBindings),
		zap.Int("indexed", indexed),
		zap.Int("unindexed", unindexed),
		zap.Int("errors", len(failures.Errors)),
	)

	if failures.empty() {
		return result, nil
	}
	return result, &failures
}

// importSurvey imports the rows of one survey in a single transaction and
// returns the bindings to index once it has committed.
func (im *Importer) importSurvey(ctx context.Context, survey *model.Survey, rows []numberedRow, idx *reconcile.QuestionIndex) (model.ImportResult, []int64, error) {
	var (
		res     model.ImportResult
		changed []int64
	)

	idx.Begin()
	err := im.store.InTx(ctx, func(tx store.Catalog) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = eris.Errorf("panic: %v", r)
			}
		}()

		for _, nr := range rows {
			out, err := im.importRow(ctx, tx, survey, nr.row, idx)
			if err != nil {
				return eris.Wrapf(err, "row %d (%s)", nr.line, nr.row.VariableName)
			}
			res.Rows++
			if out.created {
				res.NewVariables++
			}
			// NewBindings counts every binding written, created or changed;
			// UpdatedBindings is the changed share of it.
			if out.outcome.Changed() {
				res.NewBindings++
			}
			if out.outcome == binding.Updated {
				res.UpdatedBindings++
			}
			if out.outcome.Changed() || !out.indexed {
				changed = append(changed, out.bindingID)
			}
		}
		return nil
	})
	if err != nil {
		idx.Rollback()
		return model.ImportResult{}, nil, err
	}
	idx.Commit()
	return res, changed, nil
}

type rowOutcome struct {
	bindingID int64
	created   bool
	outcome   binding.Outcome
	indexed   bool
}

func (im *Importer) importRow(ctx context.Context, tx store.Catalog, survey *model.Survey, row model.Row, idx *reconcile.QuestionIndex) (rowOutcome, error) {
	name := strings.TrimSpace(row.VariableName)
	if name == "" {
		return rowOutcome{}, eris.Wrap(ErrInvalidRow, "empty variable name")
	}

	existing, err := tx.GetBinding(ctx, survey.ID, name)
	if err != nil {
		return rowOutcome{}, eris.Wrap(err, "importer: look up binding")
	}

	rec, err := im.reconciler.Reconcile(ctx, tx, reconcile.Input{
		VariableName: name,
		Label:        row.VariableLabel,
		QuestionText: row.QuestionText,
		Categories:   row.Categories,
		Existing:     existing,
	}, idx)
	if err != nil {
		return rowOutcome{}, err
	}

	b, outcome, err := im.bindings.Apply(ctx, tx, existing, binding.Params{
		SurveyID:     survey.ID,
		VariableID:   rec.Variable.ID,
		VariableName: name,
		Universe:     row.Universe,
		Notes:        row.Notes,
	})
	if err != nil {
		return rowOutcome{}, err
	}

	if err := im.bindings.RecordStats(ctx, tx, b.ID, rec.Categories); err != nil {
		return rowOutcome{}, err
	}

	return rowOutcome{bindingID: b.ID, created: rec.Created, outcome: outcome, indexed: b.IsIndexed}, nil
}
