// Package reconcile decides whether an incoming variable is an already known
// represented variable, a new variant of a known concept, or a new concept.
package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ddi-catalog/internal/category"
	"github.com/sells-group/ddi-catalog/internal/model"
	"github.com/sells-group/ddi-catalog/internal/normalize"
)

// Store is the persistence the reconciler writes through.
type Store interface {
	category.Store
	GetRepresentedVariable(ctx context.Context, id int64) (*model.RepresentedVariable, error)
	CreateConceptualVariable(ctx context.Context, cv *model.ConceptualVariable) error
	CreateRepresentedVariable(ctx context.Context, rv *model.RepresentedVariable) error
}

// Input is one incoming variable of a survey.
type Input struct {
	VariableName string
	Label        string
	QuestionText string
	Categories   string

	// Existing is the binding already recorded for (survey, VariableName),
	// or nil.
	Existing *model.Binding
}

// Result is the outcome of reconciling one Input.
type Result struct {
	Variable *model.RepresentedVariable
	Created  bool

	// Categories holds the resolved categories of the input with their
	// stats, for recording against the binding.
	Categories []category.Resolved
}

// Reconciler matches incoming variables against the catalog.
type Reconciler struct {
	log *zap.Logger
}

// New creates a Reconciler.
func New() *Reconciler {
	return &Reconciler{log: zap.L().With(zap.String("component", "reconcile"))}
}

// Reconcile resolves in to a represented variable. Merging happens only on
// exact equality of the comparison key and of the category set; near
// duplicates are never merged.
//
//   - Empty question text: the variable already bound under the same
//     (survey, variable name) is reused if it carries question text,
//     otherwise a unique conceptual and represented pair is created.
//   - Known text: the first indexed variable with the same categories is
//     reused. Otherwise a new variant is created under the conceptual
//     variable of the first indexed one.
//   - Unknown text: a new conceptual and represented pair is created.
//
// Created variables are added to idx.
func (r *Reconciler) Reconcile(ctx context.Context, st Store, in Input, idx *QuestionIndex) (*Result, error) {
	entries, err := category.Parse(in.Categories)
	if err != nil {
		return nil, err
	}
	resolved, err := category.Resolve(ctx, st, entries)
	if err != nil {
		return nil, err
	}

	stored := normalize.ForStorage(in.QuestionText)
	key := normalize.ForComparison(stored)

	if key == "" {
		return r.reconcileEmpty(ctx, st, in, stored, resolved)
	}

	if cands := idx.Lookup(key); len(cands) > 0 {
		for _, v := range cands {
			if category.MatchEntries(entries, v.Categories) {
				return &Result{Variable: v, Categories: resolved}, nil
			}
		}

		v, err := r.createVariable(ctx, st, cands[0].ConceptualID, in, stored, resolved, false)
		if err != nil {
			return nil, err
		}
		r.log.Debug("new variant of known question",
			zap.String("variable_name", in.VariableName),
			zap.Int64("conceptual_id", v.ConceptualID),
			zap.Int64("variable_id", v.ID),
		)
		idx.Add(key, v)
		return &Result{Variable: v, Created: true, Categories: resolved}, nil
	}

	cv := &model.ConceptualVariable{InternalLabel: in.Label}
	if err := st.CreateConceptualVariable(ctx, cv); err != nil {
		return nil, eris.Wrap(err, "reconcile: create conceptual variable")
	}
	v, err := r.createVariable(ctx, st, cv.ID, in, stored, resolved, false)
	if err != nil {
		return nil, err
	}
	idx.Add(key, v)
	return &Result{Variable: v, Created: true, Categories: resolved}, nil
}

func (r *Reconciler) reconcileEmpty(ctx context.Context, st Store, in Input, stored string, resolved []category.Resolved) (*Result, error) {
	if in.Existing != nil {
		v, err := st.GetRepresentedVariable(ctx, in.Existing.VariableID)
		if err != nil {
			return nil, eris.Wrapf(err, "reconcile: load variable bound to %s", in.VariableName)
		}
		if v.QuestionText != nil {
			return &Result{Variable: v, Categories: resolved}, nil
		}
	}

	cv := &model.ConceptualVariable{InternalLabel: in.Label, IsUnique: true}
	if err := st.CreateConceptualVariable(ctx, cv); err != nil {
		return nil, eris.Wrap(err, "reconcile: create unique conceptual variable")
	}
	v, err := r.createVariable(ctx, st, cv.ID, in, stored, resolved, true)
	if err != nil {
		return nil, err
	}
	return &Result{Variable: v, Created: true, Categories: resolved}, nil
}

func (r *Reconciler) createVariable(ctx context.Context, st Store, conceptualID int64, in Input, stored string, resolved []category.Resolved, unique bool) (*model.RepresentedVariable, error) {
	typ := model.VariableTypeQuestion
	if stored == "" {
		typ = model.VariableTypeInternal
	}
	text := stored
	v := &model.RepresentedVariable{
		ConceptualID:  conceptualID,
		Type:          typ,
		QuestionText:  &text,
		InternalLabel: in.Label,
		IsUnique:      unique,
		Categories:    category.Categories(resolved),
	}
	if err := st.CreateRepresentedVariable(ctx, v); err != nil {
		return nil, eris.Wrap(err, "reconcile: create represented variable")
	}
	return v, nil
}
