// Package binding records which represented variable a survey uses under a
// source variable name, with the observed category frequencies.
package binding

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ddi-catalog/internal/category"
	"github.com/sells-group/ddi-catalog/internal/model"
)

// Outcome tells what Apply did.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Changed reports whether the binding was written and needs reindexing.
func (o Outcome) Changed() bool {
	return o != Unchanged
}

// Store is the persistence the manager writes through.
type Store interface {
	GetBinding(ctx context.Context, surveyID int64, variableName string) (*model.Binding, error)
	CreateBinding(ctx context.Context, b *model.Binding) error
	UpdateBinding(ctx context.Context, b *model.Binding) error
	UpsertCategoryStats(ctx context.Context, stats []model.CategoryStat) error
}

// Params are the fields of a binding as read from the source file.
type Params struct {
	SurveyID     int64
	VariableID   int64
	VariableName string
	Universe     string
	Notes        string
}

// Manager creates and updates bindings.
type Manager struct{}

// NewManager creates a Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Apply creates the binding when existing is nil, updates it when the
// variable, universe or notes differ, and writes nothing otherwise. existing
// is the result of looking the binding up by (survey, variable name); the
// variable is not part of the lookup, as a source column name is unique
// within a survey whichever variable it ends up mapped to.
func (m *Manager) Apply(ctx context.Context, st Store, existing *model.Binding, p Params) (*model.Binding, Outcome, error) {
	if existing == nil {
		b := &model.Binding{
			SurveyID:     p.SurveyID,
			VariableID:   p.VariableID,
			VariableName: p.VariableName,
			Universe:     p.Universe,
			Notes:        p.Notes,
		}
		if err := st.CreateBinding(ctx, b); err != nil {
			return nil, Unchanged, eris.Wrapf(err, "binding: create %s", p.VariableName)
		}
		return b, Created, nil
	}

	if existing.SurveyID != p.SurveyID || existing.VariableName != p.VariableName {
		return nil, Unchanged, eris.Errorf("binding: %d belongs to (%d, %s), not (%d, %s)",
			existing.ID, existing.SurveyID, existing.VariableName, p.SurveyID, p.VariableName)
	}

	if existing.VariableID == p.VariableID && existing.Universe == p.Universe && existing.Notes == p.Notes {
		return existing, Unchanged, nil
	}

	b := *existing
	b.VariableID = p.VariableID
	b.Universe = p.Universe
	b.Notes = p.Notes
	b.IsIndexed = false
	if err := st.UpdateBinding(ctx, &b); err != nil {
		return nil, Unchanged, eris.Wrapf(err, "binding: update %s", p.VariableName)
	}
	return &b, Updated, nil
}

// RecordStats overwrites the stats of bindingID for every resolved category
// that carries one.
func (m *Manager) RecordStats(ctx context.Context, st Store, bindingID int64, resolved []category.Resolved) error {
	stats := make([]model.CategoryStat, 0, len(resolved))
	for _, r := range resolved {
		if r.Stat == nil {
			continue
		}
		stats = append(stats, model.CategoryStat{BindingID: bindingID, CategoryID: r.Category.ID, Stat: *r.Stat})
	}
	if len(stats) == 0 {
		return nil
	}
	return eris.Wrapf(st.UpsertCategoryStats(ctx, stats), "binding: record stats of %d", bindingID)
}
