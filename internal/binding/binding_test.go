package binding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ddi-catalog/internal/category"
	"github.com/sells-group/ddi-catalog/internal/model"
)

type fakeStore struct {
	bindings map[string]*model.Binding
	stats    []model.CategoryStat
	creates  int
	updates  int
}

// failingStore fails every write.
type failingStore struct {
	*fakeStore
	err error
}

func (f *failingStore) CreateBinding(context.Context, *model.Binding) error { return f.err }

func newFakeStore() *fakeStore {
	return &fakeStore{bindings: make(map[string]*model.Binding)}
}

func (f *fakeStore) GetBinding(_ context.Context, _ int64, name string) (*model.Binding, error) {
	b, ok := f.bindings[name]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) CreateBinding(_ context.Context, b *model.Binding) error {
	f.creates++
	b.ID = int64(len(f.bindings) + 1)
	cp := *b
	f.bindings[b.VariableName] = &cp
	return nil
}

func (f *fakeStore) UpdateBinding(_ context.Context, b *model.Binding) error {
	f.updates++
	cp := *b
	f.bindings[b.VariableName] = &cp
	return nil
}

func (f *fakeStore) UpsertCategoryStats(_ context.Context, stats []model.CategoryStat) error {
	f.stats = append(f.stats, stats...)
	return nil
}

// lookupAndApply looks the binding up the way the importer does, then
// applies p.
func lookupAndApply(t *testing.T, m *Manager, st *fakeStore, p Params) (*model.Binding, Outcome) {
	t.Helper()
	ctx := context.Background()
	existing, err := st.GetBinding(ctx, p.SurveyID, p.VariableName)
	require.NoError(t, err)
	b, outcome, err := m.Apply(ctx, st, existing, p)
	require.NoError(t, err)
	return b, outcome
}

func TestApply(t *testing.T) {
	st := newFakeStore()
	m := NewManager()
	p := Params{SurveyID: 1, VariableID: 10, VariableName: "Q1", Universe: "Tous"}

	b, outcome := lookupAndApply(t, m, st, p)
	assert.Equal(t, Created, outcome)
	assert.True(t, outcome.Changed())
	assert.Equal(t, int64(10), b.VariableID)

	st.bindings["Q1"].IsIndexed = true
	b, outcome = lookupAndApply(t, m, st, p)
	assert.Equal(t, Unchanged, outcome)
	assert.False(t, outcome.Changed())
	assert.True(t, b.IsIndexed)
	assert.Equal(t, 1, st.creates)
	assert.Zero(t, st.updates)
}

func TestApply_FieldChanges(t *testing.T) {
	tests := []struct {
		name   string
		change func(p *Params)
	}{
		{"variable", func(p *Params) { p.VariableID = 11 }},
		{"universe", func(p *Params) { p.Universe = "Adultes" }},
		{"notes", func(p *Params) { p.Notes = "recodée" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newFakeStore()
			m := NewManager()
			p := Params{SurveyID: 1, VariableID: 10, VariableName: "Q1", Universe: "Tous"}

			first, _ := lookupAndApply(t, m, st, p)
			st.bindings["Q1"].IsIndexed = true

			tt.change(&p)
			b, outcome := lookupAndApply(t, m, st, p)
			assert.Equal(t, Updated, outcome)
			assert.Equal(t, first.ID, b.ID)
			assert.False(t, b.IsIndexed)
			assert.Equal(t, p.VariableID, st.bindings["Q1"].VariableID)
			assert.Equal(t, p.Universe, st.bindings["Q1"].Universe)
			assert.Equal(t, p.Notes, st.bindings["Q1"].Notes)
			assert.Equal(t, 1, st.updates)
		})
	}
}

func TestApply_RejectsForeignBinding(t *testing.T) {
	st := newFakeStore()
	existing := &model.Binding{ID: 5, SurveyID: 2, VariableName: "Q1"}

	_, _, err := NewManager().Apply(context.Background(), st, existing, Params{SurveyID: 1, VariableName: "Q1"})
	require.Error(t, err)
	assert.Zero(t, st.updates)
}

func TestApply_CreateError(t *testing.T) {
	st := &failingStore{fakeStore: newFakeStore(), err: errors.New("disk I/O error")}

	_, _, err := NewManager().Apply(context.Background(), st, nil, Params{SurveyID: 1, VariableName: "Q1"})
	assert.ErrorIs(t, err, st.err)
	assert.Contains(t, err.Error(), "binding: create Q1")
}

func TestRecordStats(t *testing.T) {
	st := newFakeStore()
	n1, n2 := int64(120), int64(0)
	resolved := []category.Resolved{
		{Category: model.Category{ID: 1}, Stat: &n1},
		{Category: model.Category{ID: 2}},
		{Category: model.Category{ID: 3}, Stat: &n2},
	}

	require.NoError(t, NewManager().RecordStats(context.Background(), st, 7, resolved))
	assert.Equal(t, []model.CategoryStat{
		{BindingID: 7, CategoryID: 1, Stat: 120},
		{BindingID: 7, CategoryID: 3, Stat: 0},
	}, st.stats)
}

func TestRecordStats_NoStats(t *testing.T) {
	st := newFakeStore()
	require.NoError(t, NewManager().RecordStats(context.Background(), st, 7, []category.Resolved{{Category: model.Category{ID: 1}}}))
	assert.Nil(t, st.stats)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "unchanged", Unchanged.String())
}
