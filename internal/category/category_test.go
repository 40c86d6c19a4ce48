package category

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ddi-catalog/internal/model"
)

func TestParse_Pairs(t *testing.T) {
	entries, err := Parse("1,Moins de 25 ans | 2,25 ans et plus")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "1", entries[0].Code)
	assert.Equal(t, "Moins de 25 ans", entries[0].Label)
	assert.Nil(t, entries[0].Stat)
	assert.Nil(t, entries[0].Missing)
	assert.Equal(t, "2", entries[1].Code)
	assert.Equal(t, "25 ans et plus", entries[1].Label)
}

func TestParse_PairsWithoutSpaces(t *testing.T) {
	entries, err := Parse("1,A|2,B")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Code: "1", Label: "A"}, entries[0])
	assert.Equal(t, Entry{Code: "2", Label: "B"}, entries[1])
}

func TestParse_LabelKeepsCommas(t *testing.T) {
	entries, err := Parse("9,Ne sait pas, refus")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Ne sait pas, refus", entries[0].Label)
}

func TestParse_Rich(t *testing.T) {
	entries, err := Parse(`12 \ 1 \ Homme \ missing | 3 \ 2 \ Femme \ `)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NotNil(t, entries[0].Stat)
	assert.Equal(t, int64(12), *entries[0].Stat)
	assert.Equal(t, "1", entries[0].Code)
	assert.Equal(t, "Homme", entries[0].Label)
	require.NotNil(t, entries[0].Missing)
	assert.True(t, *entries[0].Missing)

	require.NotNil(t, entries[1].Stat)
	assert.Equal(t, int64(3), *entries[1].Stat)
	assert.Equal(t, "Femme", entries[1].Label)
	require.NotNil(t, entries[1].Missing)
	assert.False(t, *entries[1].Missing)
}

func TestParse_RichEmptyStat(t *testing.T) {
	entries, err := Parse(` \ 9 \ Refus \ missing`)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Stat)
	assert.True(t, *entries[0].Missing)
}

func TestParse_Empty(t *testing.T) {
	for _, in := range []string{"", "   "} {
		entries, err := Parse(in)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"pair without comma", "1 Homme"},
		{"empty entry", "1,A||2,B"},
		{"backslash without comma", `1 \ Homme`},
		{"rich with non-integer stat", `x \ 1 \ A \ `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestParse_PairLabelWithBackslash(t *testing.T) {
	entries, err := Parse(`1,Oui\Non | 2,A \ B \ C`)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Code: "1", Label: `Oui\Non`}, entries[0])
	assert.Equal(t, Entry{Code: "2", Label: `A \ B \ C`}, entries[1])
}

func TestParse_RichNeedsExactlyFourFields(t *testing.T) {
	entries, err := Parse(`12 \ 1 \ Homme \ `)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Stat)
	assert.Equal(t, int64(12), *entries[0].Stat)

	// Five fields is not the rich format; with a comma it is a pair.
	entries, err = Parse(`1,a \ b \ c \ d \ e`)
	require.NoError(t, err)
	assert.Equal(t, Entry{Code: "1", Label: `a \ b \ c \ d \ e`}, entries[0])
	assert.Nil(t, entries[0].Stat)
}

func TestMatch_OrderIndependent(t *testing.T) {
	existing := []model.Category{
		{ID: 2, Code: "2", Label: "B"},
		{ID: 1, Code: "1", Label: "A"},
	}
	ok, err := Match("1,A | 2,B", existing)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatch_NormalizesLabels(t *testing.T) {
	existing := []model.Category{{ID: 1, Code: "1", Label: "Très satisfait"}}
	ok, err := Match("1,tres  SATISFAIT", existing)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatch_Differs(t *testing.T) {
	existing := []model.Category{
		{ID: 1, Code: "1", Label: "A"},
		{ID: 2, Code: "2", Label: "B"},
	}

	tests := []struct {
		name  string
		input string
	}{
		{"subset", "1,A"},
		{"superset", "1,A | 2,B | 3,C"},
		{"different code", "1,A | 3,B"},
		{"different label", "1,A | 2,C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Match(tt.input, existing)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMatch_EmptyAgainstEmpty(t *testing.T) {
	ok, err := Match("", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatch_MalformedInput(t *testing.T) {
	_, err := Match("nonsense", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformed))
}

type fakeStore struct {
	nextID     int64
	cats       map[[2]string]*model.Category
	missingSet int
}

func newFakeStore() *fakeStore {
	return &fakeStore{cats: make(map[[2]string]*model.Category)}
}

func (f *fakeStore) GetOrCreateCategory(_ context.Context, code, label string, missing bool) (*model.Category, error) {
	k := [2]string{code, label}
	if c, ok := f.cats[k]; ok {
		cp := *c
		return &cp, nil
	}
	f.nextID++
	c := &model.Category{ID: f.nextID, Code: code, Label: label, Missing: missing}
	f.cats[k] = c
	cp := *c
	return &cp, nil
}

func (f *fakeStore) SetCategoryMissing(_ context.Context, id int64, missing bool) error {
	for _, c := range f.cats {
		if c.ID == id {
			c.Missing = missing
			f.missingSet++
			return nil
		}
	}
	return errors.New("not found")
}

func TestResolve_CreatesAndReuses(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()

	first, err := Resolve(ctx, st, mustParse(t, "1,Oui | 2,Non"))
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := Resolve(ctx, st, mustParse(t, "2,Non|1,Oui"))
	require.NoError(t, err)
	require.Len(t, second, 2)

	assert.Equal(t, first[0].Category.ID, second[1].Category.ID)
	assert.Equal(t, first[1].Category.ID, second[0].Category.ID)
	assert.Len(t, st.cats, 2)
}

func TestResolve_NormalizesLabelForStorage(t *testing.T) {
	st := newFakeStore()

	res, err := Resolve(context.Background(), st, mustParse(t, "1,Pourquoi?"))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Pourquoi ?", res[0].Category.Label)
}

func TestResolve_DeduplicatesAndKeepsLastStat(t *testing.T) {
	st := newFakeStore()

	res, err := Resolve(context.Background(), st, mustParse(t, `4 \ 1 \ Oui \ | 7 \ 1 \ Oui \ `))
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NotNil(t, res[0].Stat)
	assert.Equal(t, int64(7), *res[0].Stat)
}

func TestResolve_UpdatesMissingFlag(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()

	_, err := Resolve(ctx, st, mustParse(t, "9,Refus"))
	require.NoError(t, err)
	assert.Equal(t, 0, st.missingSet)

	res, err := Resolve(ctx, st, mustParse(t, `\ 9 \ Refus \ missing`))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.True(t, res[0].Category.Missing)
	assert.Equal(t, 1, st.missingSet)

	// Pair format carries no flag and leaves it alone.
	res, err = Resolve(ctx, st, mustParse(t, "9,Refus"))
	require.NoError(t, err)
	assert.True(t, res[0].Category.Missing)
	assert.Equal(t, 1, st.missingSet)
}

func TestCategories(t *testing.T) {
	res := []Resolved{
		{Category: model.Category{ID: 1, Code: "1"}},
		{Category: model.Category{ID: 2, Code: "2"}},
	}
	cats := Categories(res)
	require.Len(t, cats, 2)
	assert.Equal(t, int64(2), cats[1].ID)
}

func mustParse(t *testing.T, s string) []Entry {
	t.Helper()
	entries, err := Parse(s)
	require.NoError(t, err)
	return entries
}
