package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/ddi-catalog/internal/model"
)

func variable(id int64, text *string) *model.RepresentedVariable {
	return &model.RepresentedVariable{ID: id, QuestionText: text}
}

func TestBuildQuestionIndex(t *testing.T) {
	a, b, empty := "Quel âge avez-vous ?", "QUEL AGE AVEZ VOUS?", ""
	idx := BuildQuestionIndex([]*model.RepresentedVariable{
		variable(1, &a), variable(2, &b), variable(3, &empty), variable(4, nil),
	})

	assert.Equal(t, 1, idx.Len())
	got := idx.Lookup(Key(a))
	if assert.Len(t, got, 2) {
		assert.Equal(t, int64(1), got[0].ID)
		assert.Equal(t, int64(2), got[1].ID)
	}
}

func TestQuestionIndex_Rollback(t *testing.T) {
	text := "Profession ?"
	idx := BuildQuestionIndex([]*model.RepresentedVariable{variable(1, &text)})
	key := Key(text)

	idx.Begin()
	idx.Add(key, variable(2, &text))
	idx.Add(Key("Revenu ?"), variable(3, nil))
	assert.Len(t, idx.Lookup(key), 2)
	assert.Equal(t, 2, idx.Len())

	idx.Rollback()
	assert.Len(t, idx.Lookup(key), 1)
	assert.Empty(t, idx.Lookup(Key("Revenu ?")))
	assert.Equal(t, 1, idx.Len())
}

func TestQuestionIndex_Commit(t *testing.T) {
	idx := BuildQuestionIndex(nil)

	idx.Begin()
	idx.Add("revenu ?", variable(1, nil))
	idx.Commit()
	idx.Rollback()

	assert.Len(t, idx.Lookup("revenu ?"), 1)
}

func TestQuestionIndex_AddIgnoresEmptyKey(t *testing.T) {
	idx := BuildQuestionIndex(nil)
	idx.Add("", variable(1, nil))
	assert.Zero(t, idx.Len())
}
