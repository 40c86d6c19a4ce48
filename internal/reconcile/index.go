package reconcile

import (
	"github.com/sells-group/ddi-catalog/internal/model"
	"github.com/sells-group/ddi-catalog/internal/normalize"
)

// Key returns the comparison key of a raw or stored question text.
func Key(text string) string {
	return normalize.ForComparison(normalize.ForStorage(text))
}

// QuestionIndex maps comparison keys to the represented variables sharing
// that question text, in insertion order. It is built once per import so
// that rows from every survey of the batch can merge with each other.
//
// Additions made between Begin and Rollback are undone, which keeps the
// index in step with a survey group whose transaction was rolled back.
type QuestionIndex struct {
	byKey   map[string][]*model.RepresentedVariable
	journal []string
	open    bool
}

// BuildQuestionIndex indexes vars by the comparison key of their question
// text. Variables without question text are skipped.
func BuildQuestionIndex(vars []*model.RepresentedVariable) *QuestionIndex {
	idx := &QuestionIndex{byKey: make(map[string][]*model.RepresentedVariable, len(vars))}
	for _, v := range vars {
		if k := Key(v.Question()); k != "" {
			idx.byKey[k] = append(idx.byKey[k], v)
		}
	}
	return idx
}

// Lookup returns the variables indexed under key.
func (idx *QuestionIndex) Lookup(key string) []*model.RepresentedVariable {
	return idx.byKey[key]
}

// Add appends v under key.
func (idx *QuestionIndex) Add(key string, v *model.RepresentedVariable) {
	if key == "" {
		return
	}
	idx.byKey[key] = append(idx.byKey[key], v)
	if idx.open {
		idx.journal = append(idx.journal, key)
	}
}

// Begin starts recording additions.
func (idx *QuestionIndex) Begin() {
	idx.open = true
	idx.journal = idx.journal[:0]
}

// Commit keeps the additions recorded since Begin.
func (idx *QuestionIndex) Commit() {
	idx.open = false
	idx.journal = idx.journal[:0]
}

// Rollback removes the additions recorded since Begin.
func (idx *QuestionIndex) Rollback() {
	for i := len(idx.journal) - 1; i >= 0; i-- {
		k := idx.journal[i]
		vars := idx.byKey[k]
		if len(vars) <= 1 {
			delete(idx.byKey, k)
			continue
		}
		idx.byKey[k] = vars[:len(vars)-1]
	}
	idx.Commit()
}

// Len returns the number of distinct keys.
func (idx *QuestionIndex) Len() int {
	return len(idx.byKey)
}
