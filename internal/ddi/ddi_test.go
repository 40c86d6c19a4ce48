package ddi

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ddi-catalog/internal/category"
	"github.com/sells-group/ddi-catalog/internal/model"
)

const codebook = `<?xml version="1.0" encoding="UTF-8"?>
<codeBook xmlns="ddi:codebook:2_5">
  <stdyDscr><citation><titlStmt>
    <IDNo agency="CDSP">cdsp-0042</IDNo>
    <IDNo agency="DataCite">doi:10.21410/7E4/ABC123</IDNo>
  </titlStmt></citation></stdyDscr>
  <dataDscr>
    <var name=" Q1 ">
      <labl>Age</labl>
      <qstn><qstnLit> Quel âge avez-vous ? </qstnLit></qstn>
      <universe>Tous</universe>
      <catgry><catValu>1</catValu><labl>Moins de 25</labl><catStat type="freq">12</catStat></catgry>
      <catgry missing="Y"><catValu>9</catValu><labl>NSP | refus</labl><catStat type="percent">3.1</catStat><catStat type="freq">4.0</catStat></catgry>
    </var>
    <varGrp>
      <var name="V2">
        <labl>Poids</labl>
        <notes>Calculé</notes>
      </var>
    </varGrp>
  </dataDscr>
</codeBook>`

func TestParse(t *testing.T) {
	doc, err := NewParser(1).Parse(context.Background(), "survey.xml", strings.NewReader(codebook))
	require.NoError(t, err)

	assert.Equal(t, "survey.xml", doc.Name)
	assert.Equal(t, "doi:10.21410/7E4/ABC123", doc.SurveyRef, "DataCite identifier wins")
	assert.Equal(t, []model.Row{
		{
			SurveyRef:     "doi:10.21410/7E4/ABC123",
			VariableName:  "Q1",
			VariableLabel: "Age",
			QuestionText:  "Quel âge avez-vous ?",
			Categories:    `12 \ 1 \ Moins de 25 \  | 4 \ 9 \ NSP / refus \ missing`,
			Universe:      "Tous",
		},
		{
			SurveyRef:     "doi:10.21410/7E4/ABC123",
			VariableName:  "V2",
			VariableLabel: "Poids",
			Notes:         "Calculé",
		},
	}, doc.Rows)
	assert.Equal(t, []string{"Q1", "V2"}, doc.VariableNames())
}

func TestParse_CategoriesRoundTrip(t *testing.T) {
	doc, err := NewParser(1).Parse(context.Background(), "survey.xml", strings.NewReader(codebook))
	require.NoError(t, err)

	entries, err := category.Parse(doc.Rows[0].Categories)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "1", entries[0].Code)
	assert.Equal(t, "Moins de 25", entries[0].Label)
	require.NotNil(t, entries[0].Stat)
	assert.Equal(t, int64(12), *entries[0].Stat)
	assert.False(t, *entries[0].Missing)

	assert.Equal(t, "9", entries[1].Code)
	require.NotNil(t, entries[1].Stat)
	assert.Equal(t, int64(4), *entries[1].Stat)
	assert.True(t, *entries[1].Missing)
}

func TestParse_FallbackIdentifier(t *testing.T) {
	input := `<codeBook><IDNo> doi:10.1/plain </IDNo><var name="A"/></codeBook>`
	doc, err := NewParser(1).Parse(context.Background(), "a.xml", strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "doi:10.1/plain", doc.SurveyRef)
	require.Len(t, doc.Rows, 1)
	assert.Equal(t, "", doc.Rows[0].Categories)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"no identifier", `<codeBook><var name="A"/></codeBook>`, ErrNoIdentifier},
		{"not a doi", `<codeBook><IDNo>hdl:123</IDNo></codeBook>`, ErrInvalidIdentifier},
		{"unnamed var", `<codeBook><IDNo>doi:1</IDNo><var name="A"/><var/></codeBook>`, nil},
		{"truncated", `<codeBook><IDNo>doi:1</IDNo><var name="A">`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(1).Parse(context.Background(), "x.xml", strings.NewReader(tt.input))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFiles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "a.xml", `<codeBook><IDNo>doi:A</IDNo><var name="A1"/></codeBook>`),
		writeFile(t, dir, "bad1.xml", `<codeBook><IDNo>hdl:X</IDNo></codeBook>`),
		writeFile(t, dir, "b.xml", `<codeBook><IDNo>doi:B</IDNo><var name="B1"/><var name="B2"/></codeBook>`),
		writeFile(t, dir, "bad2.xml", `<codeBook><IDNo>hdl:X</IDNo></codeBook>`),
		writeFile(t, dir, "broken.xml", `<codeBook><IDNo>doi:C`),
		filepath.Join(dir, "missing.xml"),
	}

	docs, problems, err := NewParser(3).ParseFiles(context.Background(), paths)
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, "doi:A", docs[0].SurveyRef)
	assert.Equal(t, "doi:B", docs[1].SurveyRef)

	rows := Rows(docs)
	require.Len(t, rows, 3)
	assert.Equal(t, "A1", rows[0].VariableName)
	assert.Equal(t, "B2", rows[2].VariableName)

	require.Len(t, problems, 3, "the repeated invalid identifier is reported once")
	assert.Contains(t, problems[0], "bad1.xml")
	assert.Contains(t, problems[0], `"hdl:X"`)
	assert.Contains(t, problems[1], "broken.xml")
	assert.Contains(t, problems[2], "missing.xml")
}

func TestParseFiles_Cancelled(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.xml", `<codeBook><IDNo>doi:A</IDNo></codeBook>`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewParser(1).ParseFiles(ctx, []string{path})
	assert.Error(t, err)
}

func TestFrequency(t *testing.T) {
	assert.Equal(t, "", frequency(nil))
	assert.Equal(t, "7", frequency([]catStat{{Type: "freq", Value: " 7 "}}))
	assert.Equal(t, "7", frequency([]catStat{{Type: "freq", Value: "7.0"}}))
	assert.Equal(t, "", frequency([]catStat{{Type: "freq", Value: "7.5"}}))
	assert.Equal(t, "", frequency([]catStat{{Type: "percent", Value: "7"}}))
}
