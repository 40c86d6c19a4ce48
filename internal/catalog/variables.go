package catalog

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ddi-catalog/internal/fetcher"
	"github.com/sells-group/ddi-catalog/internal/model"
)

// VariableColumns are the columns of a variable file, in their usual order.
var VariableColumns = []string{
	"doi", "variable_name", "variable_label", "question_text",
	"category_label", "universe", "notes",
}

// ReadVariables reads a delimited variable file into import rows. Columns
// are located by header name; short records are rejected with their line
// number.
func ReadVariables(ctx context.Context, r io.Reader, delimiter rune) ([]model.Row, error) {
	header, records, err := fetcher.ReadCSV(ctx, r, fetcher.CSVOptions{
		Delimiter: delimiter,
		HasHeader: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read variables")
	}
	if header == nil {
		return nil, nil
	}

	cols, err := columnIndex(header, VariableColumns)
	if err != nil {
		return nil, err
	}
	width := 0
	for _, j := range cols {
		width = max(width, j+1)
	}

	rows := make([]model.Row, 0, len(records))
	for i, rec := range records {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) < width {
			return nil, eris.Wrapf(ErrInvalidRow, "line %d: expected %d fields, got %d", i+1, width, len(rec))
		}
		rows = append(rows, model.Row{
			SurveyRef:     strings.TrimSpace(rec[cols["doi"]]),
			VariableName:  strings.TrimSpace(rec[cols["variable_name"]]),
			VariableLabel: rec[cols["variable_label"]],
			QuestionText:  rec[cols["question_text"]],
			Categories:    rec[cols["category_label"]],
			Universe:      rec[cols["universe"]],
			Notes:         rec[cols["notes"]],
		})
	}
	return rows, nil
}
