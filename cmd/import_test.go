package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ddi-catalog/internal/config"
	"github.com/sells-group/ddi-catalog/internal/importer"
	"github.com/sells-group/ddi-catalog/internal/model"
)

func TestFinishRun(t *testing.T) {
	tests := []struct {
		name     string
		res      model.ImportResult
		err      error
		problems []string
		want     model.ImportStatus
	}{
		{"clean", model.ImportResult{Rows: 3}, nil, nil, model.ImportStatusComplete},
		{"some surveys failed", model.ImportResult{Rows: 3}, &importer.ImportError{Messages: []string{`survey "doi:X" not found`}}, nil, model.ImportStatusPartial},
		{"every survey failed", model.ImportResult{}, &importer.ImportError{Messages: []string{"x"}}, nil, model.ImportStatusFailed},
		{"rejected files", model.ImportResult{Rows: 1}, nil, []string{"bad.xml: parse error"}, model.ImportStatusPartial},
		{"fatal error", model.ImportResult{Rows: 1}, errors.New("store down"), nil, model.ImportStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &model.ImportRun{ID: "run"}
			finishRun(run, tt.res, tt.err, tt.problems)
			assert.Equal(t, tt.want, run.Status)
			assert.Equal(t, tt.res, run.Result)
			if tt.want == model.ImportStatusComplete {
				assert.Empty(t, run.Error)
			} else {
				assert.NotEmpty(t, run.Error)
			}
		})
	}
}

func TestPrintImportResult(t *testing.T) {
	var buf bytes.Buffer
	printImportResult(&buf, &model.ImportRun{
		ID:     "abc12345-0000",
		Status: model.ImportStatusPartial,
		Result: model.ImportResult{Rows: 2, NewVariables: 1, NewBindings: 2},
		Error:  `survey "doi:X" not found`,
	})
	out := buf.String()
	assert.Contains(t, out, "abc12345: partial")
	assert.Contains(t, out, "new bindings:      2")
	assert.Contains(t, out, `survey "doi:X" not found`)
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "ddi.zip", downloadName("https://example.org/files/ddi.zip?token=1"))
	assert.Equal(t, "download.xml", downloadName("https://example.org/"))
	assert.Equal(t, "download.xml", downloadName("::bad"))
}

func TestSourceLabel(t *testing.T) {
	assert.Equal(t, "xml:a.xml,https://example.org/b.xml",
		sourceLabel("xml", []string{"/tmp/a.xml"}, []string{"https://example.org/b.xml"}))
	long := sourceLabel("xml", []string{string(bytes.Repeat([]byte("a"), 300))}, nil)
	assert.Len(t, long, 200)
}

func TestImportRows_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg = &config.Config{
		Store:  config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "ddi.db")},
		Import: config.ImportConfig{BatchSize: 50, XMLWorkers: 2},
	}
	ctx := context.Background()

	st, err := openStore(ctx)
	require.NoError(t, err)
	require.NoError(t, st.CreateSurvey(ctx, &model.Survey{ExternalRef: "doi:A", Name: "A", Language: "fr"}))
	require.NoError(t, st.Close())

	xmlPath := filepath.Join(dir, "a.xml")
	require.NoError(t, os.WriteFile(xmlPath, []byte(`<codeBook><IDNo agency="DataCite">doi:A</IDNo>
		<var name="Q1"><labl>Age</labl><qstn><qstnLit>Quel âge ?</qstnLit></qstn>
		<catgry><catValu>1</catValu><labl>Jeune</labl><catStat type="freq">5</catStat></catgry></var>
	</codeBook>`), 0o644))

	importXMLCmd.SetContext(ctx)
	require.NoError(t, importXMLCmd.RunE(importXMLCmd, []string{xmlPath}))

	st, err = openStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	runs, err := st.ListImportRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.ImportStatusComplete, runs[0].Status)
	assert.Equal(t, model.ImportResult{Rows: 1, NewVariables: 1, NewBindings: 1}, runs[0].Result)

	c, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Bindings)
	assert.Equal(t, int64(1), c.Unindexed, "no index configured")
}
