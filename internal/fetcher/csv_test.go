package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	input := "\ufeffdoi;variable_name;question_text\n" +
		"doi:10.1/a; Q1 ;\"Quel âge; avez-vous ?\"\n" +
		"doi:10.1/a;Q2;\n"

	header, rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: ';',
		HasHeader: true,
		TrimSpace: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"doi", "variable_name", "question_text"}, header)
	assert.Equal(t, [][]string{
		{"doi:10.1/a", "Q1", "Quel âge; avez-vous ?"},
		{"doi:10.1/a", "Q2", ""},
	}, rows)
}

func TestReadCSV_NoHeader(t *testing.T) {
	header, rows, err := ReadCSV(context.Background(), strings.NewReader("a,b\nc\n"), CSVOptions{})
	require.NoError(t, err)
	assert.Nil(t, header)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, rows, "ragged records are allowed")
}

func TestStreamCSV_HeaderDroppedWithoutChannel(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("h1,h2\nv1,v2\n"), CSVOptions{HasHeader: true})
	var rows [][]string
	for r := range rowCh {
		rows = append(rows, r)
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, [][]string{{"v1", "v2"}}, rows)
}

func TestReadCSV_BadQuotes(t *testing.T) {
	_, _, err := ReadCSV(context.Background(), strings.NewReader("a,\"b\nc"), CSVOptions{})
	assert.Error(t, err)

	_, rows, err := ReadCSV(context.Background(), strings.NewReader("a,b\"c\n"), CSVOptions{LazyQuotes: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b\"c"}}, rows)
}

func TestReadCSV_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := ReadCSV(ctx, strings.NewReader("a\n"), CSVOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
