package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/ddi-catalog/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	done := now.Add(2 * time.Minute)
	runs := []model.ImportRun{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Source:      "xml:survey-a.xml,survey-b.xml",
			Status:      model.ImportStatusComplete,
			Result:      model.ImportResult{Rows: 120, NewVariables: 80, NewBindings: 120},
			StartedAt:   now,
			CompletedAt: &done,
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Source:    "csv:" + string(bytes.Repeat([]byte("x"), 60)),
			Status:    model.ImportStatusRunning,
			StartedAt: now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "SOURCE")
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "xml:survey-a.xml")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "120")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "...")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
