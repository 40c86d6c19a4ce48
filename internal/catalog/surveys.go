// Package catalog manages surveys: importing survey catalogs, deleting
// surveys with their orphaned variables, and wiping the catalog.
package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ddi-catalog/internal/fetcher"
	"github.com/sells-group/ddi-catalog/internal/model"
)

var (
	// ErrInvalidRow is returned when a catalog or variable file row cannot
	// be used.
	ErrInvalidRow = eris.New("invalid row")

	// ErrSurveyExists is returned when a survey with the same identifier but
	// different fields is already stored.
	ErrSurveyExists = eris.New("survey already exists")
)

// SurveyColumns are the columns a survey catalog file must carry.
var SurveyColumns = []string{
	"distributor", "collection", "sous-collection", "doi", "title", "xml_lang",
	"author", "producer", "start_date", "geographic_coverage", "geographic_unit",
	"unit_of_analysis", "contact", "date_last_version",
}

const (
	refPrefix  = "doi:"
	dateLayout = "2006-01-02"
)

// SurveyRecord is one validated line of a survey catalog.
type SurveyRecord struct {
	Line          int
	Distributor   string
	Collection    string
	Subcollection string
	Survey        model.Survey
}

// ReadSurveyFile reads a survey catalog from a .xlsx workbook (first sheet)
// or a delimited text file.
func ReadSurveyFile(ctx context.Context, path string, delimiter rune) ([]SurveyRecord, error) {
	var (
		header []string
		rows   [][]string
	)

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		all, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
		if err != nil {
			return nil, eris.Wrap(err, "catalog: read workbook")
		}
		if len(all) == 0 {
			return nil, nil
		}
		header, rows = all[0], all[1:]
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "catalog: open file")
		}
		defer f.Close() //nolint:errcheck

		header, rows, err = fetcher.ReadCSV(ctx, f, fetcher.CSVOptions{
			Delimiter: delimiter,
			HasHeader: true,
		})
		if err != nil {
			return nil, eris.Wrap(err, "catalog: read csv")
		}
	}

	return ParseSurveyRows(header, rows)
}

// ParseSurveyRows validates catalog rows against header. Line numbers start
// at 1 for the first row after the header.
func ParseSurveyRows(header []string, rows [][]string) ([]SurveyRecord, error) {
	cols, err := columnIndex(header, SurveyColumns)
	if err != nil {
		return nil, err
	}

	records := make([]SurveyRecord, 0, len(rows))
	for i, row := range rows {
		line := i + 1
		get := func(name string) string {
			j := cols[name]
			if j >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[j])
		}

		ref := get("doi")
		if !strings.HasPrefix(ref, refPrefix) {
			return nil, eris.Wrapf(ErrInvalidRow, "line %d: identifier %q must start with %q", line, ref, refPrefix)
		}

		start, err := parseStartDate(get("start_date"))
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidRow, "line %d: start_date: %v", line, err)
		}
		lastVersion, err := parseLastVersion(get("date_last_version"))
		if err != nil {
			return nil, eris.Wrapf(ErrInvalidRow, "line %d: date_last_version: %v", line, err)
		}

		records = append(records, SurveyRecord{
			Line:          line,
			Distributor:   get("distributor"),
			Collection:    get("collection"),
			Subcollection: get("sous-collection"),
			Survey: model.Survey{
				ExternalRef:        ref,
				Name:               get("title"),
				Language:           get("xml_lang"),
				Author:             get("author"),
				Producer:           get("producer"),
				StartDate:          start,
				DateLastVersion:    lastVersion,
				GeographicCoverage: get("geographic_coverage"),
				GeographicUnit:     get("geographic_unit"),
				UnitOfAnalysis:     get("unit_of_analysis"),
				Contact:            get("contact"),
			},
		})
	}
	return records, nil
}

// parseStartDate accepts YYYY or YYYY-MM-DD.
func parseStartDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006", dateLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, eris.Errorf("%q is not YYYY or YYYY-MM-DD", raw)
}

// parseLastVersion accepts YYYY-MM (first of the month) or YYYY-MM-DD.
func parseLastVersion(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if len(raw) == len("2006-01") {
		raw += "-01"
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, eris.Errorf("%q is not YYYY-MM or YYYY-MM-DD", raw)
	}
	return &t, nil
}

// columnIndex maps each wanted column to its position in header. Header
// names are matched case-insensitively.
func columnIndex(header, want []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}

	cols := make(map[string]int, len(want))
	var missing []string
	for _, w := range want {
		i, ok := pos[w]
		if !ok {
			missing = append(missing, w)
			continue
		}
		cols[w] = i
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrInvalidRow, "header is missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

// sameSurvey reports whether stored carries the fields of incoming.
func sameSurvey(stored, incoming *model.Survey) bool {
	return stored.Name == incoming.Name &&
		equalID(stored.SubcollectionID, incoming.SubcollectionID) &&
		stored.Language == incoming.Language &&
		stored.Author == incoming.Author &&
		stored.Producer == incoming.Producer &&
		equalDate(stored.StartDate, incoming.StartDate) &&
		equalDate(stored.DateLastVersion, incoming.DateLastVersion) &&
		stored.GeographicCoverage == incoming.GeographicCoverage &&
		stored.GeographicUnit == incoming.GeographicUnit &&
		stored.UnitOfAnalysis == incoming.UnitOfAnalysis &&
		stored.Contact == incoming.Contact
}

func equalID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Format(dateLayout) == b.Format(dateLayout)
}
