// Package ddi turns DDI-Codebook XML documents into import rows.
package ddi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ddi-catalog/internal/fetcher"
	"github.com/sells-group/ddi-catalog/internal/model"
)

// RefPrefix is the prefix every accepted survey identifier carries.
const RefPrefix = "doi:"

var (
	// ErrNoIdentifier is returned when a document has no IDNo element.
	ErrNoIdentifier = eris.New("ddi: no IDNo element")

	// ErrInvalidIdentifier is returned when the survey identifier does not
	// start with RefPrefix.
	ErrInvalidIdentifier = eris.New("ddi: invalid identifier")
)

// IdentifierError carries the rejected identifier.
type IdentifierError struct {
	Identifier string
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q (must start with %q)", e.Identifier, RefPrefix)
}

func (e *IdentifierError) Unwrap() error { return ErrInvalidIdentifier }

// Document is one parsed codebook.
type Document struct {
	Name      string
	SurveyRef string
	Rows      []model.Row
}

// VariableNames returns the variable names of the document in order.
func (d *Document) VariableNames() []string {
	names := make([]string, len(d.Rows))
	for i, r := range d.Rows {
		names[i] = r.VariableName
	}
	return names
}

type idNo struct {
	Agency string `xml:"agency,attr"`
	Value  string `xml:",chardata"`
}

type catStat struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type catgry struct {
	Missing string    `xml:"missing,attr"`
	Value   []string  `xml:"catValu"`
	Labels  []string  `xml:"labl"`
	Stats   []catStat `xml:"catStat"`
}

type variable struct {
	Name       string   `xml:"name,attr"`
	Labels     []string `xml:"labl"`
	Questions  []string `xml:"qstn>qstnLit"`
	Universes  []string `xml:"universe"`
	Notes      []string `xml:"notes"`
	Categories []catgry `xml:"catgry"`
}

// Parser reads DDI-Codebook documents.
type Parser struct {
	workers int
	log     *zap.Logger
}

// NewParser creates a Parser that reads at most workers files at a time.
func NewParser(workers int) *Parser {
	if workers <= 0 {
		workers = 1
	}
	return &Parser{
		workers: workers,
		log:     zap.L().With(zap.String("component", "ddi")),
	}
}

// Parse reads one document. The survey identifier comes from the IDNo with
// agency="DataCite", falling back to the first IDNo.
func (p *Parser) Parse(ctx context.Context, name string, r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "ddi: read %s", name)
	}

	ref, err := identifier(ctx, data)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(ref, RefPrefix) {
		return nil, &IdentifierError{Identifier: ref}
	}

	doc := &Document{Name: name, SurveyRef: ref}
	varCh, errCh := fetcher.StreamXML[variable](ctx, bytes.NewReader(data), "var")
	n := 0
	for v := range varCh {
		n++
		varName := strings.TrimSpace(v.Name)
		if varName == "" {
			// Drain so the decoder goroutine can exit.
			for range varCh {
			}
			<-errCh
			return nil, eris.Errorf("ddi: var %d has no name attribute", n)
		}
		doc.Rows = append(doc.Rows, model.Row{
			SurveyRef:     ref,
			VariableName:  varName,
			VariableLabel: first(v.Labels),
			QuestionText:  first(v.Questions),
			Categories:    categoryString(v.Categories),
			Universe:      first(v.Universes),
			Notes:         first(v.Notes),
		})
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "ddi: decode variables")
	}

	p.log.Debug("parsed document",
		zap.String("name", name),
		zap.String("survey", ref),
		zap.Int("variables", len(doc.Rows)))
	return doc, nil
}

// ParseFile opens and parses the document at path.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ddi: open file")
	}
	defer f.Close() //nolint:errcheck

	return p.Parse(ctx, filepath.Base(path), f)
}

// ParseFiles parses every path concurrently and returns the documents that
// parsed, in the order of paths, plus one message per failed file. Invalid
// identifiers are reported once however many files carry them. The error is
// only set when ctx ends.
func (p *Parser) ParseFiles(ctx context.Context, paths []string) ([]*Document, []string, error) {
	docs := make([]*Document, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, path := range paths {
		g.Go(func() error {
			doc, err := p.ParseFile(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				errs[i] = err
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "ddi: parse files")
	}

	var (
		out      []*Document
		problems []string
		seen     = make(map[string]bool)
	)
	for i, path := range paths {
		if docs[i] != nil {
			out = append(out, docs[i])
			continue
		}

		name := filepath.Base(path)
		var idErr *IdentifierError
		if errors.As(errs[i], &idErr) {
			if seen[idErr.Identifier] {
				continue
			}
			seen[idErr.Identifier] = true
			problems = append(problems, fmt.Sprintf("%s: %s", name, idErr.Error()))
			continue
		}
		problems = append(problems, fmt.Sprintf("%s: parse error: %v", name, errs[i]))
	}

	if len(problems) > 0 {
		p.log.Warn("some documents were rejected",
			zap.Int("files", len(paths)),
			zap.Int("rejected", len(problems)))
	}
	return out, problems, nil
}

// Rows flattens the rows of docs in order.
func Rows(docs []*Document) []model.Row {
	var rows []model.Row
	for _, d := range docs {
		rows = append(rows, d.Rows...)
	}
	return rows
}

func identifier(ctx context.Context, data []byte) (string, error) {
	idCh, errCh := fetcher.StreamXML[idNo](ctx, bytes.NewReader(data), "IDNo")

	var fallback, datacite *string
	for id := range idCh {
		v := strings.TrimSpace(id.Value)
		if fallback == nil {
			fallback = &v
		}
		if datacite == nil && id.Agency == "DataCite" {
			datacite = &v
		}
	}
	if err := <-errCh; err != nil {
		return "", eris.Wrap(err, "ddi: decode IDNo")
	}

	switch {
	case datacite != nil:
		return *datacite, nil
	case fallback != nil:
		return *fallback, nil
	}
	return "", ErrNoIdentifier
}

// categoryString renders categories in the "stat \ code \ label \ missing"
// form, entries joined by " | ". Separator characters inside values are
// replaced so the string always splits back into the same entries.
func categoryString(cats []catgry) string {
	if len(cats) == 0 {
		return ""
	}

	parts := make([]string, len(cats))
	for i, c := range cats {
		missing := ""
		if strings.EqualFold(c.Missing, "Y") {
			missing = "missing"
		}
		parts[i] = strings.Join([]string{
			frequency(c.Stats),
			sanitize(first(c.Value)),
			sanitize(first(c.Labels)),
			missing,
		}, ` \ `)
	}
	return strings.Join(parts, " | ")
}

var separators = strings.NewReplacer("|", "/", `\`, "/")

func sanitize(s string) string {
	return separators.Replace(s)
}

// frequency returns the integral catStat type="freq" value, or "" when
// there is none. Counts exported as "12.0" are accepted.
func frequency(stats []catStat) string {
	for _, s := range stats {
		if s.Type != "freq" {
			continue
		}
		raw := strings.TrimSpace(s.Value)
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return strconv.FormatInt(n, 10)
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
		return ""
	}
	return ""
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
