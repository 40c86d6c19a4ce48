// Package category parses category strings and resolves them to shared
// Category rows.
package category

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ddi-catalog/internal/model"
	"github.com/sells-group/ddi-catalog/internal/normalize"
)

// ErrMalformed is returned when a category entry does not split into the
// expected number of fields.
var ErrMalformed = eris.New("malformed category string")

const (
	entrySep = "|"
	richSep  = `\`
)

// Entry is one parsed category. Stat and Missing are only set by the rich
// "stat \ code \ label \ missing" format.
type Entry struct {
	Code    string
	Label   string
	Stat    *int64
	Missing *bool
}

// Parse splits a category string of the form "code,label | code,label" or
// "stat \ code \ label \ missing | ..." into entries. An empty string yields
// no entries.
func Parse(s string) ([]Entry, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, entrySep)
	entries := make([]Entry, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, eris.Wrapf(ErrMalformed, "entry %d is empty", i+1)
		}

		var (
			e   Entry
			err error
		)
		if isRich(part) {
			e, err = parseRich(part)
		} else {
			e, err = parsePair(part)
		}
		if err != nil {
			return nil, eris.Wrapf(err, "entry %d %q", i+1, part)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// isRich reports whether part splits into exactly the four fields of the
// rich format. Any other backslash count leaves it a code,label pair whose
// label may contain backslashes.
func isRich(part string) bool {
	return strings.Count(part, richSep) == 3
}

func parsePair(part string) (Entry, error) {
	code, label, ok := strings.Cut(part, ",")
	if !ok {
		return Entry{}, eris.Wrap(ErrMalformed, "expected code,label")
	}
	return Entry{Code: strings.TrimSpace(code), Label: strings.TrimSpace(label)}, nil
}

func parseRich(part string) (Entry, error) {
	fields := strings.SplitN(part, richSep, 4)
	if len(fields) != 4 {
		return Entry{}, eris.Wrapf(ErrMalformed, "expected 4 fields, got %d", len(fields))
	}

	e := Entry{
		Code:  strings.TrimSpace(fields[1]),
		Label: strings.TrimSpace(fields[2]),
	}

	if raw := strings.TrimSpace(fields[0]); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Entry{}, eris.Wrapf(ErrMalformed, "stat %q is not an integer", raw)
		}
		e.Stat = &n
	}

	missing := strings.EqualFold(strings.TrimSpace(fields[3]), "missing")
	e.Missing = &missing

	return e, nil
}

type key struct {
	code  string
	label string
}

// Match reports whether the categories described by s are exactly the set
// of existing categories, ignoring order.
func Match(s string, existing []model.Category) (bool, error) {
	entries, err := Parse(s)
	if err != nil {
		return false, err
	}
	return MatchEntries(entries, existing), nil
}

// MatchEntries compares parsed entries with existing categories as sets of
// (code, comparison-normalized label) pairs.
func MatchEntries(entries []Entry, existing []model.Category) bool {
	want := make(map[key]struct{}, len(entries))
	for _, e := range entries {
		want[key{e.Code, normalize.ForComparison(normalize.ForStorage(e.Label))}] = struct{}{}
	}

	have := make(map[key]struct{}, len(existing))
	for _, c := range existing {
		have[key{c.Code, normalize.ForComparison(c.Label)}] = struct{}{}
	}

	if len(want) != len(have) {
		return false
	}
	for k := range want {
		if _, ok := have[k]; !ok {
			return false
		}
	}
	return true
}

// Store is the persistence needed to resolve categories.
type Store interface {
	GetOrCreateCategory(ctx context.Context, code, label string, missing bool) (*model.Category, error)
	SetCategoryMissing(ctx context.Context, id int64, missing bool) error
}

// Resolved pairs a stored category with the stat parsed for it.
type Resolved struct {
	Category model.Category
	Stat     *int64
}

// Resolve gets or creates a Category for every entry, keyed by code and
// storage-normalized label. A supplied missing flag that differs from the
// stored one is written back, which affects every variable sharing the
// category. Duplicate entries collapse to one result; the last stat wins.
func Resolve(ctx context.Context, st Store, entries []Entry) ([]Resolved, error) {
	out := make([]Resolved, 0, len(entries))
	pos := make(map[int64]int, len(entries))

	for _, e := range entries {
		label := normalize.ForStorage(e.Label)
		missing := e.Missing != nil && *e.Missing

		cat, err := st.GetOrCreateCategory(ctx, e.Code, label, missing)
		if err != nil {
			return nil, eris.Wrapf(err, "category: get or create %s,%s", e.Code, label)
		}

		if e.Missing != nil && cat.Missing != *e.Missing {
			if err := st.SetCategoryMissing(ctx, cat.ID, *e.Missing); err != nil {
				return nil, eris.Wrapf(err, "category: update missing flag of %d", cat.ID)
			}
			zap.L().Debug("category missing flag changed",
				zap.Int64("category_id", cat.ID),
				zap.String("code", cat.Code),
				zap.Bool("missing", *e.Missing),
			)
			cat.Missing = *e.Missing
		}

		if i, ok := pos[cat.ID]; ok {
			if e.Stat != nil {
				out[i].Stat = e.Stat
			}
			continue
		}
		pos[cat.ID] = len(out)
		out = append(out, Resolved{Category: *cat, Stat: e.Stat})
	}
	return out, nil
}

// Categories extracts the category rows from resolved entries.
func Categories(resolved []Resolved) []model.Category {
	cats := make([]model.Category, len(resolved))
	for i, r := range resolved {
		cats[i] = r.Category
	}
	return cats
}
