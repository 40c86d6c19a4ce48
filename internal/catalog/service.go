package catalog

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ddi-catalog/internal/ddi"
	"github.com/sells-group/ddi-catalog/internal/model"
	"github.com/sells-group/ddi-catalog/internal/store"
)

// Index removes documents of deleted bindings from the search index.
type Index interface {
	DeleteMany(ctx context.Context, bindingIDs []int64) error
	Clear(ctx context.Context) (int64, error)
}

// Service runs catalog maintenance against the store and the search index.
// A nil Index skips index cleanup; PruneOrphans repairs it later.
type Service struct {
	store store.Store
	index Index
	log   *zap.Logger
}

// New creates a Service.
func New(st store.Store, index Index) *Service {
	return &Service{
		store: st,
		index: index,
		log:   zap.L().With(zap.String("component", "catalog")),
	}
}

// SurveyImportResult counts what ImportSurveys did.
type SurveyImportResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// ImportSurveys stores records in one transaction. A record whose survey
// already exists with the same fields is skipped; one that differs fails the
// whole file with ErrSurveyExists.
func (s *Service) ImportSurveys(ctx context.Context, records []SurveyRecord) (SurveyImportResult, error) {
	var res SurveyImportResult
	err := s.store.InTx(ctx, func(tx store.Catalog) error {
		res = SurveyImportResult{}
		for _, rec := range records {
			created, err := importSurvey(ctx, tx, rec)
			if err != nil {
				return err
			}
			if created {
				res.Created++
			} else {
				res.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return SurveyImportResult{}, err
	}

	s.log.Info("survey catalog imported",
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func importSurvey(ctx context.Context, tx store.Catalog, rec SurveyRecord) (bool, error) {
	dist, err := tx.GetOrCreateDistributor(ctx, rec.Distributor)
	if err != nil {
		return false, eris.Wrapf(err, "line %d", rec.Line)
	}
	col, err := tx.GetOrCreateCollection(ctx, rec.Collection, &dist.ID)
	if err != nil {
		return false, eris.Wrapf(err, "line %d", rec.Line)
	}
	sub, err := tx.GetOrCreateSubcollection(ctx, rec.Subcollection, &col.ID)
	if err != nil {
		return false, eris.Wrapf(err, "line %d", rec.Line)
	}

	survey := rec.Survey
	survey.SubcollectionID = &sub.ID

	existing, err := tx.GetSurveyByRef(ctx, survey.ExternalRef)
	switch {
	case err == nil:
		if sameSurvey(existing, &survey) {
			return false, nil
		}
		return false, eris.Wrapf(ErrSurveyExists, "line %d: survey %s", rec.Line, survey.ExternalRef)
	case !eris.Is(err, store.ErrNotFound):
		return false, eris.Wrapf(err, "line %d", rec.Line)
	}

	if err := tx.CreateSurvey(ctx, &survey); err != nil {
		return false, eris.Wrapf(err, "line %d", rec.Line)
	}
	return true, nil
}

// DeleteResult describes a survey deletion.
type DeleteResult struct {
	Survey   *model.Survey     `json:"survey"`
	Bindings int               `json:"bindings"`
	Sweep    model.SweepResult `json:"sweep"`
}

// DeleteSurvey deletes the survey identified by ref, its bindings and stats,
// then sweeps the variables, conceptual variables and categories left
// without users. The bindings' index documents are removed after commit; an
// index failure is logged and left for PruneOrphans.
func (s *Service) DeleteSurvey(ctx context.Context, ref string) (*DeleteResult, error) {
	start := time.Now()
	var (
		res DeleteResult
		ids []int64
	)

	err := s.store.InTx(ctx, func(tx store.Catalog) error {
		survey, err := tx.GetSurveyByRef(ctx, ref)
		if err != nil {
			return err
		}
		ids, err = tx.DeleteSurvey(ctx, survey.ID)
		if err != nil {
			return err
		}
		sweep, err := tx.SweepOrphans(ctx)
		if err != nil {
			return err
		}
		res = DeleteResult{Survey: survey, Bindings: len(ids), Sweep: *sweep}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: delete survey %s", ref)
	}

	if s.index != nil && len(ids) > 0 {
		if err := s.index.DeleteMany(ctx, ids); err != nil {
			s.log.Warn("index cleanup failed, run prune to repair",
				zap.String("survey", ref),
				zap.Int("documents", len(ids)),
				zap.Error(err))
		}
	}

	s.log.Info("survey deleted",
		zap.String("survey", ref),
		zap.Int("bindings", res.Bindings),
		zap.Int64("variables", res.Sweep.Variables),
		zap.Int64("conceptuals", res.Sweep.Conceptuals),
		zap.Int64("categories", res.Sweep.Categories),
		zap.Duration("elapsed", time.Since(start)))
	return &res, nil
}

// CheckDuplicates returns the variable names of doc already bound for its
// survey, in document order.
func (s *Service) CheckDuplicates(ctx context.Context, doc *ddi.Document) ([]string, error) {
	names, err := s.store.BoundVariableNames(ctx, doc.SurveyRef, doc.VariableNames())
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: check duplicates of %s", doc.SurveyRef)
	}
	return names, nil
}

// Reset wipes every catalog table and, when an index is configured, every
// index document. It returns the number of documents removed.
func (s *Service) Reset(ctx context.Context) (int64, error) {
	if err := s.store.InTx(ctx, func(tx store.Catalog) error {
		return tx.Reset(ctx)
	}); err != nil {
		return 0, eris.Wrap(err, "catalog: reset store")
	}

	var removed int64
	if s.index != nil {
		n, err := s.index.Clear(ctx)
		if err != nil {
			return 0, eris.Wrap(err, "catalog: clear index")
		}
		removed = n
	}

	s.log.Warn("catalog reset", zap.Int64("documents_removed", removed))
	return removed, nil
}

// Counts returns the current table sizes.
func (s *Service) Counts(ctx context.Context) (*model.CatalogCounts, error) {
	return s.store.Counts(ctx)
}
