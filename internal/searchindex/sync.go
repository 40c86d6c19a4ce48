package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/ddi-catalog/internal/model"
	"github.com/sells-group/ddi-catalog/internal/resilience"
)

// Store is the catalog data the synchronizer reads and flags.
type Store interface {
	BindingViews(ctx context.Context, ids []int64) ([]model.BindingView, error)
	UnindexedBindingIDs(ctx context.Context, limit int) ([]int64, error)
	MarkIndexed(ctx context.Context, ids []int64) error
	ExistingBindingIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// DefaultBatchSize bounds the documents per bulk request and per scroll page.
const DefaultBatchSize = 500

const scrollKeepAlive = time.Minute

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithIndex sets the index name.
func WithIndex(name string) Option {
	return func(s *Synchronizer) {
		if name != "" {
			s.index = name
		}
	}
}

// WithRefresh controls whether writes wait for the index to refresh.
func WithRefresh(refresh bool) Option {
	return func(s *Synchronizer) { s.refresh = refresh }
}

// WithBatchSize sets the documents per bulk request.
func WithBatchSize(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithRetry sets the retry policy of every request.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Synchronizer) { s.retry = cfg }
}

// WithBreaker replaces the circuit breaker guarding the cluster.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Synchronizer) {
		if cfg.ShouldTrip == nil {
			cfg.ShouldTrip = resilience.IsTransient
		}
		s.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithRateLimit caps bulk and scroll requests per second. Zero or less means
// no limit.
func WithRateLimit(rps float64) Option {
	return func(s *Synchronizer) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// Synchronizer writes binding documents to the search index. It is the only
// component that talks to the search cluster.
type Synchronizer struct {
	es      *elasticsearch.Client
	st      Store
	index   string
	refresh bool
	batch   int
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates a Synchronizer.
func New(es *elasticsearch.Client, st Store, opts ...Option) *Synchronizer {
	breakerCfg := resilience.FromCircuitConfig("search", 0, 0)
	breakerCfg.ShouldTrip = resilience.IsTransient
	s := &Synchronizer{
		es:      es,
		st:      st,
		index:   DefaultIndex,
		refresh: true,
		batch:   DefaultBatchSize,
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     zap.L().With(zap.String("component", "searchindex")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.RetryLogger("search", s.index)
	}
	return s
}

// Index returns the index name.
func (s *Synchronizer) Index() string {
	return s.index
}

// EnsureIndex creates the index with its analyzers and mappings when it does
// not exist yet.
func (s *Synchronizer) EnsureIndex(ctx context.Context) error {
	exists := false
	err := s.call(ctx, "check index",
		func(ctx context.Context) (*esapi.Response, error) {
			return s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(ctx))
		},
		func(res *esapi.Response) error {
			switch res.StatusCode {
			case http.StatusOK:
				exists = true
				return nil
			case http.StatusNotFound:
				return nil
			}
			return statusError("check index", res)
		})
	if err != nil || exists {
		return err
	}

	err = s.call(ctx, "create index",
		func(ctx context.Context) (*esapi.Response, error) {
			return s.es.Indices.Create(s.index,
				s.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
				s.es.Indices.Create.WithContext(ctx),
			)
		},
		func(res *esapi.Response) error {
			if res.IsError() {
				return statusError("create index", res)
			}
			return nil
		})
	if err != nil {
		return err
	}
	s.log.Info("search index created", zap.String("index", s.index))
	return nil
}

// Update serializes the given bindings and bulk-indexes them. Bindings that
// no longer exist are skipped. It does not flag the bindings as indexed.
func (s *Synchronizer) Update(ctx context.Context, bindingIDs []int64) error {
	for _, batch := range chunk(bindingIDs, s.batch) {
		views, err := s.st.BindingViews(ctx, batch)
		if err != nil {
			return eris.Wrap(err, "searchindex: load bindings")
		}
		if len(views) == 0 {
			continue
		}

		var body bytes.Buffer
		enc := json.NewEncoder(&body)
		for _, v := range views {
			meta := map[string]map[string]string{"index": {"_id": DocumentID(v.Binding.ID)}}
			if err := enc.Encode(meta); err != nil {
				return eris.Wrap(err, "searchindex: encode action")
			}
			if err := enc.Encode(Serialize(v)); err != nil {
				return eris.Wrapf(err, "searchindex: encode binding %d", v.Binding.ID)
			}
		}
		if err := s.bulk(ctx, "index", body.Bytes()); err != nil {
			return err
		}
		s.log.Debug("bindings indexed", zap.Int("documents", len(views)))
	}
	return nil
}

// Delete removes the document of a binding. A missing document is not an
// error.
func (s *Synchronizer) Delete(ctx context.Context, bindingID int64) error {
	id := DocumentID(bindingID)
	return s.call(ctx, "delete document",
		func(ctx context.Context) (*esapi.Response, error) {
			return s.es.Delete(s.index, id,
				s.es.Delete.WithRefresh(s.refreshParam()),
				s.es.Delete.WithContext(ctx),
			)
		},
		func(res *esapi.Response) error {
			if res.StatusCode == http.StatusNotFound {
				return nil
			}
			if res.IsError() {
				return statusError("delete document "+id, res)
			}
			return nil
		})
}

// DeleteMany removes the documents of several bindings in bulk. Missing
// documents are ignored. A single binding goes through Delete.
func (s *Synchronizer) DeleteMany(ctx context.Context, bindingIDs []int64) error {
	switch len(bindingIDs) {
	case 0:
		return nil
	case 1:
		return s.Delete(ctx, bindingIDs[0])
	}
	ids := make([]string, len(bindingIDs))
	for i, id := range bindingIDs {
		ids[i] = DocumentID(id)
	}
	return s.deleteDocuments(ctx, ids)
}

func (s *Synchronizer) deleteDocuments(ctx context.Context, ids []string) error {
	for len(ids) > 0 {
		n := min(len(ids), s.batch)
		var body bytes.Buffer
		enc := json.NewEncoder(&body)
		for _, id := range ids[:n] {
			if err := enc.Encode(map[string]map[string]string{"delete": {"_id": id}}); err != nil {
				return eris.Wrap(err, "searchindex: encode delete")
			}
		}
		if err := s.bulk(ctx, "delete", body.Bytes()); err != nil {
			return err
		}
		ids = ids[n:]
	}
	return nil
}

// ReindexUnindexed indexes every binding whose is_indexed flag is false and
// sets the flag. It returns the number of bindings indexed.
func (s *Synchronizer) ReindexUnindexed(ctx context.Context) (int, error) {
	total := 0
	for {
		ids, err := s.st.UnindexedBindingIDs(ctx, s.batch)
		if err != nil {
			return total, eris.Wrap(err, "searchindex: list unindexed bindings")
		}
		if len(ids) == 0 {
			break
		}
		if err := s.Update(ctx, ids); err != nil {
			return total, err
		}
		if err := s.st.MarkIndexed(ctx, ids); err != nil {
			return total, eris.Wrap(err, "searchindex: mark indexed")
		}
		total += len(ids)
	}
	s.log.Info("reindexed unindexed bindings", zap.Int("bindings", total))
	return total, nil
}

type searchPage struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

// PruneOrphans deletes documents whose binding no longer exists in the
// catalog. It returns the number of documents deleted.
func (s *Synchronizer) PruneOrphans(ctx context.Context) (int, error) {
	var page searchPage
	missing := false
	query := `{"_source": false, "query": {"match_all": {}}}`
	err := s.call(ctx, "open scroll",
		func(ctx context.Context) (*esapi.Response, error) {
			return s.es.Search(
				s.es.Search.WithIndex(s.index),
				s.es.Search.WithBody(strings.NewReader(query)),
				s.es.Search.WithSize(s.batch),
				s.es.Search.WithScroll(scrollKeepAlive),
				s.es.Search.WithContext(ctx),
			)
		},
		func(res *esapi.Response) error {
			if res.StatusCode == http.StatusNotFound {
				missing = true
				return nil
			}
			return decode("open scroll", res, &page)
		})
	if err != nil || missing {
		return 0, err
	}
	defer s.clearScroll(page.ScrollID)

	pruned := 0
	for len(page.Hits.Hits) > 0 {
		ids := make([]int64, 0, len(page.Hits.Hits))
		var orphans []string
		for _, h := range page.Hits.Hits {
			id, err := strconv.ParseInt(h.ID, 10, 64)
			if err != nil {
				orphans = append(orphans, h.ID)
				continue
			}
			ids = append(ids, id)
		}

		existing, err := s.st.ExistingBindingIDs(ctx, ids)
		if err != nil {
			return pruned, eris.Wrap(err, "searchindex: check bindings")
		}
		for _, id := range ids {
			if !existing[id] {
				orphans = append(orphans, DocumentID(id))
			}
		}
		if len(orphans) > 0 {
			if err := s.deleteDocuments(ctx, orphans); err != nil {
				return pruned, err
			}
			pruned += len(orphans)
		}

		scrollID := page.ScrollID
		page = searchPage{}
		err = s.call(ctx, "scroll",
			func(ctx context.Context) (*esapi.Response, error) {
				return s.es.Scroll(
					s.es.Scroll.WithBody(strings.NewReader(`{"scroll_id":`+strconv.Quote(scrollID)+`}`)),
					s.es.Scroll.WithScroll(scrollKeepAlive),
					s.es.Scroll.WithContext(ctx),
				)
			},
			func(res *esapi.Response) error { return decode("scroll", res, &page) })
		if err != nil {
			return pruned, err
		}
		if page.ScrollID == "" {
			page.ScrollID = scrollID
		}
	}

	s.log.Info("pruned orphan documents", zap.Int("documents", pruned))
	return pruned, nil
}

func (s *Synchronizer) clearScroll(id string) {
	if id == "" {
		return
	}
	res, err := s.es.ClearScroll(s.es.ClearScroll.WithScrollID(id))
	if err != nil {
		s.log.Debug("clear scroll failed", zap.Error(err))
		return
	}
	res.Body.Close() //nolint:errcheck
}

// Clear deletes every document of the index and returns how many were
// deleted. A missing index counts as empty.
func (s *Synchronizer) Clear(ctx context.Context) (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	err := s.call(ctx, "clear index",
		func(ctx context.Context) (*esapi.Response, error) {
			return s.es.DeleteByQuery([]string{s.index},
				strings.NewReader(`{"query": {"match_all": {}}}`),
				s.es.DeleteByQuery.WithRefresh(s.refresh),
				s.es.DeleteByQuery.WithContext(ctx),
			)
		},
		func(res *esapi.Response) error {
			if res.StatusCode == http.StatusNotFound {
				return nil
			}
			return decode("clear index", res, &out)
		})
	return out.Deleted, err
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// bulk sends an NDJSON body to the bulk endpoint of the index and fails when
// any item failed. Deleting a missing document is not a failure.
func (s *Synchronizer) bulk(ctx context.Context, op string, body []byte) error {
	return s.call(ctx, "bulk "+op,
		func(ctx context.Context) (*esapi.Response, error) {
			return s.es.Bulk(bytes.NewReader(body),
				s.es.Bulk.WithIndex(s.index),
				s.es.Bulk.WithRefresh(s.refreshParam()),
				s.es.Bulk.WithContext(ctx),
			)
		},
		func(res *esapi.Response) error {
			var br bulkResponse
			if err := decode("bulk "+op, res, &br); err != nil {
				return err
			}
			if !br.Errors {
				return nil
			}

			var (
				failed    int
				first     string
				transient bool
			)
			for _, item := range br.Items {
				for action, r := range item {
					if r.Status < 300 || (action == "delete" && r.Status == http.StatusNotFound) {
						continue
					}
					failed++
					transient = transient || resilience.IsTransientHTTPStatus(r.Status)
					if first == "" && r.Error != nil {
						first = r.ID + ": " + r.Error.Type + ": " + r.Error.Reason
					}
				}
			}
			if failed == 0 {
				return nil
			}
			err := eris.Errorf("searchindex: bulk %s: %d items failed, first: %s", op, failed, first)
			if transient {
				return resilience.NewTransientError(err, http.StatusTooManyRequests)
			}
			return err
		})
}

// call sends one request through the circuit breaker, the retry policy and
// the rate limiter, and hands a successful transport round trip to handle.
func (s *Synchronizer) call(ctx context.Context, op string,
	send func(ctx context.Context) (*esapi.Response, error),
	handle func(res *esapi.Response) error,
) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
			if err := s.limiter.Wait(ctx); err != nil {
				return eris.Wrap(err, "searchindex: rate limiter wait")
			}
			res, err := send(ctx)
			if err != nil {
				wrapped := eris.Wrapf(err, "searchindex: %s", op)
				if resilience.IsTransient(err) {
					return resilience.NewTransientError(wrapped, 0)
				}
				return wrapped
			}
			defer res.Body.Close() //nolint:errcheck
			return handle(res)
		})
	})
}

func (s *Synchronizer) refreshParam() string {
	if s.refresh {
		return "true"
	}
	return "false"
}

func statusError(op string, res *esapi.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	err := eris.Errorf("searchindex: %s: status %d: %s", op, res.StatusCode, strings.TrimSpace(string(msg)))
	if resilience.IsTransientHTTPStatus(res.StatusCode) {
		return resilience.NewTransientError(err, res.StatusCode)
	}
	return err
}

func decode(op string, res *esapi.Response, v any) error {
	if res.IsError() {
		return statusError(op, res)
	}
	return eris.Wrapf(json.NewDecoder(res.Body).Decode(v), "searchindex: %s: decode response", op)
}

func chunk(ids []int64, size int) [][]int64 {
	var out [][]int64
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
