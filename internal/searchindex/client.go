// Package searchindex keeps the full-text index of bindings in step with the
// catalog.
package searchindex

import (
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/rotisserie/eris"
)

// ClientConfig locates the search cluster.
type ClientConfig struct {
	Addresses []string
	Username  string
	Password  string
	Timeout   time.Duration
}

// NewClient creates an Elasticsearch client. The client's own retries are
// disabled; the Synchronizer retries with its own policy.
func NewClient(cfg ClientConfig) (*elasticsearch.Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, eris.New("searchindex: no addresses configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableRetry: true,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: cfg.Timeout,
			IdleConnTimeout:       90 * time.Second,
		},
	})
	return es, eris.Wrap(err, "searchindex: create client")
}
