package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/goccy/go-json"

	"github.com/facesystem/gateway/internal/audit"
	"github.com/facesystem/gateway/internal/tracing"
)

var (
	// ErrUnavailable covers transport failures, throttling and 5xx responses.
	ErrUnavailable = errors.New("search store unavailable")
	// ErrRejected covers 4xx responses: retrying the same request will not help.
	ErrRejected = errors.New("search store rejected request")
)

// ClientConfig configures the Elasticsearch client.
type ClientConfig struct {
	Addresses []string
	Username  string
	Password  string
	// Transport is used for every request; nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// NewClient builds an Elasticsearch client. It does not contact the cluster.
func NewClient(cfg ClientConfig) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return es, nil
}

// Index writes and queries audit documents in one Elasticsearch index.
type Index struct {
	es     *elasticsearch.Client
	name   string
	logger *slog.Logger
}

// NewIndex creates an Index for name. Empty name means DefaultIndex.
func NewIndex(es *elasticsearch.Client, name string, logger *slog.Logger) *Index {
	if name == "" {
		name = DefaultIndex
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{es: es, name: name, logger: logger}
}

// Name returns the index name.
func (i *Index) Name() string { return i.name }

// EnsureIndex creates the index with its mapping when it does not exist.
func (i *Index) EnsureIndex(ctx context.Context) error {
	res, err := i.es.Indices.Exists([]string{i.name}, i.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: index exists: %v", ErrUnavailable, err)
	}
	res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("%w: index exists: status %d", ErrUnavailable, res.StatusCode)
	}

	res, err = i.es.Indices.Create(i.name,
		i.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		i.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: create index: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if err := checkResponse("create index", res); err != nil {
		// Another worker won the race.
		if errors.Is(err, ErrRejected) && strings.Contains(err.Error(), "resource_already_exists_exception") {
			return nil
		}
		return err
	}
	i.logger.Info("search index created", slog.String("index", i.name))
	return nil
}

// IndexEvent stores the search document for e. The document id is assigned
// by Elasticsearch.
func (i *Index) IndexEvent(ctx context.Context, e *audit.Event) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "search.index")
	defer func() { endSpan(err) }()

	body, err := json.Marshal(DocumentFromEvent(e))
	if err != nil {
		return fmt.Errorf("encode search document: %w", err)
	}

	res, err := i.es.Index(i.name, bytes.NewReader(body), i.es.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: index: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	return checkResponse("index", res)
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs q and returns the matching rows, newest first.
func (i *Index) Search(ctx context.Context, q Query) (page audit.Page[audit.Row], err error) {
	if err := q.Validate(); err != nil {
		return page, err
	}

	ctx, endSpan := tracing.StartSpan(ctx, "search.query")
	defer func() { endSpan(err) }()

	body, err := json.Marshal(q.body())
	if err != nil {
		return page, fmt.Errorf("encode search query: %w", err)
	}

	res, err := i.es.Search(
		i.es.Search.WithContext(ctx),
		i.es.Search.WithIndex(i.name),
		i.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return page, fmt.Errorf("%w: search: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if err := checkResponse("search", res); err != nil {
		return page, err
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return page, fmt.Errorf("decode search response: %w", err)
	}

	rows := make([]audit.Row, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		rows = append(rows, hit.Source.Row())
	}
	return audit.NewPage(rows, parsed.Hits.Total.Value, q.Page, q.Size), nil
}

// Ping checks that the cluster answers.
func (i *Index) Ping(ctx context.Context) error {
	res, err := i.es.Ping(i.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	return checkResponse("ping", res)
}

// checkResponse maps an error response to ErrUnavailable or ErrRejected.
func checkResponse(op string, res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	sentinel := ErrRejected
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		sentinel = ErrUnavailable
	}
	return fmt.Errorf("%w: %s: status %d: %s", sentinel, op, res.StatusCode, bytes.TrimSpace(detail))
}
