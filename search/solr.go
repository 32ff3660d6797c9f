package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"forum-search-backend/base"
	"forum-search-backend/metrics"

	"github.com/stevenferrer/solr-go"
	"golang.org/x/exp/slices"
)

var ErrDocumentNotFound = errors.New("document not found")

// Document is a single Solr document.
type Document map[string]any

type solrError struct {
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

type selectResponse struct {
	ResponseHeader struct {
		Status int `json:"status"`
		QTime  int `json:"QTime"`
	} `json:"responseHeader"`
	Response struct {
		NumFound int64      `json:"numFound"`
		Start    int64      `json:"start"`
		Docs     []Document `json:"docs"`
	} `json:"response"`
	Error *solrError `json:"error,omitempty"`
}

// Client talks to one Solr collection. Writes go through solr-go, reads and admin
// calls that solr-go doesn't cover go straight to Solr's REST API.
type Client struct {
	mu       sync.RWMutex
	endpoint string
	core     string
	json     *solr.JSONClient
	http     *http.Client
}

func NewClient(endpoint, core string, timeout time.Duration) *Client {
	c := &Client{http: &http.Client{Timeout: timeout}}
	c.Connect(endpoint, core)
	return c
}

// Connect points the client at another Solr endpoint and collection.
func (c *Client) Connect(endpoint, core string) {
	endpoint = strings.TrimSuffix(endpoint, "/")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.json != nil && c.endpoint == endpoint && c.core == core {
		return
	}
	slog.Info("connecting to solr", "endpoint", endpoint, "collection", core)
	c.endpoint = endpoint
	c.core = core
	c.json = solr.NewJSONClient(endpoint)
}

func (c *Client) target() (string, string, *solr.JSONClient) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint, c.core, c.json
}

// Endpoint returns the Solr base URL the client currently uses.
func (c *Client) Endpoint() string {
	endpoint, _, _ := c.target()
	return endpoint
}

// Ping checks that the collection answers and returns Solr's status string.
func (c *Client) Ping(ctx context.Context) (string, error) {
	endpoint, core, _ := c.target()
	var payload struct {
		Status string     `json:"status"`
		Error  *solrError `json:"error,omitempty"`
	}
	if err := c.getJSON(ctx, "ping", fmt.Sprintf("%s/solr/%s/admin/ping", endpoint, core), url.Values{}, &payload); err != nil {
		return "", err
	}
	return payload.Status, nil
}

// Select runs a query against the select handler.
func (c *Client) Select(ctx context.Context, params url.Values) (*selectResponse, error) {
	endpoint, core, _ := c.target()
	var resp selectResponse
	if err := c.getJSON(ctx, "select", fmt.Sprintf("%s/solr/%s/select", endpoint, core), params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Count returns the number of documents matching q.
func (c *Client) Count(ctx context.Context, q string) (int64, error) {
	resp, err := c.Select(ctx, url.Values{"q": {q}, "rows": {"0"}})
	if err != nil {
		return 0, err
	}
	return resp.Response.NumFound, nil
}

// Get fetches a document by id using the real-time get handler.
func (c *Client) Get(ctx context.Context, id string) (Document, error) {
	endpoint, core, _ := c.target()
	var payload struct {
		Doc   Document   `json:"doc"`
		Error *solrError `json:"error,omitempty"`
	}
	if err := c.getJSON(ctx, "get", fmt.Sprintf("%s/solr/%s/get", endpoint, core), url.Values{"id": {id}}, &payload); err != nil {
		return nil, err
	}
	if payload.Doc == nil {
		return nil, ErrDocumentNotFound
	}
	return payload.Doc, nil
}

// Add submits documents and commits them.
func (c *Client) Add(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	return c.update(ctx, "add", docs)
}

// DeleteByID deletes documents by id and commits.
func (c *Client) DeleteByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.update(ctx, "delete", map[string]any{"delete": ids})
}

// DeleteByQuery deletes all documents matching q and commits.
func (c *Client) DeleteByQuery(ctx context.Context, q string) error {
	return c.update(ctx, "delete", map[string]any{"delete": map[string]any{"query": q}})
}

// update submits a JSON update command and commits it in Solr.
func (c *Client) update(ctx context.Context, op string, body any) error {
	_, core, client := c.target()
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	start := time.Now()
	defer func() { metrics.SolrDuration.WithLabelValues(op).Observe(time.Since(start).Seconds()) }()

	resp, err := client.Update(ctx, core, solr.JSON, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return errors.New(resp.Error.Msg)
	}
	return client.Commit(ctx, core)
}

func (c *Client) getJSON(ctx context.Context, op string, target string, params url.Values, out any) error {
	params.Set("wt", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.SolrDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var payload struct {
			Error *solrError `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != nil && payload.Error.Msg != "" {
			return fmt.Errorf("solr %s failed with status %d: %s", op, resp.StatusCode, payload.Error.Msg)
		}
		return fmt.Errorf("solr %s failed with status %d", op, resp.StatusCode)
	}
	return json.Unmarshal(data, out)
}

// collectionExists determines whether the Solr collection is listed by the collections API.
func (c *Client) collectionExists(ctx context.Context) (bool, error) {
	endpoint, core, _ := c.target()
	var payload struct {
		Collections []string `json:"collections"`
	}
	if err := c.getJSON(ctx, "collections", endpoint+"/solr/admin/collections", url.Values{"action": {"LIST"}}, &payload); err != nil {
		return false, err
	}
	return slices.Contains(payload.Collections, core), nil
}

// recreateCollection drops and rebuilds the Solr collection and schema.
func (c *Client) recreateCollection(ctx context.Context, fields Fields) (err error) {
	endpoint, core, client := c.target()
	slog.Debug("recreating solr collection", "endpoint", endpoint, "collection", core)
	if err := client.DeleteCollection(ctx, solr.NewCollectionParams().Name(core)); err != nil {
		slog.Warn("collection couldn't be deleted", "error", err)
	}
	if err = client.CreateCollection(ctx, solr.NewCollectionParams().Name(core).NumShards(base.SolrNumShards)); err != nil {
		return
	}
	if err = client.AddFields(ctx, core, schemaFields(fields)...); err != nil {
		return
	}
	return client.AddCopyFields(ctx, core, schemaCopyFields(fields)...)
}

// Init prepares the Solr collection and schema.
func (c *Client) Init(ctx context.Context, recreate bool, fields Fields) error {
	if !recreate {
		exists, err := c.collectionExists(ctx)
		if err != nil {
			// standalone Solr has no collections API, a core that answers is good enough
			if _, pingErr := c.Ping(ctx); pingErr == nil {
				slog.Debug("collections api unavailable, using existing core", "error", err)
				return nil
			}
			return err
		}
		if exists {
			return nil
		}
	}
	return c.recreateCollection(ctx, fields)
}
