package scenarios

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/c360studio/semgraph/test/e2e/config"
)

// client is a thin HTTP client over the semgraph API.
type client struct {
	cfg  *config.Config
	http *http.Client
}

func newClient(cfg *config.Config) *client {
	return &client{
		cfg:  cfg.WithDefaults(),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// submitResponse mirrors the ingest endpoints' response body.
type submitResponse struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Existing bool   `json:"existing"`
	Analysis *struct {
		ChunkCount int `json:"chunk_count"`
	} `json:"analysis"`
}

// jobCounters mirrors the pipeline counters of a job result.
type jobCounters struct {
	ConceptsCreated int `json:"concepts_created"`
	ConceptsLinked  int `json:"concepts_linked"`
	SourcesCreated  int `json:"sources_created"`
}

// jobResponse mirrors the job detail response body.
type jobResponse struct {
	ID        string `json:"job_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Result    *struct {
		Counters jobCounters `json:"counters"`
	} `json:"result"`
}

// searchResponse mirrors the search response body.
type searchResponse struct {
	Results []struct {
		ConceptID  string  `json:"concept_id"`
		Label      string  `json:"label"`
		Similarity float64 `json:"similarity"`
	} `json:"results"`
	BelowThresholdCount int `json:"below_threshold_count"`
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.ServerURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-ID", c.cfg.Principal)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError is a non-2xx API response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Body)
}

// submitText submits a text document and returns the submission outcome.
func (c *client) submitText(ctx context.Context, text string, opts map[string]any) (*submitResponse, error) {
	body := map[string]any{
		"text":     text,
		"ontology": c.cfg.Ontology,
	}
	if opts != nil {
		body["options"] = opts
	}
	var out submitResponse
	if err := c.do(ctx, http.MethodPost, "/ingest/text", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) getJob(ctx context.Context, id string) (*jobResponse, error) {
	var out jobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) approve(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+id+"/approve", nil, nil)
}

func (c *client) cancel(ctx context.Context, id, reason string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+id+"/cancel", map[string]string{"reason": reason}, nil)
}

func (c *client) reject(ctx context.Context, id, reason string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+id+"/reject", map[string]string{"reason": reason}, nil)
}

// connectResponse mirrors the path-finding response body.
type connectResponse struct {
	From  string `json:"from_id"`
	To    string `json:"to_id"`
	Hops  int    `json:"hops"`
	Count int    `json:"count"`
	Path  []struct {
		ConceptID string `json:"concept_id"`
		Label     string `json:"label"`
		RelType   string `json:"rel_type,omitempty"`
	} `json:"path"`
}

func (c *client) connect(ctx context.Context, fromID, toID string, maxHops int) (*connectResponse, error) {
	body := map[string]any{
		"from_id": fromID,
		"to_id":   toID,
	}
	if maxHops > 0 {
		body["max_hops"] = maxHops
	}
	var out connectResponse
	if err := c.do(ctx, http.MethodPost, "/connect", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// waitForTerminal polls until the job reaches a terminal status.
func (c *client) waitForTerminal(ctx context.Context, id string) (*jobResponse, error) {
	deadline := time.NewTimer(c.cfg.StageTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		job, err := c.getJob(ctx, id)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case "completed", "failed", "cancelled", "rejected":
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("job %s still %s after %s", id, job.Status, c.cfg.StageTimeout)
		case <-ticker.C:
		}
	}
}

func (c *client) search(ctx context.Context, query string, minSimilarity float64) (*searchResponse, error) {
	body := map[string]any{
		"query":    query,
		"ontology": c.cfg.Ontology,
	}
	if minSimilarity > 0 {
		body["min_similarity"] = minSimilarity
	}
	var out searchResponse
	if err := c.do(ctx, http.MethodPost, "/search", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// deleteOntology removes everything the scenarios ingested.
func (c *client) deleteOntology(ctx context.Context) error {
	err := c.do(ctx, http.MethodDelete, "/ontologies/"+c.cfg.Ontology, nil, nil)
	var apiErr *apiError
	if err != nil {
		// A missing ontology is fine on teardown.
		if ok := asAPIError(err, &apiErr); ok && apiErr.Status == http.StatusNotFound {
			return nil
		}
	}
	return err
}

func asAPIError(err error, target **apiError) bool {
	e, ok := err.(*apiError)
	if ok {
		*target = e
	}
	return ok
}

// health verifies the server is reachable before scenarios run.
func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
