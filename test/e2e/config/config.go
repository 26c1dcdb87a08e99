// Package config holds e2e runner configuration and defaults.
package config

import "time"

// Defaults for the e2e runner. The server URL assumes a locally running
// semgraph pointed at a mock-llm endpoint.
const (
	DefaultServerURL    = "http://localhost:8080"
	DefaultPrincipal    = "e2e-runner"
	DefaultOntology     = "e2e"
	DefaultStageTimeout = 60 * time.Second
	DefaultPollInterval = 250 * time.Millisecond
)

// Config carries the settings shared by all scenarios.
type Config struct {
	// ServerURL is the base URL of the semgraph server under test.
	ServerURL string

	// Principal is the X-User-ID the runner submits jobs as.
	Principal string

	// Ontology is the ontology scenarios ingest into. Scenarios clean it
	// up on teardown.
	Ontology string

	// StageTimeout bounds each scenario stage.
	StageTimeout time.Duration

	// PollInterval is the job status polling cadence.
	PollInterval time.Duration
}

// WithDefaults fills zero fields.
func (c *Config) WithDefaults() *Config {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.Principal == "" {
		c.Principal = DefaultPrincipal
	}
	if c.Ontology == "" {
		c.Ontology = DefaultOntology
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = DefaultStageTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}
