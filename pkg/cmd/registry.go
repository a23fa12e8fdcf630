// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/automata/pkg/actions"
	"github.com/dukex/automata/pkg/nodes"
	"github.com/dukex/automata/pkg/nodes/collaborator"
)

// CollaboratorConfig holds the endpoints of the external providers used by action nodes. An
// empty endpoint leaves the capability unconfigured; emails are then logged instead of sent.
type CollaboratorConfig struct {
	EmailURL    string
	EnrichURL   string
	ScoreURL    string
	AIURL       string
	Token       string
	HTTPTimeout time.Duration
}

// NewRegistry registers every built-in node type, wired to the configured collaborators.
func NewRegistry(logger *slog.Logger, cfg CollaboratorConfig) (*actions.Registry, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.HTTPTimeout <= 0 {
		httpClient.Timeout = 30 * time.Second
	}

	c := nodes.Collaborators{
		Email:      collaborator.NewLogSender(logger),
		HTTPClient: httpClient,
	}

	newClient := func(endpoint string) (*collaborator.Client, error) {
		return collaborator.New(endpoint, logger,
			collaborator.WithToken(cfg.Token),
			collaborator.WithHTTPClient(httpClient),
		)
	}

	if cfg.EmailURL != "" {
		client, err := newClient(cfg.EmailURL)
		if err != nil {
			return nil, err
		}

		c.Email = client
	}

	if cfg.EnrichURL != "" {
		client, err := newClient(cfg.EnrichURL)
		if err != nil {
			return nil, err
		}

		c.Enricher = client
	}

	if cfg.ScoreURL != "" {
		client, err := newClient(cfg.ScoreURL)
		if err != nil {
			return nil, err
		}

		c.Scorer = client
	}

	if cfg.AIURL != "" {
		client, err := newClient(cfg.AIURL)
		if err != nil {
			return nil, err
		}

		c.Inferencer = client
	}

	registry := actions.NewRegistry(logger)
	if err := nodes.Register(registry, c); err != nil {
		return nil, err
	}

	return registry, nil
}
