package main

import (
	"fmt"

	"github.com/aluiziolira/openbox-deals/admission"
	"github.com/aluiziolira/openbox-deals/config"
	"github.com/aluiziolira/openbox-deals/pipeline"
	"github.com/aluiziolira/openbox-deals/scraper"
)

// app holds the components shared by serve and search.
type app struct {
	metrics *scraper.Metrics
	pool    *scraper.ClientPool
	gate    *admission.Gate
	sup     *pipeline.Supervisor
}

func newApp(cfg *config.Config) (*app, error) {
	sources, err := config.ResolveSources(cfg)
	if err != nil {
		return nil, err
	}

	metrics := scraper.NewMetrics()
	pool, err := scraper.NewPoolFromConfig(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("create client pool: %w", err)
	}

	gate, err := admission.NewGate(admission.Options{
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxClients:        cfg.MaxClients,
		ClientTTL:         cfg.ClientTTL,
		PurgeInterval:     cfg.PurgeInterval,
		StaleSearchAfter:  cfg.StaleSearchAfter,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create admission gate: %w", err)
	}

	backend := scraper.NewBackend(cfg, pool, metrics)
	sup := pipeline.NewSupervisor(gate, backend, sources, pipeline.OptionsFromConfig(cfg), metrics)

	return &app{metrics: metrics, pool: pool, gate: gate, sup: sup}, nil
}

func (a *app) Close() {
	a.pool.Close()
}
