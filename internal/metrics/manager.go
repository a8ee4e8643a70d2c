// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	registry *prometheus.Registry
	rules    *RulesCollector
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rules := NewRulesCollector(registry)

	log.Info().Msg("Metrics manager initialized with rules collector")

	return &Manager{
		registry: registry,
		rules:    rules,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) Rules() *RulesCollector {
	if m == nil {
		return nil
	}
	return m.rules
}
