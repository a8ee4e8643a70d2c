// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// RulesCollector exposes counters for rule engine activity: scheduled and
// manual runs, torrents matched, actions issued, previews, and dry runs.
type RulesCollector struct {
	RuleRunTotal                *prometheus.CounterVec
	RuleRunTorrentsMatchedTotal *prometheus.CounterVec
	RuleRunActionTotal          *prometheus.CounterVec
	PreviewTotal                *prometheus.CounterVec
	DryRunTotal                 *prometheus.CounterVec
}

func NewRulesCollector(r *prometheus.Registry) *RulesCollector {
	m := &RulesCollector{
		RuleRunTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrules",
			Subsystem: "rules",
			Name:      "rule_run_total",
			Help:      "Total number of rule evaluation runs",
		}, []string{"instance_id", "rule_id", "rule_name"}),
		RuleRunTorrentsMatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrules",
			Subsystem: "rules",
			Name:      "rule_run_torrents_matched_total",
			Help:      "Total number of torrents that matched a rule's tracker scope",
		}, []string{"instance_id", "rule_id", "rule_name"}),
		RuleRunActionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrules",
			Subsystem: "rules",
			Name:      "rule_run_action_total",
			Help:      "Total number of rule actions issued",
		}, []string{"instance_id", "rule_id", "rule_name", "action"}),
		PreviewTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrules",
			Subsystem: "rules",
			Name:      "preview_total",
			Help:      "Total number of rule preview requests",
		}, []string{"instance_id"}),
		DryRunTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrules",
			Subsystem: "rules",
			Name:      "dry_run_total",
			Help:      "Total number of rule dry runs",
		}, []string{"instance_id", "rule_id", "rule_name"}),
	}

	r.MustRegister(m.RuleRunTotal)
	r.MustRegister(m.RuleRunTorrentsMatchedTotal)
	r.MustRegister(m.RuleRunActionTotal)
	r.MustRegister(m.PreviewTotal)
	r.MustRegister(m.DryRunTotal)
	return m
}

func (m *RulesCollector) GetRuleRunTotal(instanceID, ruleID int, ruleName string) prometheus.Counter {
	return m.RuleRunTotal.With(prometheus.Labels{
		"instance_id": strconv.Itoa(instanceID),
		"rule_id":     strconv.Itoa(ruleID),
		"rule_name":   ruleName,
	})
}

func (m *RulesCollector) GetRuleRunTorrentsMatchedTotal(instanceID, ruleID int, ruleName string) prometheus.Counter {
	return m.RuleRunTorrentsMatchedTotal.With(prometheus.Labels{
		"instance_id": strconv.Itoa(instanceID),
		"rule_id":     strconv.Itoa(ruleID),
		"rule_name":   ruleName,
	})
}

func (m *RulesCollector) GetRuleRunActionTotal(instanceID, ruleID int, ruleName, action string) prometheus.Counter {
	return m.RuleRunActionTotal.With(prometheus.Labels{
		"instance_id": strconv.Itoa(instanceID),
		"rule_id":     strconv.Itoa(ruleID),
		"rule_name":   ruleName,
		"action":      action,
	})
}

func (m *RulesCollector) GetPreviewTotal(instanceID int) prometheus.Counter {
	return m.PreviewTotal.With(prometheus.Labels{
		"instance_id": strconv.Itoa(instanceID),
	})
}

func (m *RulesCollector) GetDryRunTotal(instanceID, ruleID int, ruleName string) prometheus.Counter {
	return m.DryRunTotal.With(prometheus.Labels{
		"instance_id": strconv.Itoa(instanceID),
		"rule_id":     strconv.Itoa(ruleID),
		"rule_name":   ruleName,
	})
}
