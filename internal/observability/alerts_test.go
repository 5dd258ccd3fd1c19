package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type ruleFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

func loadRules(t *testing.T) map[string]alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "stockroom.yml"))
	require.NoError(t, err)

	var file ruleFile
	require.NoError(t, yaml.Unmarshal(data, &file))

	rules := map[string]alertRule{}
	for _, g := range file.Groups {
		if g.Name != "stockroom" {
			continue
		}
		for _, r := range g.Rules {
			require.NotContains(t, rules, r.Alert, "duplicate rule")
			rules[r.Alert] = r
		}
	}
	require.NotEmpty(t, rules, "stockroom alert group missing")
	return rules
}

func TestStockroomAlertRules(t *testing.T) {
	rules := loadRules(t)

	cases := []struct {
		alert    string
		severity string
		anchor   string
		metric   string
	}{
		{"HighErrorRate", "critical", "high-error-rate", "stockroom_http_requests_total"},
		{"InvariantViolation", "critical", "invariant-violation", "stockroom_invariant_violations_total"},
		{"JournalIntegrityJobFailing", "warning", "journal-drift", "stockroom_jobs_failures_total"},
		{"PrepStockLow", "info", "low-stock", "stockroom_low_stock_records"},
	}
	require.Len(t, rules, len(cases))

	for _, tc := range cases {
		t.Run(tc.alert, func(t *testing.T) {
			rule, ok := rules[tc.alert]
			require.True(t, ok)
			require.Equal(t, tc.severity, rule.Labels["severity"])
			require.Equal(t, "docs/runbook.md#"+tc.anchor, rule.Annotations["runbook"])
			require.NotEmpty(t, rule.Annotations["summary"])
			require.NotEmpty(t, rule.Annotations["description"])
			require.NotEmpty(t, rule.For)
			require.Contains(t, rule.Expr, tc.metric)
		})
	}
}

func TestRunbookAnchorsExist(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook.md"))
	require.NoError(t, err)

	anchors := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		if title, ok := strings.CutPrefix(line, "## "); ok {
			anchors[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "-")] = true
		}
	}
	for name, rule := range loadRules(t) {
		anchor := strings.TrimPrefix(rule.Annotations["runbook"], "docs/runbook.md#")
		require.True(t, anchors[anchor], "rule %s points at missing runbook section %q", name, anchor)
	}
}
