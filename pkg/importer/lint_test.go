package importer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

func ruleIDs(findings []Finding) []string {
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.RuleID)
	}
	return ids
}

func TestLint_CompleteMetadata(t *testing.T) {
	meta, err := ParseRoleMeta([]byte(nginxMeta))
	require.NoError(t, err)

	findings := Lint(meta, nil)
	assert.Equal(t, []string{"META107"}, ruleIDs(findings), "only Debian lacks versions")
	w, e := Counts(findings)
	assert.Equal(t, 1, w)
	assert.Zero(t, e)
}

func TestLint_SparseMetadata(t *testing.T) {
	meta := &RoleMeta{
		MinAnsibleVersion: "two point nine",
		Tags:              []string{"ok", "Not-OK"},
		Dependencies:      []string{"common", "acme.tls"},
	}
	findings := Lint(meta, nil)
	assert.Equal(t, []string{"META101", "META102", "META103", "META105", "META106", "META108", "META109"}, ruleIDs(findings))

	w, e := Counts(findings)
	assert.Equal(t, 6, w)
	assert.Equal(t, 1, e)
	assert.Equal(t, 5-1.5-1.0, QualityScore(w, e))
}

func TestLint_TooManyTags(t *testing.T) {
	meta := &RoleMeta{Description: "d", Author: "a", License: "MIT", MinAnsibleVersion: "2.10",
		Platforms: []models.Platform{{Name: "EL", Release: "8"}}}
	for n := 0; n < maxTags+1; n++ {
		meta.Tags = append(meta.Tags, fmt.Sprintf("tag%d", n))
	}
	findings := Lint(meta, nil)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].Text, "21 tags")
}

func TestLint_CustomRules(t *testing.T) {
	only := []Rule{rule{"X1", models.LevelError, func(m *RoleMeta) []string {
		if m.Company == "" {
			return []string{"company is required here"}
		}
		return nil
	}}}
	findings := Lint(&RoleMeta{}, only)
	require.Len(t, findings, 1)
	assert.Equal(t, Finding{RuleID: "X1", Level: models.LevelError, Text: "company is required here"}, findings[0])
}

func TestLintCollection(t *testing.T) {
	findings := LintCollection(&models.CollectionMetadata{Namespace: "acme", Name: "web", Version: "1.0.0", Tags: []string{"Web"}})
	assert.Equal(t, []string{"COLL101", "COLL102", "COLL103", "COLL105", "COLL106"}, ruleIDs(findings))

	findings = LintCollection(&models.CollectionMetadata{
		Description: "d", Authors: []string{"a"}, LicenseFile: "LICENSE", Tags: []string{"web"}, Repository: "https://x",
	})
	assert.Empty(t, findings)
}

func TestQualityScore(t *testing.T) {
	tests := []struct {
		warnings, errs int
		want           float64
	}{
		{0, 0, 5},
		{1, 0, 4.75},
		{4, 1, 3},
		{0, 5, 0},
		{30, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, QualityScore(tt.warnings, tt.errs), "%d warnings %d errors", tt.warnings, tt.errs)
	}
}

func TestMeanScore(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	assert.Nil(t, MeanScore(nil))
	assert.Nil(t, MeanScore([]*float64{nil}))
	assert.Equal(t, 4.0, *MeanScore([]*float64{f(5), nil, f(3)}))
}
