package importer

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// Finding is one lint result.
type Finding struct {
	RuleID string
	Level  models.MessageLevel
	Text   string
}

// Rule checks one aspect of role or collection metadata.
type Rule interface {
	ID() string
	Level() models.MessageLevel
	Check(meta *RoleMeta) []string
}

type rule struct {
	id    string
	level models.MessageLevel
	check func(meta *RoleMeta) []string
}

func (r rule) ID() string                    { return r.id }
func (r rule) Level() models.MessageLevel    { return r.level }
func (r rule) Check(meta *RoleMeta) []string { return r.check(meta) }

func required(field, value string) []string {
	if value == "" {
		return []string{fmt.Sprintf("galaxy_info.%s is missing", field)}
	}
	return nil
}

const maxTags = 20

var tagPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// DefaultRules are applied to every role import.
var DefaultRules = []Rule{
	rule{"META101", models.LevelWarning, func(m *RoleMeta) []string { return required("description", m.Description) }},
	rule{"META102", models.LevelWarning, func(m *RoleMeta) []string { return required("author", m.Author) }},
	rule{"META103", models.LevelWarning, func(m *RoleMeta) []string { return required("license", m.License) }},
	rule{"META104", models.LevelWarning, func(m *RoleMeta) []string {
		return required("min_ansible_version", m.MinAnsibleVersion)
	}},
	rule{"META105", models.LevelError, func(m *RoleMeta) []string {
		if m.MinAnsibleVersion == "" {
			return nil
		}
		if _, err := semver.NewVersion(m.MinAnsibleVersion); err != nil {
			return []string{fmt.Sprintf("min_ansible_version %q is not a version", m.MinAnsibleVersion)}
		}
		return nil
	}},
	rule{"META106", models.LevelWarning, func(m *RoleMeta) []string {
		if len(m.Platforms) == 0 && len(m.PlatformsWithoutVersions) == 0 {
			return []string{"galaxy_info.platforms is empty"}
		}
		return nil
	}},
	rule{"META107", models.LevelWarning, func(m *RoleMeta) []string {
		var out []string
		for _, name := range m.PlatformsWithoutVersions {
			out = append(out, fmt.Sprintf("platform %s lists no versions", name))
		}
		return out
	}},
	rule{"META108", models.LevelWarning, func(m *RoleMeta) []string {
		var out []string
		if len(m.Tags) > maxTags {
			out = append(out, fmt.Sprintf("%d tags found, only the first %d are kept", len(m.Tags), maxTags))
		}
		for _, t := range m.Tags {
			if !tagPattern.MatchString(t) {
				out = append(out, fmt.Sprintf("tag %q must be lowercase letters and digits", t))
			}
		}
		return out
	}},
	rule{"META109", models.LevelWarning, func(m *RoleMeta) []string {
		var out []string
		for _, d := range m.Dependencies {
			if !strings.Contains(d, ".") && !strings.Contains(d, "/") {
				out = append(out, fmt.Sprintf("dependency %q is not namespace qualified", d))
			}
		}
		return out
	}},
}

// Lint runs rules against meta. Nil rules means DefaultRules.
func Lint(meta *RoleMeta, rules []Rule) []Finding {
	if rules == nil {
		rules = DefaultRules
	}
	var findings []Finding
	for _, r := range rules {
		for _, text := range r.Check(meta) {
			findings = append(findings, Finding{RuleID: r.ID(), Level: r.Level(), Text: text})
		}
	}
	return findings
}

// LintCollection reports missing optional MANIFEST.json fields. All of them
// are warnings.
func LintCollection(meta *models.CollectionMetadata) []Finding {
	var findings []Finding
	warn := func(id, text string) {
		findings = append(findings, Finding{RuleID: id, Level: models.LevelWarning, Text: text})
	}
	if meta.Description == "" {
		warn("COLL101", "collection_info.description is missing")
	}
	if len(meta.Authors) == 0 {
		warn("COLL102", "collection_info.authors is empty")
	}
	if len(meta.License) == 0 && meta.LicenseFile == "" {
		warn("COLL103", "collection_info has neither license nor license_file")
	}
	if len(meta.Tags) == 0 {
		warn("COLL104", "collection_info.tags is empty")
	}
	for _, t := range meta.Tags {
		if !tagPattern.MatchString(t) {
			warn("COLL105", fmt.Sprintf("tag %q must be lowercase letters and digits", t))
		}
	}
	if meta.Repository == "" {
		warn("COLL106", "collection_info.repository is missing")
	}
	return findings
}

// Counts splits findings into warnings and errors.
func Counts(findings []Finding) (warnings, errs int) {
	for _, f := range findings {
		switch f.Level {
		case models.LevelWarning:
			warnings++
		case models.LevelError, models.LevelFailed:
			errs++
		}
	}
	return warnings, errs
}

// QualityScore is 5 minus a quarter point per warning and a point per
// error, floored at zero.
func QualityScore(warnings, errs int) float64 {
	return math.Max(0, 5-0.25*float64(warnings)-1.0*float64(errs))
}

// MeanScore averages the non-nil scores, or returns nil when there are none.
func MeanScore(scores []*float64) *float64 {
	var sum float64
	var n int
	for _, s := range scores {
		if s != nil {
			sum += *s
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}
