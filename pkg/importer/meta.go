package importer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// Paths tried, in order, for a role's metadata file.
var metaPaths = []string{"meta/main.yml", "meta/main.yaml"}

// scalar accepts any YAML scalar as a string. Authors write
// min_ansible_version: 2.9 and versions: [7, 8] as often as they quote them.
type scalar string

func (s *scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", node.Line)
	}
	*s = scalar(node.Value)
	return nil
}

// dependency accepts "ns.role", {role: ns.role} and {src: ..., name: ...}.
type dependency string

func (d *dependency) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*d = dependency(node.Value)
		return nil
	case yaml.MappingNode:
		var m struct {
			Role string `yaml:"role"`
			Name string `yaml:"name"`
			Src  string `yaml:"src"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		for _, v := range []string{m.Role, m.Name, m.Src} {
			if v != "" {
				*d = dependency(v)
				return nil
			}
		}
		return fmt.Errorf("line %d: dependency has no role, name or src", node.Line)
	default:
		return fmt.Errorf("line %d: unexpected dependency", node.Line)
	}
}

type metaPlatform struct {
	Name     scalar   `yaml:"name"`
	Versions []scalar `yaml:"versions"`
}

type galaxyInfo struct {
	RoleName          scalar         `yaml:"role_name"`
	Namespace         scalar         `yaml:"namespace"`
	Author            scalar         `yaml:"author"`
	Description       scalar         `yaml:"description"`
	Company           scalar         `yaml:"company"`
	License           scalar         `yaml:"license"`
	MinAnsibleVersion scalar         `yaml:"min_ansible_version"`
	Platforms         []metaPlatform `yaml:"platforms"`
	CloudPlatforms    []scalar       `yaml:"cloud_platforms"`
	GalaxyTags        []scalar       `yaml:"galaxy_tags"`
	Categories        []scalar       `yaml:"categories"`
}

type metaFile struct {
	GalaxyInfo   *galaxyInfo  `yaml:"galaxy_info"`
	Dependencies []dependency `yaml:"dependencies"`
}

// RoleMeta is the parsed meta/main.yml of a role.
type RoleMeta struct {
	RoleName          string
	Namespace         string
	Author            string
	Description       string
	Company           string
	License           string
	MinAnsibleVersion string
	Platforms         []models.Platform
	// PlatformsWithoutVersions lists platform entries that named no versions.
	PlatformsWithoutVersions []string
	CloudPlatforms           []string
	Tags                     []string
	Dependencies             []string
}

// ParseRoleMeta parses a meta/main.yml document. A file without a
// galaxy_info mapping is invalid.
func ParseRoleMeta(data []byte) (*RoleMeta, error) {
	var f metaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.WithType(fmt.Errorf("invalid YAML in meta/main.yml: %v", err), errors.NotValid)
	}
	if f.GalaxyInfo == nil {
		return nil, errors.WithType(errors.New("meta/main.yml has no galaxy_info"), errors.NotValid)
	}
	info := f.GalaxyInfo
	meta := &RoleMeta{
		RoleName:          trim(info.RoleName),
		Namespace:         trim(info.Namespace),
		Author:            trim(info.Author),
		Description:       trim(info.Description),
		Company:           trim(info.Company),
		License:           trim(info.License),
		MinAnsibleVersion: trim(info.MinAnsibleVersion),
		CloudPlatforms:    distinct(info.CloudPlatforms, false),
		Tags:              distinct(append(info.GalaxyTags, info.Categories...), true),
	}
	for _, p := range info.Platforms {
		name := trim(p.Name)
		if name == "" {
			continue
		}
		if len(p.Versions) == 0 {
			meta.PlatformsWithoutVersions = append(meta.PlatformsWithoutVersions, name)
			continue
		}
		for _, v := range p.Versions {
			meta.Platforms = append(meta.Platforms, models.Platform{Name: name, Release: trim(v)})
		}
	}
	for _, d := range f.Dependencies {
		if dep := strings.TrimSpace(string(d)); dep != "" {
			meta.Dependencies = append(meta.Dependencies, dep)
		}
	}
	return meta, nil
}

func trim(s scalar) string {
	return strings.TrimSpace(string(s))
}

// distinct drops blanks and duplicates, keeping first-seen order.
func distinct(values []scalar, lower bool) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		s := trim(v)
		if lower {
			s = strings.ToLower(s)
		}
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// PlatformNames returns the sorted platform names, including those that
// listed no versions.
func (m *RoleMeta) PlatformNames() []string {
	seen := map[string]bool{}
	for _, p := range m.Platforms {
		seen[p.Name] = true
	}
	for _, name := range m.PlatformsWithoutVersions {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RoleName derives the hub name of a role: the explicit name when given,
// otherwise the repository name without its ansible-role- or ansible-
// prefix, lower-cased with dashes turned into underscores.
func RoleName(repoName, explicit string) string {
	name := strings.TrimSpace(explicit)
	if name == "" {
		name = strings.TrimSpace(repoName)
		lower := strings.ToLower(name)
		switch {
		case strings.HasPrefix(lower, "ansible-role-"):
			name = name[len("ansible-role-"):]
		case strings.HasPrefix(lower, "ansible-"):
			name = name[len("ansible-"):]
		}
	}
	return strings.ToLower(strings.ReplaceAll(name, "-", "_"))
}
