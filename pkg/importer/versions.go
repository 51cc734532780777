package importer

import (
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// VersionsFromTags keeps the tags that parse as semantic versions ("v1.2",
// "1.2.3") and returns them oldest first. When two tags normalize to the
// same version the first one wins.
func VersionsFromTags(tags []Tag) []*models.RepositoryVersion {
	type parsed struct {
		v   *semver.Version
		tag Tag
	}
	seen := make(map[string]bool, len(tags))
	var found []parsed
	for _, t := range tags {
		v, err := semver.NewVersion(t.Name)
		if err != nil {
			continue
		}
		if seen[v.String()] {
			continue
		}
		seen[v.String()] = true
		found = append(found, parsed{v: v, tag: t})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].v.LessThan(found[j].v) })

	out := make([]*models.RepositoryVersion, 0, len(found))
	for _, p := range found {
		out = append(out, &models.RepositoryVersion{
			Version:   p.v.String(),
			Tag:       p.tag.Name,
			CommitSHA: p.tag.CommitSHA,
		})
	}
	return out
}

// LatestRelease returns the highest version that is not a prerelease, or
// nil when every version is a prerelease or unparsable.
func LatestRelease(versions []*models.CollectionVersion) *models.CollectionVersion {
	var (
		best    *models.CollectionVersion
		bestVer *semver.Version
	)
	for _, cv := range versions {
		v, err := semver.StrictNewVersion(cv.Version)
		if err != nil || v.Prerelease() != "" {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = cv, v
		}
	}
	return best
}
