package importer

import (
	"context"
	"fmt"
	"path"

	"github.com/Masterminds/semver/v3"
	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/observability"
)

// importCollection validates a stored tarball and publishes it as a new
// collection version. A failed import removes the tarball so the same
// filename can be uploaded again, unless the tarball belongs to a saved
// version.
func (i *Importer) importCollection(ctx context.Context, task *models.ImportTask) (out *outcome, err error) {
	if task.NamespaceID == nil || task.ArtifactKey == "" {
		return nil, errors.New("collection import has no artifact")
	}
	keepArtifact := false
	defer func() {
		if err != nil && !keepArtifact {
			if derr := i.Artifacts.Delete(context.WithoutCancel(ctx), task.ArtifactKey); derr != nil {
				observability.GetLogger(ctx).WithError(derr).Warn("failed to delete rejected artifact")
			}
		}
	}()

	ns, err := i.Store.GetNamespace(ctx, *task.NamespaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load namespace: %w", err)
	}

	body, err := i.Artifacts.Get(ctx, task.ArtifactKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	artifact, err := ReadCollectionArtifact(body)
	body.Close()
	if err != nil {
		return nil, err
	}
	meta := artifact.Metadata
	task.AddMessage(models.LevelInfo, "", fmt.Sprintf("Importing %s.%s %s", meta.Namespace, meta.Name, meta.Version))

	if meta.Namespace != ns.Name {
		return nil, errors.WithType(fmt.Errorf("MANIFEST.json namespace %q does not match %q", meta.Namespace, ns.Name), errors.NotValid)
	}
	if !models.ValidName(meta.Name) {
		return nil, errors.WithType(fmt.Errorf("invalid collection name %q", meta.Name), errors.NotValid)
	}
	if _, err := semver.StrictNewVersion(meta.Version); err != nil {
		return nil, errors.WithType(fmt.Errorf("version %q is not a valid semantic version", meta.Version), errors.NotValid)
	}
	if key := models.ArtifactKey(meta.Namespace, meta.Name, meta.Version); key != task.ArtifactKey {
		return nil, errors.WithType(fmt.Errorf("MANIFEST.json describes %s, not the uploaded %s",
			path.Base(key), path.Base(task.ArtifactKey)), errors.NotValid)
	}

	findings := LintCollection(&meta)
	fqn := meta.Namespace + "." + meta.Name
	addFindings(task, fqn, findings)
	score := QualityScore(Counts(findings))
	task.AddMessage(models.LevelInfo, fqn, fmt.Sprintf("Found %d content items", len(artifact.Contents)))

	collection, err := i.Store.GetCollectionByName(ctx, ns.Name, meta.Name)
	if errors.Is(err, errors.NotFound) {
		collection = &models.Collection{NamespaceID: ns.ID, Name: meta.Name, Tags: meta.Tags}
		err = i.Store.CreateCollection(ctx, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", fqn, err)
	}
	collection.NamespaceName = ns.Name

	version := &models.CollectionVersion{
		CollectionID:     collection.ID,
		Version:          meta.Version,
		Metadata:         meta,
		Contents:         artifact.Contents,
		QualityScore:     &score,
		ArtifactFilename: path.Base(task.ArtifactKey),
		ArtifactKey:      task.ArtifactKey,
		ArtifactSHA256:   artifact.SHA256,
		ArtifactSize:     artifact.Size,
		ImportTaskID:     &task.ID,
	}
	if err := i.Store.CreateCollectionVersion(ctx, version); err != nil {
		if errors.Is(err, errors.AlreadyExists) {
			keepArtifact = true
			return nil, errors.WithType(fmt.Errorf("%s version %s already exists", fqn, meta.Version), errors.AlreadyExists)
		}
		return nil, fmt.Errorf("failed to save %s %s: %w", fqn, meta.Version, err)
	}
	task.CollectionVersionID = &version.ID
	keepArtifact = true

	versions, err := i.Store.ListCollectionVersions(ctx, collection.ID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	if latest := LatestRelease(versions); latest != nil {
		collection.LatestVersionID = &latest.ID
		collection.Tags = latest.Metadata.Tags
	}
	if err := i.Store.UpdateCollection(ctx, collection); err != nil {
		return nil, fmt.Errorf("failed to update collection: %w", err)
	}

	if i.Indexer != nil {
		if err := i.Indexer.IndexCollection(ctx, collection.ID); err != nil {
			observability.GetLogger(ctx).WithError(err).Warn("failed to index collection")
		}
	}
	return &outcome{collection: collection, version: version, name: meta.Name, namespace: ns.Name}, nil
}
