package importer

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

var filenamePattern = regexp.MustCompile(`^([a-z0-9_]+)-([a-z0-9_]+)-(.+)\.tar\.gz$`)

// ArtifactName is the parsed name of an uploaded collection tarball.
type ArtifactName struct {
	Namespace string
	Name      string
	Version   string
}

// ParseArtifactFilename splits namespace-name-version.tar.gz and validates
// each part.
func ParseArtifactFilename(filename string) (*ArtifactName, error) {
	m := filenamePattern.FindStringSubmatch(path.Base(filename))
	if m == nil {
		return nil, errors.WithType(
			fmt.Errorf("invalid filename %q, expected namespace-name-version.tar.gz", filename), errors.NotValid)
	}
	name := &ArtifactName{Namespace: m[1], Name: m[2], Version: m[3]}
	if !models.ValidName(name.Namespace) || !models.ValidName(name.Name) {
		return nil, errors.WithType(fmt.Errorf("invalid namespace or name in filename %q", filename), errors.NotValid)
	}
	if _, err := semver.StrictNewVersion(name.Version); err != nil {
		return nil, errors.WithType(fmt.Errorf("invalid version %q in filename", name.Version), errors.NotValid)
	}
	return name, nil
}

// CollectionArtifact is what the importer reads out of a tarball.
type CollectionArtifact struct {
	Metadata models.CollectionMetadata
	Contents []models.CollectionContent
	SHA256   string
	Size     int64
}

type manifest struct {
	CollectionInfo *models.CollectionMetadata `json:"collection_info"`
	Format         int                        `json:"format"`
}

// pluginDirs maps plugins/<dir> to the content type of its files.
var pluginDirs = map[string]string{
	"modules":      models.ContentTypeModule,
	"module_utils": models.ContentTypeModuleUtils,
	"action":       models.ContentTypeActionPlugin,
	"filter":       models.ContentTypeFilterPlugin,
	"lookup":       models.ContentTypeLookupPlugin,
	"strategy":     models.ContentTypeStrategy,
	"callback":     models.ContentTypeCallback,
	"connection":   models.ContentTypeConnection,
	"inventory":    models.ContentTypeInventory,
	"test":         models.ContentTypeTest,
	"cache":        models.ContentTypeCacheStrategy,
}

// ReadCollectionArtifact reads a gzipped collection tarball, returning its
// MANIFEST.json collection_info and the roles and plugins it ships. The
// whole stream is consumed so SHA256 and Size cover every byte.
func ReadCollectionArtifact(r io.Reader) (*CollectionArtifact, error) {
	hash := sha256.New()
	counter := &countingReader{r: io.TeeReader(r, hash)}

	gz, err := gzip.NewReader(counter)
	if err != nil {
		return nil, errors.WithType(fmt.Errorf("artifact is not gzip compressed: %v", err), errors.NotValid)
	}
	defer gz.Close()

	var (
		info  *models.CollectionMetadata
		roles = map[string]bool{}
		items []models.CollectionContent
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithType(fmt.Errorf("artifact is not a valid tar archive: %v", err), errors.NotValid)
		}
		name := strings.TrimPrefix(path.Clean(hdr.Name), "./")
		switch {
		case name == "MANIFEST.json":
			var m manifest
			if err := json.NewDecoder(tr).Decode(&m); err != nil {
				return nil, errors.WithType(fmt.Errorf("invalid MANIFEST.json: %v", err), errors.NotValid)
			}
			if m.CollectionInfo == nil {
				return nil, errors.WithType(errors.New("MANIFEST.json has no collection_info"), errors.NotValid)
			}
			info = m.CollectionInfo
		case strings.HasPrefix(name, "roles/"):
			parts := strings.Split(name, "/")
			if len(parts) >= 2 && parts[1] != "" && !roles[parts[1]] {
				roles[parts[1]] = true
				items = append(items, models.CollectionContent{Name: parts[1], ContentType: models.ContentTypeRole})
			}
		case strings.HasPrefix(name, "plugins/") && hdr.Typeflag == tar.TypeReg:
			parts := strings.Split(name, "/")
			if len(parts) != 3 || path.Ext(parts[2]) != ".py" || strings.HasPrefix(parts[2], "_") {
				continue
			}
			if ct, ok := pluginDirs[parts[1]]; ok {
				items = append(items, models.CollectionContent{
					Name:        strings.TrimSuffix(parts[2], ".py"),
					ContentType: ct,
				})
			}
		}
	}
	if info == nil {
		return nil, errors.WithType(errors.New("artifact has no MANIFEST.json"), errors.NotValid)
	}
	// drain trailing padding so the digest covers the whole upload
	if _, err := io.Copy(io.Discard, counter); err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].ContentType != items[j].ContentType {
			return items[i].ContentType < items[j].ContentType
		}
		return items[i].Name < items[j].Name
	})
	return &CollectionArtifact{
		Metadata: *info,
		Contents: items,
		SHA256:   hex.EncodeToString(hash.Sum(nil)),
		Size:     counter.n,
	}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// limitedReader fails once more than max bytes have been read.
type limitedReader struct {
	r   io.Reader
	max int64
	n   int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.max {
		return n, errors.WithType(fmt.Errorf("artifact exceeds the %d byte limit", l.max), errors.NotValid)
	}
	return n, err
}
