package importer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// buildArtifact returns a gzipped tarball holding files. A non-nil info is
// written as MANIFEST.json.
func buildArtifact(t *testing.T, info *models.CollectionMetadata, files ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	write := func(name string, body []byte) {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(body)
		require.NoError(t, err)
	}
	if info != nil {
		manifest, err := json.Marshal(map[string]interface{}{"collection_info": info, "format": 1})
		require.NoError(t, err)
		write("MANIFEST.json", manifest)
	}
	sort.Strings(files)
	for _, f := range files {
		write(f, []byte("# "+f))
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func collectionInfo(namespace, name, version string) *models.CollectionMetadata {
	return &models.CollectionMetadata{
		Namespace:   namespace,
		Name:        name,
		Version:     version,
		Authors:     []string{"Jane Doe"},
		Description: "Web server content",
		License:     []string{"MIT"},
		Tags:        []string{"web"},
		Repository:  "https://github.com/acme/web",
	}
}

func TestReadCollectionArtifact(t *testing.T) {
	data := buildArtifact(t, collectionInfo("acme", "web", "1.0.0"),
		"./plugins/modules/nginx_site.py",
		"plugins/modules/__init__.py",
		"plugins/filter/urls.py",
		"plugins/modules/README.md",
		"plugins/unknown/thing.py",
		"roles/server/tasks/main.yml",
		"roles/server/meta/main.yml",
		"docs/index.md",
	)

	artifact, err := ReadCollectionArtifact(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "acme", artifact.Metadata.Namespace)
	assert.Equal(t, "1.0.0", artifact.Metadata.Version)
	assert.Equal(t, []models.CollectionContent{
		{Name: "urls", ContentType: models.ContentTypeFilterPlugin},
		{Name: "nginx_site", ContentType: models.ContentTypeModule},
		{Name: "server", ContentType: models.ContentTypeRole},
	}, artifact.Contents)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), artifact.SHA256)
	assert.Equal(t, int64(len(data)), artifact.Size)
}

func TestReadCollectionArtifact_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not gzip", []byte("plain text")},
		{"no manifest", buildArtifact(t, nil, "roles/x/tasks/main.yml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCollectionArtifact(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.NotValid))
		})
	}
}

func TestParseArtifactFilename(t *testing.T) {
	name, err := ParseArtifactFilename("acme-web_tools-1.2.3-beta.1.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, &ArtifactName{Namespace: "acme", Name: "web_tools", Version: "1.2.3-beta.1"}, name)

	for _, bad := range []string{
		"acme-web-1.0.0.zip",
		"acme-web.tar.gz",
		"Acme-web-1.0.0.tar.gz",
		"acme-web-1.0.tar.gz",
		"a-web-1.0.0.tar.gz",
	} {
		_, err := ParseArtifactFilename(bad)
		assert.True(t, errors.Is(err, errors.NotValid), bad)
	}
}

func TestLimitedReader(t *testing.T) {
	r := &limitedReader{r: strings.NewReader("0123456789"), max: 4}
	_, err := io.ReadAll(r)
	assert.True(t, errors.Is(err, errors.NotValid))

	r = &limitedReader{r: strings.NewReader("0123"), max: 4}
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))
}
