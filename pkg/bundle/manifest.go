// Package bundle implements chunked transfer of directory-scale artifacts.
//
// The producer side packages a directory into a deterministic tar stream,
// splits it into size-bounded chunks (each independently compressed and
// checksummed), and uploads chunks plus a manifest under a per-artifact
// namespace. The restore side downloads the manifest, fetches and verifies
// each chunk, and reassembles the tree; the whole-source checksum is the
// final acceptance gate.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/stackdrop/shuttle/pkg/artifact"
	"github.com/stackdrop/shuttle/pkg/objstore"
)

// FormatVersion is the manifest schema version written by this code.
const FormatVersion = 1

// Well-known object names inside a bundle namespace.
const (
	manifestName    = "manifest.json"
	manifestSumName = "manifest.sha256"
	sourceSumName   = "source.sha256"
	chunkNameFormat = "chunk-%06d"
)

// Chunk describes one stored slice of the packaged source stream.
type Chunk struct {
	// Name is the object name within the bundle namespace.
	Name string `json:"name"`

	// Size is the stored (possibly compressed) size in bytes.
	Size int64 `json:"size"`

	// RawSize is the uncompressed size in bytes.
	RawSize int64 `json:"rawSize"`

	// Checksum is the sha256 of the stored bytes, hex-encoded.
	Checksum string `json:"checksum"`

	// Compressed reports whether the chunk is zstd-compressed.
	Compressed bool `json:"compressed"`
}

// Manifest is the ordered chunk list for one bundled artifact.
type Manifest struct {
	Version    int    `json:"version"`
	ArtifactID string `json:"artifactId"`
	SubID      string `json:"subId,omitempty"`

	// ChunkSize is the raw-bytes bound each chunk was cut at.
	ChunkSize int64 `json:"chunkSize"`

	Chunks []Chunk `json:"chunks"`

	// SourceChecksum is the sha256 of the whole uncompressed source
	// stream, hex-encoded. Restoration is accepted only when it matches.
	SourceChecksum string `json:"sourceChecksum"`

	CreatedAt time.Time `json:"createdAt"`
}

// namespace returns the remote prefix for a bundle. SubID isolates multiple
// independent artifacts under one artifact id; an empty SubID uses the
// artifact id alone, which is also the legacy layout.
func namespace(prefix, artifactID, subID string) string {
	if subID == "" {
		return prefix + "/" + artifactID
	}
	return prefix + "/" + artifactID + "/" + subID
}

// legacyNamespace returns the pre-namespacing layout, checked read-only as a
// restore fallback.
func legacyNamespace(prefix, artifactID string) string {
	return prefix + "/" + artifactID
}

// fetchManifest downloads and decodes a manifest from one namespace,
// verifying it against its stored checksum.
func fetchManifest(ctx context.Context, store objstore.Client, ns string) (*Manifest, error) {
	r, _, err := store.Get(ctx, ns+"/"+manifestName)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, artifact.NewTransferError(err, "read manifest from %s", ns)
	}

	sumReader, _, err := store.Get(ctx, ns+"/"+manifestSumName)
	if err == nil {
		defer sumReader.Close()
		want, rerr := io.ReadAll(sumReader)
		if rerr == nil {
			if got := sha256Hex(data); got != trimSum(want) {
				return nil, artifact.NewChecksumMismatchError(
					"manifest checksum mismatch in %s: got %s want %s", ns, got, trimSum(want))
			}
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, artifact.NewTransferError(err, "decode manifest from %s", ns)
	}
	if m.Version > FormatVersion {
		return nil, artifact.NewConfigError(
			"manifest in %s has unsupported version %d", ns, m.Version)
	}
	return &m, nil
}

func chunkName(i int) string {
	return fmt.Sprintf(chunkNameFormat, i)
}
