package resolver

import (
	"fmt"

	"github.com/judepayne/go-pods/errs"
	"github.com/judepayne/go-pods/payload"
	"github.com/judepayne/go-pods/payload/edn"
)

// Artifact is one platform-specific download entry from a pod's manifest.
type Artifact struct {
	OS        string
	Arch      string
	URL       string // plain HTTP download; empty when Transport == "oci"
	Transport string // "" (plain HTTP) or "oci"
	Ref       string // OCI image reference, set when Transport == "oci"
	SHA256    string
}

// Manifest describes one pod version's available artifacts.
type Manifest struct {
	PodID     string
	Version   string
	Artifacts []Artifact
}

// ParseManifest decodes a manifest.edn document.
func ParseManifest(data []byte) (*Manifest, error) {
	codec := edn.New(payload.NewHandlerSet())
	v, err := codec.Decode(data)
	if err != nil {
		return nil, errs.Wrap(errs.ManifestMissing, err, "parsing manifest.edn")
	}
	m, ok := v.(payload.Map)
	if !ok {
		return nil, errs.New(errs.ManifestMissing, "manifest.edn root is not a map")
	}

	manifest := &Manifest{}
	if v, ok := m.Get(payload.Keyword("pod-id")); ok {
		manifest.PodID, _ = v.(string)
	}
	if v, ok := m.Get(payload.Keyword("version")); ok {
		manifest.Version, _ = v.(string)
	}

	rawArtifacts, ok := m.Get(payload.Keyword("artifacts"))
	if !ok {
		return nil, errs.New(errs.ManifestMissing, "manifest.edn has no :artifacts entry")
	}
	list, ok := toSlice(rawArtifacts)
	if !ok {
		return nil, errs.New(errs.ManifestMissing, ":artifacts must be a list or vector")
	}

	for _, item := range list {
		am, ok := item.(payload.Map)
		if !ok {
			return nil, errs.New(errs.ManifestMissing, "artifact entry is not a map")
		}
		a := Artifact{}
		a.OS, _ = getString(am, "os")
		a.Arch, _ = getString(am, "arch")
		a.URL, _ = getString(am, "url")
		a.Transport, _ = getString(am, "transport")
		a.Ref, _ = getString(am, "ref")
		a.SHA256, _ = getString(am, "sha256")
		manifest.Artifacts = append(manifest.Artifacts, a)
	}
	return manifest, nil
}

func getString(m payload.Map, key string) (string, bool) {
	v, ok := m.Get(payload.Keyword(key))
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func toSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case payload.List:
		return []any(t), true
	case payload.Vector:
		return []any(t), true
	default:
		return nil, false
	}
}

func (a Artifact) String() string {
	if a.Transport == "oci" {
		return fmt.Sprintf("%s/%s oci:%s", a.OS, a.Arch, a.Ref)
	}
	return fmt.Sprintf("%s/%s %s", a.OS, a.Arch, a.URL)
}
