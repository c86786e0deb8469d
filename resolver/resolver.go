// Package resolver turns a pod coordinate ("org.babashka"/"instaparse") plus
// a version into a local executable path, downloading and caching registry
// artifacts as needed.
package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/judepayne/go-pods/errs"
	"github.com/judepayne/go-pods/resolver/cacheindex"
)

const defaultManifestTimeout = 30 * time.Second

// ManifestFetcher retrieves the raw manifest.edn bytes for qualifier/name@version.
// Production use fetches from the babashka pod registry; tests substitute a
// fake.
type ManifestFetcher func(ctx context.Context, qualifier, name, version string) ([]byte, error)

// HTTPManifestFetcher fetches manifest.edn over plain HTTP from baseURL,
// e.g. "https://raw.githubusercontent.com/babashka/pod-registry/master".
func HTTPManifestFetcher(baseURL string) ManifestFetcher {
	return func(ctx context.Context, qualifier, name, version string) ([]byte, error) {
		url := fmt.Sprintf("%s/manifests/%s/%s/%s/manifest.edn", baseURL, qualifier, name, version)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, errs.Wrap(errs.ManifestMissing, err, "fetching manifest for %s/%s@%s", qualifier, name, version)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errs.New(errs.ManifestMissing, "manifest for %s/%s@%s: http %d", qualifier, name, version, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
}

// Resolver resolves pod qualifiers to installed executable paths, caching
// downloads on disk and in a sqlite ledger, and deduplicating concurrent
// resolutions of the same artifact within one process via singleflight
// (installLock's flock plays that role across processes).
type Resolver struct {
	CacheRoot string
	Index     *cacheindex.Index
	Fetch     ManifestFetcher

	group singleflight.Group
}

// New builds a Resolver rooted at cacheRoot (see CacheDir), backed by the
// given cache index and manifest fetcher.
func New(cacheRoot string, idx *cacheindex.Index, fetch ManifestFetcher) *Resolver {
	return &Resolver{CacheRoot: cacheRoot, Index: idx, Fetch: fetch}
}

// Resolved describes a pod artifact ready to spawn.
type Resolved struct {
	Qualifier string
	Name      string
	Version   string
	Path      string // directory the artifact was extracted into
}

// Resolve installs (if needed) and returns the local install directory for
// qualifier/name@version. Concurrent calls for the same coordinate and
// os/arch within this process share one in-flight install.
func (r *Resolver) Resolve(ctx context.Context, qualifier, name, version string) (*Resolved, error) {
	osName, archName := OSFamily(), ArchName()
	key := fmt.Sprintf("%s/%s@%s:%s/%s", qualifier, name, version, osName, archName)

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.resolveOnce(ctx, qualifier, name, version, osName, archName)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Resolved), nil
}

func (r *Resolver) resolveOnce(ctx context.Context, qualifier, name, version, osName, archName string) (*Resolved, error) {
	if cached, err := r.Index.Lookup(ctx, qualifier, name, version, osName, archName); err != nil {
		return nil, fmt.Errorf("checking cache index: %w", err)
	} else if cached != nil {
		if _, statErr := os.Stat(cached.InstallPath); statErr == nil {
			return &Resolved{Qualifier: qualifier, Name: name, Version: version, Path: cached.InstallPath}, nil
		}
		// Ledger says installed but the directory is gone; fall through and
		// reinstall.
	}

	fetchCtx, cancel := context.WithTimeout(ctx, defaultManifestTimeout)
	defer cancel()
	raw, err := r.Fetch(fetchCtx, qualifier, name, version)
	if err != nil {
		return nil, err
	}
	manifest, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}
	artifact, err := SelectArtifact(manifest.Artifacts, osName, archName)
	if err != nil {
		return nil, err
	}

	installDir := InstallPath(r.CacheRoot, qualifier, name, version, osName, archName)
	lock, err := acquireInstallLock(installDir)
	if err != nil {
		return nil, fmt.Errorf("acquiring install lock: %w", err)
	}
	defer lock.Release()

	// Re-check the ledger now that we hold the lock: another process may
	// have finished installing while we were waiting.
	if cached, err := r.Index.Lookup(ctx, qualifier, name, version, osName, archName); err == nil && cached != nil {
		if _, statErr := os.Stat(cached.InstallPath); statErr == nil {
			return &Resolved{Qualifier: qualifier, Name: name, Version: version, Path: cached.InstallPath}, nil
		}
	}

	staged, err := r.stageArtifact(ctx, artifact)
	if err != nil {
		return nil, err
	}
	defer os.Remove(staged)

	if err := verifyChecksum(staged, artifact.SHA256); err != nil {
		return nil, err
	}
	if err := atomicInstall(staged, installDir); err != nil {
		return nil, err
	}

	if err := r.Index.Upsert(ctx, cacheindex.Artifact{
		Qualifier:   qualifier,
		Name:        name,
		Version:     version,
		OS:          osName,
		Arch:        archName,
		Checksum:    artifact.SHA256,
		InstallPath: installDir,
		InstalledAt: time.Now().Unix(),
	}); err != nil {
		return nil, fmt.Errorf("recording install: %w", err)
	}

	return &Resolved{Qualifier: qualifier, Name: name, Version: version, Path: installDir}, nil
}

// stageArtifact downloads (HTTP or OCI) artifact into a temp file the caller
// owns and must remove.
func (r *Resolver) stageArtifact(ctx context.Context, artifact Artifact) (string, error) {
	// extractArchive picks the unpacker by file extension, so the staged
	// file carries the artifact's archive extension.
	pattern := "pod-artifact-*"
	if artifact.Transport == "oci" {
		pattern += ".tar.gz"
	} else {
		for _, ext := range []string{".zip", ".tar.gz", ".tgz"} {
			if strings.HasSuffix(artifact.URL, ext) {
				pattern += ext
				break
			}
		}
	}
	staged, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("creating staging file: %w", err)
	}
	path := staged.Name()
	staged.Close()

	if artifact.Transport == "oci" {
		if err := pullOCIArtifact(artifact.Ref, path); err != nil {
			os.Remove(path)
			return "", err
		}
		return path, nil
	}

	if err := downloadHTTP(ctx, artifact.URL, path); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func downloadHTTP(ctx context.Context, url, destFile string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: http %d", url, resp.StatusCode)
	}

	out, err := os.Create(destFile)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destFile, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", destFile, err)
	}
	return nil
}

// ExecutablePath returns the path to the pod's entrypoint executable within
// an installed artifact directory, assuming the archive's only top-level
// file is the executable (the convention babashka pod archives follow).
func ExecutablePath(installDir string) (string, error) {
	entries, err := os.ReadDir(installDir)
	if err != nil {
		return "", fmt.Errorf("reading install dir %s: %w", installDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			return filepath.Join(installDir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no executable found in %s", installDir)
}
