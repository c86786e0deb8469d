package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/judepayne/go-pods/resolver"
	"github.com/judepayne/go-pods/resolver/cacheindex"

	"github.com/judepayne/go-pods"
)

// parseSpec turns a CLI positional pod spec into a pods.PodSpec. Accepted
// forms: "coord:<qualifier>/<name>@<version>" for a registry coordinate,
// "path:<executable>" for a local binary, and a bare command line (split on
// whitespace) otherwise.
func parseSpec(s string) (pods.PodSpec, error) {
	switch {
	case strings.HasPrefix(s, "coord:"):
		coord := strings.TrimPrefix(s, "coord:")
		qualifier, rest, ok := strings.Cut(coord, "/")
		if !ok {
			return pods.PodSpec{}, fmt.Errorf("coordinate %q: want qualifier/name@version", coord)
		}
		name, version, ok := strings.Cut(rest, "@")
		if !ok {
			return pods.PodSpec{}, fmt.Errorf("coordinate %q: want qualifier/name@version", coord)
		}
		return pods.PodSpec{Coord: &pods.CoordinateSpec{Qualifier: qualifier, Name: name, Version: version}}, nil
	case strings.HasPrefix(s, "path:"):
		return pods.PodSpec{Path: &pods.PathSpec{Path: strings.TrimPrefix(s, "path:")}}, nil
	default:
		argv := strings.Fields(s)
		if len(argv) == 0 {
			return pods.PodSpec{}, fmt.Errorf("empty pod spec")
		}
		return pods.PodSpec{Command: &pods.CommandSpec{Argv: argv}}, nil
	}
}

// newHost builds a Host wired to a resolver rooted at cctx.CacheRoot, for
// subcommands that may need to resolve a registry coordinate.
func newHost(cctx *Context) (*pods.Host, func(), error) {
	idx, err := cacheindex.Open(context.Background(), filepath.Join(cctx.CacheRoot, "index.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening cache index: %w", err)
	}
	res := resolver.New(cctx.CacheRoot, idx, resolver.HTTPManifestFetcher("https://raw.githubusercontent.com/babashka/pod-registry/master"))
	host := pods.NewHost(res, cctx.CacheRoot)
	host.EnsureCleanupHook()
	return host, func() { idx.Close() }, nil
}
