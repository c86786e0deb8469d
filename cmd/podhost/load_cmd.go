package main

import (
	"context"
	"fmt"

	"github.com/judepayne/go-pods"
)

// LoadCmd loads a pod and prints its exposed namespaces, then unloads it.
type LoadCmd struct {
	Spec string `arg:"" help:"pod spec: coord:<qualifier>/<name>@<version>, path:<executable>, or a bare command line"`
}

func (c *LoadCmd) Run(cctx *Context) error {
	ctx := context.Background()

	spec, err := parseSpec(c.Spec)
	if err != nil {
		return err
	}

	host, cleanup, err := newHost(cctx)
	if err != nil {
		return err
	}
	defer cleanup()

	pod, err := host.LoadPod(ctx, spec, pods.LoadOpts{})
	if err != nil {
		return fmt.Errorf("loading %s: %w", c.Spec, err)
	}
	defer host.UnloadPod(ctx, pod.ID)

	fmt.Printf("loaded %s (format=%s)\n", pod.ID, pod.Format)
	for _, ns := range pod.Namespaces() {
		fmt.Printf("  %s\n", ns)
	}
	for _, ns := range pod.DeferredNamespaces() {
		fmt.Printf("  %s (deferred)\n", ns)
	}
	return nil
}
