package main

import (
	"context"
	"fmt"

	"github.com/judepayne/go-pods"
)

// DescribeCmd loads a pod, prints its id, format, and eager and deferred
// namespace names, and unloads it.
type DescribeCmd struct {
	Spec string `arg:"" help:"pod spec, see 'load'"`
}

func (c *DescribeCmd) Run(cctx *Context) error {
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

	fmt.Printf("pod: %s\nformat: %s\n", pod.ID, pod.Format)
	for _, ns := range pod.Namespaces() {
		fmt.Printf("namespace %s\n", ns)
	}
	for _, ns := range pod.DeferredNamespaces() {
		fmt.Printf("namespace %s (deferred)\n", ns)
	}
	return nil
}
