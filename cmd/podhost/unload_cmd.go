package main

import (
	"context"
	"fmt"

	"github.com/judepayne/go-pods"
)

// UnloadCmd loads a pod then immediately unloads it, exercising the same
// graceful-shutdown path a long-lived embedder would use when it is done
// with a pod.
type UnloadCmd struct {
	Spec string `arg:"" help:"pod spec, see 'load'"`
}

func (c *UnloadCmd) Run(cctx *Context) error {
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
	if err := host.UnloadPod(ctx, pod.ID); err != nil {
		return fmt.Errorf("unloading %s: %w", pod.ID, err)
	}
	fmt.Printf("unloaded %s\n", pod.ID)
	return nil
}
