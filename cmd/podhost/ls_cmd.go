package main

import (
	"context"
	"fmt"
)

// LsCmd loads the pods declared in the working directory's pyproject.toml
// (or pods.yaml fallback) and lists their exposed namespaces. With no
// positional names it loads every declared pod; given one or more names it
// restricts loading to those.
type LsCmd struct {
	Pods []string `arg:"" optional:"" help:"restrict to these declared pod names; omit to load all"`
}

func (c *LsCmd) Run(cctx *Context) error {
	ctx := context.Background()

	host, cleanup, err := newHost(cctx)
	if err != nil {
		return err
	}
	defer cleanup()

	loaded, loadErr := host.LoadDeclaredPods(ctx, "pyproject.toml", "pods.yaml", c.Pods...)
	if len(loaded) == 0 && loadErr == nil {
		fmt.Println("no pods declared in pyproject.toml or pods.yaml")
		return nil
	}

	for _, pod := range loaded {
		fmt.Printf("%s (format=%s)\n", pod.ID, pod.Format)
		for _, ns := range pod.Namespaces() {
			fmt.Printf("  %s\n", ns)
		}
		host.UnloadPod(ctx, pod.ID)
	}
	return loadErr
}
