package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/judepayne/go-pods"
)

// InvokeCmd loads a pod, calls one var with JSON-encoded args, and prints
// the result.
type InvokeCmd struct {
	Spec string `arg:"" help:"pod spec, see 'load'"`
	Var  string `arg:"" help:"fully-qualified var name, e.g. pod.test-pod/add-one"`
	Args string `arg:"" optional:"" default:"[]" help:"JSON array of arguments"`
}

func (c *InvokeCmd) Run(cctx *Context) error {
	ctx := context.Background()

	var args []any
	if err := json.Unmarshal([]byte(c.Args), &args); err != nil {
		return fmt.Errorf("parsing args %q as a JSON array: %w", c.Args, err)
	}

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

	result, err := pod.Invoke(ctx, c.Var, args, pods.InvokeOpts{})
	if err != nil {
		return fmt.Errorf("invoking %s: %w", c.Var, err)
	}
	fmt.Printf("%#v\n", result)
	return nil
}
