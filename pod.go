package pods

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/judepayne/go-pods/dispatch"
	"github.com/judepayne/go-pods/envelope"
	"github.com/judepayne/go-pods/nsregistry"
	"github.com/judepayne/go-pods/payload"
	"github.com/judepayne/go-pods/supervisor"
	"github.com/judepayne/go-pods/transport"
)

// Pod is a running pod handle: the connection between a spawned child
// process, its transport, and the dispatch engine correlating its requests.
type Pod struct {
	// ID identifies this pod: the registry coordinate it was loaded from, or
	// a synthetic id for a local command/path spec.
	ID string

	Format  payload.Format
	Codec   payload.Codec
	Handler *payload.HandlerSet

	registry *nsregistry.Registry

	proc    *supervisor.Process
	channel transport.Channel
	engine  *dispatch.Engine

	stopOnce sync.Once
}

// Namespaces returns the names of namespaces currently exposed by this pod,
// eagerly loaded or promoted from deferred.
func (p *Pod) Namespaces() []string {
	modules := p.registry.ListModules()
	var out []string
	for name, podID := range modules {
		if podID == p.ID {
			out = append(out, name)
		}
	}
	return out
}

// DeferredNamespaces returns the names of namespaces this pod described but
// has not yet loaded.
func (p *Pod) DeferredNamespaces() []string {
	return p.registry.ListDeferred(p.ID)
}

// Invoke calls a var fully-qualified by name with args, blocking for the
// terminal reply. A non-nil opts.Callbacks instead registers a streaming
// request and returns immediately once the write succeeds.
func (p *Pod) Invoke(ctx context.Context, varName string, args []any, opts InvokeOpts) (any, error) {
	encoded, err := p.Codec.EncodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("encoding args for %s: %w", varName, err)
	}

	var callbacks *dispatch.Callbacks
	if opts.Callbacks != nil {
		callbacks = &dispatch.Callbacks{
			Success: opts.Callbacks.Success,
			Error:   opts.Callbacks.Error,
			Done:    opts.Callbacks.Done,
		}
	}

	return p.engine.Invoke(ctx, varName, encoded, dispatch.InvokeOpts{
		Callbacks: callbacks,
		Timeout:   opts.Timeout,
	})
}

// LoadNamespace sends {"op":"load-ns"} for a deferred namespace and merges
// the reply into the namespace registry, promoting it to eagerly exposed.
func (p *Pod) LoadNamespace(ctx context.Context, ns string) error {
	reply, err := p.engine.LoadNS(ctx, ns, dispatch.InvokeOpts{})
	if err != nil {
		return fmt.Errorf("loading namespace %s on pod %s: %w", ns, p.ID, err)
	}
	desc, err := parseNamespaceDescriptor(ns, reply)
	if err != nil {
		return err
	}
	namespace := toRegistryNamespace(desc, p.ID, p.remoteCall)
	p.registry.LoadDeferred(p.ID, namespace)
	return nil
}

// remoteCall builds the closure a registry Var uses to invoke varName
// through this pod's dispatch engine.
func (p *Pod) remoteCall(varName string) func([]any) (any, error) {
	return func(args []any) (any, error) {
		return p.Invoke(context.Background(), varName, args, InvokeOpts{})
	}
}

// Shutdown gracefully stops the pod: sends {"op":"shutdown"}, cancels all
// outstanding dispatch requests, and waits for the process to exit
// (escalating to SIGTERM/SIGKILL per the supervisor's grace period).
func (p *Pod) Shutdown(ctx context.Context) error {
	var shutdownErr error
	p.stopOnce.Do(func() {
		slog.InfoContext(ctx, "pod shutdown", "pod", p.ID)
		p.engine.Cancel()
		shutdownErr = p.proc.Shutdown(ctx, func() error {
			return p.engine.Send(envelope.Dict{"op": "shutdown"})
		})
		if p.channel != nil {
			p.channel.Close()
		}
		p.registry.RemoveAllForPod(p.ID)
	})
	return shutdownErr
}

// InvokeOpts mirrors dispatch.InvokeOpts but keeps the dispatch package out
// of the façade's public surface.
type InvokeOpts struct {
	Callbacks *Callbacks
	Timeout   time.Duration
}

// Callbacks is the streaming contract exposed to façade callers.
type Callbacks struct {
	Success func(value any)
	Error   func(message string, data any)
	Done    func()
}
