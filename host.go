package pods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/judepayne/go-pods/config"
	"github.com/judepayne/go-pods/dispatch"
	"github.com/judepayne/go-pods/envelope"
	"github.com/judepayne/go-pods/nsregistry"
	"github.com/judepayne/go-pods/payload"
	"github.com/judepayne/go-pods/payload/edn"
	"github.com/judepayne/go-pods/payload/jsoncodec"
	"github.com/judepayne/go-pods/payload/transit"
	"github.com/judepayne/go-pods/resolver"
	"github.com/judepayne/go-pods/supervisor"
	"github.com/judepayne/go-pods/telemetry"
	"github.com/judepayne/go-pods/transport"
)

// CommandSpec loads a pod by executing argv directly.
type CommandSpec struct{ Argv []string }

// PathSpec loads a pod from a local executable path.
type PathSpec struct{ Path string }

// CoordinateSpec loads a pod by resolving qualifier/name@version against the
// registry, downloading and caching the artifact as needed.
type CoordinateSpec struct {
	Qualifier string
	Name      string
	Version   string
}

// PodSpec is the discriminated union load_pod accepts: a command vector, a
// local path, or a registry coordinate. Exactly one of the three fields
// should be populated; the facade distinguishes the variants by which
// optional field is set.
type PodSpec struct {
	Command *CommandSpec
	Path    *PathSpec
	Coord   *CoordinateSpec
}

func (s PodSpec) describe() string {
	switch {
	case s.Command != nil:
		return strings.Join(s.Command.Argv, " ")
	case s.Path != nil:
		return s.Path.Path
	case s.Coord != nil:
		return fmt.Sprintf("%s/%s@%s", s.Coord.Qualifier, s.Coord.Name, s.Coord.Version)
	default:
		return "<empty pod spec>"
	}
}

// LoadOpts configures load_pod.
type LoadOpts struct {
	// Force re-spawns a registry-coordinate pod even if already loaded.
	Force bool
	// Socket requests socket transport instead of the stdio default.
	Socket bool
	// Env is appended to the spawned process's environment.
	Env []string
	// StderrSink receives the pod's stderr, line by line.
	StderrSink supervisor.StderrSink
	// DescribeTimeout bounds how long a socket-transport load waits for the
	// pod's port file and connection. Zero means transport.HandshakeTimeout
	// (10s). The describe exchange itself has no deadline, and stdio loads
	// ignore this field.
	DescribeTimeout time.Duration
	// EvaluateHostCode runs host-evaluation var source fragments. Required
	// only if a loaded pod actually describes vars carrying a code field.
	EvaluateHostCode nsregistry.EvaluateHostCode
}

// Host owns every loaded pod and the shared namespace registry they expose
// into.
type Host struct {
	Registry  *nsregistry.Registry
	Resolver  *resolver.Resolver
	CacheRoot string

	mu   sync.Mutex
	pods map[string]*Pod

	hookOnce sync.Once
}

// NewHost builds a Host with its own namespace registry. res may be nil for
// hosts that never load registry-coordinate pods (command/path specs only).
func NewHost(res *resolver.Resolver, cacheRoot string) *Host {
	return &Host{
		Registry:  nsregistry.New(),
		Resolver:  res,
		CacheRoot: cacheRoot,
		pods:      map[string]*Pod{},
	}
}

// LoadPod spawns (or resolves and spawns) a pod per spec, completes the
// describe handshake, and registers its namespaces. Idempotent for
// CoordinateSpec: a second load of the same coordinate returns the existing
// handle unless opts.Force is set.
func (h *Host) LoadPod(ctx context.Context, spec PodSpec, opts LoadOpts) (*Pod, error) {
	id := h.podID(spec)

	if spec.Coord != nil && !opts.Force {
		h.mu.Lock()
		existing, ok := h.pods[id]
		h.mu.Unlock()
		if ok {
			return existing, nil
		}
	}

	ctx, end := telemetry.StartSpan(ctx, "host.load_pod", id)
	var err error
	defer func() { end(err) }()

	argv, dir, cleanup, err := h.resolveArgv(ctx, spec)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	proc, err := supervisor.Spawn(ctx, id, supervisor.SpawnOpts{
		Argv:       argv,
		Dir:        dir,
		Env:        opts.Env,
		Socket:     opts.Socket,
		StderrSink: opts.StderrSink,
	})
	if err != nil {
		return nil, err
	}

	channel, err := h.openChannel(proc, dir, opts)
	if err != nil {
		proc.Shutdown(ctx, nil)
		return nil, err
	}

	reply, err := describePod(channel)
	if err != nil {
		channel.Close()
		proc.Shutdown(ctx, nil)
		return nil, fmt.Errorf("describing pod %s: %w", id, err)
	}

	format := payload.Format(reply.Format)
	handlers := payload.NewHandlerSet()
	codec, err := buildCodec(format, handlers)
	if err != nil {
		channel.Close()
		proc.Shutdown(ctx, nil)
		return nil, err
	}

	sendEnvelope := func(v envelope.Value) error { return envelope.Encode(channel.Writer(), v) }
	decode := func(b []byte) (any, error) { return codec.Decode(b) }
	engine := dispatch.New(ctx, id, sendEnvelope, decode)

	pod := &Pod{
		ID:       id,
		Format:   format,
		Codec:    codec,
		Handler:  handlers,
		registry: h.Registry,
		proc:     proc,
		channel:  channel,
		engine:   engine,
	}

	h.mu.Lock()
	h.pods[id] = pod
	h.mu.Unlock()

	proc.OnUnexpectedExit(func(exitErr error) {
		h.mu.Lock()
		delete(h.pods, id)
		h.mu.Unlock()
		h.Registry.RemoveAllForPod(id)
	})

	engine.Run(channel.Reader(), func(err error) {
		slog.Warn("pod reader loop ended unexpectedly", "pod", id, "error", err)
	})

	if opts.EvaluateHostCode != nil {
		h.Registry.SetEvaluateHostCode(opts.EvaluateHostCode)
	}

	// The active-pod frame scopes add_edn_read_handler and its siblings
	// (below) to this pod's handler table for as long as describe's reader
	// sources are being evaluated and its namespaces registered.
	h.Registry.PushFrame(id, string(format), nil)
	h.installReaders(id, format, reply, handlers)
	for _, nsDesc := range reply.Namespaces {
		if reply.Defer[nsDesc.Name] {
			h.Registry.ExposeDeferred(id, nsDesc.Name)
			continue
		}
		ns := toRegistryNamespace(nsDesc, id, pod.remoteCall)
		h.Registry.ExposeEager(ns)
	}
	h.Registry.PopFrame()

	return pod, nil
}

// hostReaderDialect is the describe.readers key a pod writes a reader
// function's source under for this host to evaluate, e.g.
// {"readers": {"go": {"person": "..."}}}.
const hostReaderDialect = "go"

// installReaders evaluates every describe.readers source written in this
// host's dialect and registers the resulting handler into handlers, unless
// a handler for the same tag is later registered at runtime (AddEDNReader
// and AddTransitReader both give runtime registration priority over a
// describe-derived one for the same tag).
func (h *Host) installReaders(podID string, format payload.Format, reply *describeReply, handlers *payload.HandlerSet) {
	tagSrc, ok := reply.Readers[hostReaderDialect]
	if !ok {
		return
	}
	for tag, src := range tagSrc {
		value, err := h.Registry.EvaluateReaderSource(src)
		if err != nil {
			slog.Warn("describe reader evaluation failed", "pod", podID, "tag", tag, "error", err)
			continue
		}
		fn, ok := value.(payload.ReadHandler)
		if !ok {
			if plain, ok2 := value.(func(any) (any, error)); ok2 {
				fn = plain
			} else {
				slog.Warn("describe reader did not evaluate to a read handler", "pod", podID, "tag", tag)
				continue
			}
		}
		switch format {
		case payload.EDN:
			handlers.AddEDNReader(tag, fn, false)
		case payload.Transit:
			handlers.AddTransitReader(tag, fn, false)
		default:
			slog.Warn("describe reader ignored: format has no tag reader table", "pod", podID, "tag", tag, "format", format)
		}
	}
}

// LoadDeclaredPods loads every pod declared in pyprojectPath (or yamlPath as
// a fallback, when pyprojectPath doesn't exist), restricting to declarations
// whose Name matches one of selectors when any are given. A declaration that
// fails to load doesn't stop the rest; every per-declaration failure is
// collected and returned joined alongside whichever pods did load.
func (h *Host) LoadDeclaredPods(ctx context.Context, pyprojectPath, yamlPath string, selectors ...string) ([]*Pod, error) {
	decls, err := config.LoadAny(pyprojectPath, yamlPath)
	if err != nil {
		return nil, fmt.Errorf("loading pod declarations: %w", err)
	}

	var want map[string]bool
	if len(selectors) > 0 {
		want = make(map[string]bool, len(selectors))
		for _, s := range selectors {
			want[s] = true
		}
	}

	var loaded []*Pod
	var errs []error
	for _, decl := range decls {
		if want != nil && !want[decl.Name] {
			continue
		}
		spec, serr := specForDecl(decl)
		if serr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", decl.Name, serr))
			continue
		}
		pod, lerr := h.LoadPod(ctx, spec, LoadOpts{})
		if lerr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", decl.Name, lerr))
			continue
		}
		loaded = append(loaded, pod)
	}
	return loaded, errors.Join(errs...)
}

// specForDecl converts a declarative pod entry into the PodSpec load_pod
// expects: a local path if declared, otherwise a registry coordinate parsed
// from the declaration's qualifier/name.
func specForDecl(decl config.PodDecl) (PodSpec, error) {
	if decl.Path != "" {
		return PodSpec{Path: &PathSpec{Path: decl.Path}}, nil
	}
	qualifier, name, ok := strings.Cut(decl.Name, "/")
	if !ok {
		return PodSpec{}, fmt.Errorf("pod name %q is not a qualifier/name coordinate", decl.Name)
	}
	return PodSpec{Coord: &CoordinateSpec{Qualifier: qualifier, Name: name, Version: decl.Version}}, nil
}

// UnloadPod gracefully stops the pod identified by id and removes its
// namespace registrations.
func (h *Host) UnloadPod(ctx context.Context, id string) error {
	h.mu.Lock()
	pod, ok := h.pods[id]
	if ok {
		delete(h.pods, id)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	return pod.Shutdown(ctx)
}

// UnloadAll stops every loaded pod, used by the process-exit hook so no
// child process is ever leaked.
func (h *Host) UnloadAll(ctx context.Context) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.pods))
	for id := range h.pods {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.UnloadPod(ctx, id)
	}
}

// EnsureCleanupHook installs, at most once per Host, a SIGINT/SIGTERM
// handler that unloads every live pod before the process exits. Callers
// that embed a Host in a long-running program should call this explicitly
// rather than relying on an implicit package init, since a library has no
// business installing global signal handlers the caller didn't ask for.
func (h *Host) EnsureCleanupHook() {
	h.hookOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			slog.Warn("signal received, unloading all pods")
			h.UnloadAll(context.Background())
			signal.Stop(sigCh)
		}()
	})
}

// AddEDNReadHandler registers a reader for tag on the pod whose load_pod
// call is currently in progress (see PushFrame in LoadPod), failing
// WrongFormat if that pod didn't negotiate the EDN format.
func (h *Host) AddEDNReadHandler(tag string, fn payload.ReadHandler) error {
	pod, err := h.activePod(string(payload.EDN))
	if err != nil {
		return err
	}
	pod.Handler.AddEDNReader(tag, fn, true)
	return nil
}

// AddEDNWriteHandler registers fn as the writer for values of type t on the
// pod currently loading.
func (h *Host) AddEDNWriteHandler(t reflect.Type, fn payload.WriteHandler) error {
	pod, err := h.activePod(string(payload.EDN))
	if err != nil {
		return err
	}
	pod.Handler.AddEDNWriter(t, fn)
	return nil
}

// AddTransitReadHandler registers a reader for tag on the pod currently
// loading, failing WrongFormat if it didn't negotiate transit.
func (h *Host) AddTransitReadHandler(tag string, fn payload.ReadHandler) error {
	pod, err := h.activePod(string(payload.Transit))
	if err != nil {
		return err
	}
	pod.Handler.AddTransitReader(tag, fn, true)
	return nil
}

// AddTransitWriteHandler registers fn as the writer for values of type t on
// the pod currently loading.
func (h *Host) AddTransitWriteHandler(t reflect.Type, fn payload.WriteHandler) error {
	pod, err := h.activePod(string(payload.Transit))
	if err != nil {
		return err
	}
	pod.Handler.AddTransitWriter(t, fn)
	return nil
}

// SetDefaultTransitWriteHandler installs fn as the fallback transit writer,
// invoked for any value none of the type-specific writers claimed.
func (h *Host) SetDefaultTransitWriteHandler(fn payload.WriteHandler) error {
	pod, err := h.activePod(string(payload.Transit))
	if err != nil {
		return err
	}
	pod.Handler.SetTransitDefaultWriter(fn)
	return nil
}

// activePod resolves the pod bound to the registry's innermost active-pod
// frame, requiring its negotiated format be one of allowedFormats.
func (h *Host) activePod(allowedFormats ...string) (*Pod, error) {
	podID, err := h.Registry.RequireFormat(allowedFormats...)
	if err != nil {
		return nil, err
	}
	pod, ok := h.Pod(podID)
	if !ok {
		return nil, fmt.Errorf("pod %s is not loaded", podID)
	}
	return pod, nil
}

// Pod returns the loaded pod handle for id, if any.
func (h *Host) Pod(id string) (*Pod, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pods[id]
	return p, ok
}

// ListPodModules enumerates currently exposed namespaces and their
// originating pod ids.
func (h *Host) ListPodModules() map[string]string {
	return h.Registry.ListModules()
}

// ListDeferredNamespaces enumerates not-yet-loaded namespaces, optionally
// scoped to one pod id.
func (h *Host) ListDeferredNamespaces(podID string) []string {
	return h.Registry.ListDeferred(podID)
}

// LoadAndExposeNamespace force-loads a deferred namespace on podID.
func (h *Host) LoadAndExposeNamespace(ctx context.Context, podID, ns string) error {
	pod, ok := h.Pod(podID)
	if !ok {
		return fmt.Errorf("pod %s is not loaded", podID)
	}
	return pod.LoadNamespace(ctx, ns)
}

func (h *Host) podID(spec PodSpec) string {
	switch {
	case spec.Coord != nil:
		return spec.Coord.Qualifier + "/" + spec.Coord.Name
	case spec.Path != nil:
		return spec.Path.Path
	case spec.Command != nil:
		return strings.Join(spec.Command.Argv, " ")
	default:
		return "unknown-pod"
	}
}

// resolveArgv turns a PodSpec into an executable argv and working directory.
// For CoordinateSpec this may resolve (download/cache) an artifact first;
// cleanup is non-nil only when callers must remove a scratch directory
// afterwards (never needed today, reserved for future archive staging).
func (h *Host) resolveArgv(ctx context.Context, spec PodSpec) (argv []string, dir string, cleanup func(), err error) {
	switch {
	case spec.Command != nil:
		return spec.Command.Argv, "", nil, nil
	case spec.Path != nil:
		return []string{spec.Path.Path}, "", nil, nil
	case spec.Coord != nil:
		if h.Resolver == nil {
			return nil, "", nil, fmt.Errorf("loading %s: no resolver configured", spec.describe())
		}
		resolved, rerr := h.Resolver.Resolve(ctx, spec.Coord.Qualifier, spec.Coord.Name, spec.Coord.Version)
		if rerr != nil {
			return nil, "", nil, rerr
		}
		exe, eerr := resolver.ExecutablePath(resolved.Path)
		if eerr != nil {
			return nil, "", nil, eerr
		}
		return []string{exe}, resolved.Path, nil, nil
	default:
		return nil, "", nil, fmt.Errorf("empty pod spec")
	}
}

func (h *Host) openChannel(proc *supervisor.Process, dir string, opts LoadOpts) (transport.Channel, error) {
	if !opts.Socket {
		return transport.NewStreamChannel(proc.Stdout(), proc.Stdin()), nil
	}
	timeout := opts.DescribeTimeout
	if timeout <= 0 {
		timeout = transport.HandshakeTimeout
	}
	return transport.DialSocket(proc.PodID, transport.PortFilePath(dir, proc.Pid()), timeout)
}

// describePod performs the synchronous {"op":"describe"} exchange directly
// on the raw channel, before the dispatch engine's reader goroutine takes
// ownership of the read side.
func describePod(channel transport.Channel) (*describeReply, error) {
	if err := envelope.Encode(channel.Writer(), envelope.Dict{"op": "describe"}); err != nil {
		return nil, fmt.Errorf("writing describe: %w", err)
	}
	v, err := envelope.Decode(channel.Reader())
	if err != nil {
		return nil, fmt.Errorf("reading describe reply: %w", err)
	}
	d, ok := v.(envelope.Dict)
	if !ok {
		return nil, fmt.Errorf("describe reply is not a dictionary")
	}
	return parseDescribeReply(d)
}

// buildCodec constructs the payload codec for the negotiated format. EDN and
// transit codecs share the handler table callers populate via
// add_{edn,transit}_{read,write}_handler; JSON carries no handler table.
func buildCodec(format payload.Format, handlers *payload.HandlerSet) (payload.Codec, error) {
	switch format {
	case payload.EDN:
		return edn.New(handlers), nil
	case payload.JSON:
		return jsoncodec.New(), nil
	case payload.Transit:
		return transit.New(handlers), nil
	default:
		return nil, fmt.Errorf("unsupported pod format %q", format)
	}
}
