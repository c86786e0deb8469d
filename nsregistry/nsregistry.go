// Package nsregistry exposes a pod's described namespaces as host-side
// callables: eager namespaces become callables immediately, deferred ones
// wait for an explicit load, and a var carrying a code fragment becomes a
// host-evaluation task instead of a remote callable.
package nsregistry

import (
	"strings"
	"sync"

	"github.com/judepayne/go-pods/errs"
)

// VarKind discriminates what calling a Var actually does.
type VarKind int

const (
	// RemoteCallable invokes the var through the dispatch engine.
	RemoteCallable VarKind = iota
	// HostEvaluation hands Code to the embedder's EvaluateHostCode hook
	// instead of calling the pod.
	HostEvaluation
)

// Var is one exposed pod function.
type Var struct {
	Name      string // verbatim name as described by the pod
	Namespace string
	Kind      VarKind
	Code      string // non-empty only when Kind == HostEvaluation
	Doc       string
	Async     bool

	// Call invokes the remote var (Kind == RemoteCallable). Patches replace
	// this closure; Original recovers the pre-patch closure.
	Call     func(args []any) (any, error)
	Original func(args []any) (any, error)
}

// IdiomaticName converts a pod-side identifier (hyphen-separated, Lisp
// style) into the host's preferred style (underscore-separated), the same
// transform applied to every alias the registry exposes.
func IdiomaticName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// Namespace is one pod namespace's exposed vars, keyed by every alias
// (verbatim and idiomatic) that should resolve to the same Var.
type Namespace struct {
	Name    string
	PodID   string
	vars    map[string]*Var // alias -> var
	ordered []*Var
}

func newNamespace(name, podID string) *Namespace {
	return &Namespace{Name: name, PodID: podID, vars: map[string]*Var{}}
}

// Add registers v under both its verbatim name and its idiomatic alias
// (only one entry if they're equal).
func (ns *Namespace) Add(v *Var) {
	ns.vars[v.Name] = v
	if idiom := IdiomaticName(v.Name); idiom != v.Name {
		ns.vars[idiom] = v
	}
	ns.ordered = append(ns.ordered, v)
}

// Lookup resolves either alias of a var.
func (ns *Namespace) Lookup(name string) (*Var, bool) {
	v, ok := ns.vars[name]
	return v, ok
}

// Vars returns every distinct var in this namespace, in registration order.
func (ns *Namespace) Vars() []*Var {
	out := make([]*Var, len(ns.ordered))
	copy(out, ns.ordered)
	return out
}

// EvaluateHostCode is the single capability the embedder plugs in to run a
// pod-supplied source fragment in a scope that already contains the other
// exposed vars of that namespace. The core never executes code itself.
type EvaluateHostCode func(ns *Namespace, source string) (any, error)

// Registry is the process-wide namespace table, guarded by a single mutex
// per §5's "global namespace registry is guarded by a single mutex".
type Registry struct {
	mu       sync.Mutex
	exposed  map[string]*Namespace   // name -> namespace, eagerly exposed
	deferred map[string]map[string]bool // pod id -> set of deferred namespace names
	evalHost EvaluateHostCode

	frames []*frame // active-pod-frame stack, innermost last
}

type frame struct {
	podID    string
	format   string
	patches  *PatchSet
}

// PatchSet holds pod-wide and per-function overrides applied post-describe,
// pre-exposure.
type PatchSet struct {
	Namespace func(ns *Namespace) // mutate every var in the namespace
	Funcs     map[string]func(original func([]any) (any, error)) func([]any) (any, error)
}

func New() *Registry {
	return &Registry{
		exposed:  map[string]*Namespace{},
		deferred: map[string]map[string]bool{},
	}
}

// SetEvaluateHostCode installs the embedder's host-code evaluation hook.
func (r *Registry) SetEvaluateHostCode(fn EvaluateHostCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evalHost = fn
}

// PushFrame marks podID as the active pod for the duration of a load_pod
// call, so handler-registration functions called during describe know
// which pod's handler tables to mutate.
func (r *Registry) PushFrame(podID, format string, patches *PatchSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, &frame{podID: podID, format: format, patches: patches})
}

// PopFrame removes the innermost active-pod frame.
func (r *Registry) PopFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) > 0 {
		r.frames = r.frames[:len(r.frames)-1]
	}
}

// ActivePod returns the innermost active pod id and format, or
// NoActivePod if no load_pod call is in progress.
func (r *Registry) ActivePod() (podID, format string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return "", "", errs.New(errs.NoActivePod, "no pod is currently loading")
	}
	top := r.frames[len(r.frames)-1]
	return top.podID, top.format, nil
}

// RequireFormat fails WrongFormat if the active pod's format isn't one of
// the allowed ones (used by add_edn_* / add_transit_* handler registration).
func (r *Registry) RequireFormat(allowed ...string) (podID string, err error) {
	podID, format, err := r.ActivePod()
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if a == format {
			return podID, nil
		}
	}
	return "", errs.ForPod(errs.WrongFormat, podID, nil, "pod uses format %q, not one of %v", format, allowed)
}

// ExposeEager registers ns as an immediately-callable namespace, applying
// any patches queued for the currently active pod frame.
func (r *Registry) ExposeEager(ns *Namespace) {
	r.mu.Lock()
	patches := r.currentPatches()
	r.mu.Unlock()

	if patches != nil {
		applyPatches(ns, patches)
	}

	r.mu.Lock()
	r.exposed[ns.Name] = ns
	r.mu.Unlock()
}

// ExposeDeferred records ns's name as not-yet-loaded for podID, without
// building its var table.
func (r *Registry) ExposeDeferred(podID, nsName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.deferred[podID]
	if !ok {
		set = map[string]bool{}
		r.deferred[podID] = set
	}
	set[nsName] = true
}

// LoadDeferred promotes a previously-deferred namespace name to eager once
// its vars have been fetched via load-ns; callers build ns then call this.
func (r *Registry) LoadDeferred(podID string, ns *Namespace) {
	r.mu.Lock()
	if set, ok := r.deferred[podID]; ok {
		delete(set, ns.Name)
	}
	r.mu.Unlock()
	r.ExposeEager(ns)
}

func (r *Registry) currentPatches() *PatchSet {
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1].patches
}

func applyPatches(ns *Namespace, patches *PatchSet) {
	if patches.Namespace != nil {
		patches.Namespace(ns)
	}
	for name, wrap := range patches.Funcs {
		v, ok := ns.Lookup(name)
		if !ok {
			continue
		}
		v.Original = v.Call
		v.Call = wrap(v.Original)
	}
}

// Lookup resolves a namespace-qualified var, e.g. "pod.test-pod/add-one".
func (r *Registry) Lookup(qualified string) (*Var, error) {
	nsName, varName, ok := strings.Cut(qualified, "/")
	if !ok {
		return nil, errs.New(errs.NoActivePod, "not a namespace-qualified var: %q", qualified)
	}
	r.mu.Lock()
	ns, ok := r.exposed[nsName]
	r.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.NoActivePod, "namespace %q is not exposed", nsName)
	}
	v, ok := ns.Lookup(varName)
	if !ok {
		return nil, errs.New(errs.NoActivePod, "var %q not found in namespace %q", varName, nsName)
	}
	return v, nil
}

// ListModules enumerates currently exposed namespaces and their originating
// pod ids.
func (r *Registry) ListModules() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.exposed))
	for name, ns := range r.exposed {
		out[name] = ns.PodID
	}
	return out
}

// ListDeferred enumerates not-yet-loaded namespace names, optionally
// scoped to one pod id.
func (r *Registry) ListDeferred(podID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	if podID != "" {
		for name := range r.deferred[podID] {
			out = append(out, name)
		}
		return out
	}
	for _, set := range r.deferred {
		for name := range set {
			out = append(out, name)
		}
	}
	return out
}

// RemoveAllForPod drops every namespace (exposed or deferred) that
// originated from podID, called by unload_pod.
func (r *Registry) RemoveAllForPod(podID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, ns := range r.exposed {
		if ns.PodID == podID {
			delete(r.exposed, name)
		}
	}
	delete(r.deferred, podID)
}

// EvaluateHostCode runs v's code fragment through the embedder's hook. It
// fails if v isn't a host-evaluation var or no hook has been installed.
func (r *Registry) EvaluateHostCode(ns *Namespace, v *Var) (any, error) {
	if v.Kind != HostEvaluation {
		return nil, errs.New(errs.NoActivePod, "var %q is not a host-evaluation var", v.Name)
	}
	r.mu.Lock()
	hook := r.evalHost
	r.mu.Unlock()
	if hook == nil {
		return nil, errs.New(errs.NoActivePod, "no evaluate_host_code hook installed")
	}
	return hook(ns, v.Code)
}

// EvaluateReaderSource runs a describe.readers source fragment through the
// embedder's hook with no namespace scope, since a tag reader/writer isn't
// attached to any one namespace the way a host-evaluation var is.
func (r *Registry) EvaluateReaderSource(source string) (any, error) {
	r.mu.Lock()
	hook := r.evalHost
	r.mu.Unlock()
	if hook == nil {
		return nil, errs.New(errs.NoActivePod, "no evaluate_host_code hook installed")
	}
	return hook(nil, source)
}

// NewNamespace is exported for callers building a Namespace from a describe
// (or load-ns) reply.
func NewNamespace(name, podID string) *Namespace {
	return newNamespace(name, podID)
}
