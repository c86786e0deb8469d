// Package dispatch is the request-correlation engine at the heart of the
// host runtime: it owns a pod's single reader goroutine, serializes writes
// under one lock, and routes replies back to the caller that issued them by
// request id.
package dispatch

import (
	"bufio"
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/judepayne/go-pods/envelope"
	"github.com/judepayne/go-pods/errs"
)

// Callbacks is the streaming contract for an async invoke: success/error
// fire zero or more times, done fires exactly once, always last.
type Callbacks struct {
	Success func(value any)
	Error   func(exMessage string, exData any)
	Done    func()
}

// Reply is what a synchronous invoke resolves to.
type Reply struct {
	Value any
	Err   error
}

type pendingRequest struct {
	callbacks *Callbacks // non-nil for streaming registrations
	slot      chan Reply // non-nil for synchronous registrations
	buffered  []any      // values accumulated before done, when slot-only
	deadline  time.Time  // zero means no deadline
	timedOut  atomic.Bool
}

// Engine correlates one pod's outstanding requests with its transport.
type Engine struct {
	PodID string

	w      writer
	decode func(b []byte) (any, error)

	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]*pendingRequest
	stopping bool

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

// writer serializes envelope frames onto the transport under one lock.
type writer struct {
	mu sync.Mutex
	w  envelopeWriter
}

type envelopeWriter interface {
	WriteEnvelope(v envelope.Value) error
}

func (w *writer) write(v envelope.Value) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.WriteEnvelope(v)
}

// rawWriter adapts any io.Writer-shaped channel to envelopeWriter.
type rawWriter struct {
	write func(envelope.Value) error
}

func (r rawWriter) WriteEnvelope(v envelope.Value) error { return r.write(v) }

// New builds an Engine that writes envelopes through sendEnvelope and
// decodes reply payloads with decode, for the pod's negotiated format. The
// returned Engine's Run method must be started before any Invoke is issued.
func New(ctx context.Context, podID string, sendEnvelope func(envelope.Value) error, decode func([]byte) (any, error)) *Engine {
	gctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(gctx)
	return &Engine{
		PodID:   podID,
		w:       writer{w: rawWriter{write: sendEnvelope}},
		decode:  decode,
		pending: map[int64]*pendingRequest{},
		group:   group,
		gctx:    gctx,
		cancel:  cancel,
	}
}

// Run starts the reader loop against r in its own goroutine and returns at
// once. The loop decodes one envelope per iteration and routes replies by
// id; it ends only when reading from r fails (end of stream or a malformed
// frame), and Cancel does not stop it. Wait blocks until it has ended.
func (e *Engine) Run(r *bufio.Reader, onUnexpectedEOF func(error)) {
	e.group.Go(func() error {
		for {
			v, err := envelope.Decode(r)
			if err != nil {
				e.mu.Lock()
				stopping := e.stopping
				e.mu.Unlock()
				if !stopping && onUnexpectedEOF != nil {
					onUnexpectedEOF(err)
				}
				e.failAllOutstanding(errs.ForPod(errs.PodTerminated, e.PodID, err, "reader loop ended"))
				return err
			}
			dict, ok := v.(envelope.Dict)
			if !ok {
				slog.Warn("dispatch: reply is not a dictionary", "pod", e.PodID)
				continue
			}
			e.routeReply(dict)
		}
	})
}

// Wait blocks until the reader goroutine exits.
func (e *Engine) Wait() error {
	return e.group.Wait()
}

func (e *Engine) routeReply(d envelope.Dict) {
	idStr, _ := d.String("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		slog.Warn("dispatch: reply with unparsable id", "pod", e.PodID, "id", idStr)
		return
	}

	e.mu.Lock()
	req, ok := e.pending[id]
	if ok && (req.slot != nil && req.timedOut.Load()) {
		// Late reply after local timeout: drop and log, keep id reserved.
		e.mu.Unlock()
		slog.Info("dispatch: dropping late reply for timed-out request", "pod", e.PodID, "id", id)
		return
	}
	e.mu.Unlock()
	if !ok {
		slog.Warn("dispatch: reply for unknown request id", "pod", e.PodID, "id", id)
		return
	}

	statusList, _ := d["status"].(envelope.List)
	status := map[string]bool{}
	for _, s := range statusList {
		if b, ok := s.([]byte); ok {
			status[string(b)] = true
		}
	}

	var value any
	if raw, ok := d.Bytes("value"); ok {
		value, err = e.decode(raw)
		if err != nil {
			value = nil
		}
	} else if _, ok := d["namespaces"]; ok {
		// load-ns replies are shaped like a describe reply: the namespace
		// descriptor sits directly in the envelope dict rather than behind
		// a payload-encoded "value" key.
		value = d
	}

	if status["done"] {
		e.finish(id, req, status, d, value)
		return
	}

	// Streaming reply.
	if req.callbacks != nil {
		if status["error"] {
			exMsg, _ := d.String("ex-message")
			var exData any
			if raw, ok := d.Bytes("ex-data"); ok {
				exData, _ = e.decode(raw)
			}
			if req.callbacks.Error != nil {
				req.callbacks.Error(exMsg, exData)
			}
			return
		}
		if req.callbacks.Success != nil {
			req.callbacks.Success(value)
		}
		return
	}

	e.mu.Lock()
	req.buffered = append(req.buffered, value)
	e.mu.Unlock()
}

func (e *Engine) finish(id int64, req *pendingRequest, status map[string]bool, d envelope.Dict, value any) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()

	if req.callbacks != nil {
		if status["error"] {
			exMsg, _ := d.String("ex-message")
			var exData any
			if raw, ok := d.Bytes("ex-data"); ok {
				exData, _ = e.decode(raw)
			}
			if req.callbacks.Error != nil {
				req.callbacks.Error(exMsg, exData)
			}
		} else if value != nil && req.callbacks.Success != nil {
			req.callbacks.Success(value)
		}
		if req.callbacks.Done != nil {
			req.callbacks.Done()
		}
		return
	}

	if req.slot == nil {
		return
	}
	if status["error"] {
		exMsg, _ := d.String("ex-message")
		var exData any
		if raw, ok := d.Bytes("ex-data"); ok {
			exData, _ = e.decode(raw)
		}
		req.slot <- Reply{Err: errs.ForPodData(e.PodID, exData, "%s", exMsg)}
		return
	}
	if len(req.buffered) > 0 {
		req.slot <- Reply{Value: req.buffered}
		return
	}
	req.slot <- Reply{Value: value}
}

// InvokeOpts configures a single invoke call.
type InvokeOpts struct {
	Callbacks *Callbacks
	Timeout   time.Duration // zero means no deadline
}

// Invoke writes an {"op":"invoke", ...} envelope and either blocks for the
// terminal reply (opts.Callbacks == nil) or registers streaming callbacks
// and returns immediately after the write succeeds.
func (e *Engine) Invoke(ctx context.Context, varName string, encodedArgs []byte, opts InvokeOpts) (any, error) {
	id := e.nextID.Add(1)

	req := &pendingRequest{callbacks: opts.Callbacks}
	if opts.Callbacks == nil {
		req.slot = make(chan Reply, 1)
	}
	if opts.Timeout > 0 {
		req.deadline = time.Now().Add(opts.Timeout)
	}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return nil, errs.ForPod(errs.PodCancelled, e.PodID, nil, "pod is unloading")
	}
	e.pending[id] = req
	e.mu.Unlock()

	env := envelope.Dict{
		"op":   "invoke",
		"id":   strconv.FormatInt(id, 10),
		"var":  varName,
		"args": encodedArgs,
	}
	if err := e.w.write(env); err != nil {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		return nil, errs.ForPod(errs.PodError, e.PodID, err, "writing invoke envelope")
	}

	if opts.Callbacks != nil {
		return nil, nil
	}

	if opts.Timeout <= 0 {
		r := <-req.slot
		return r.Value, r.Err
	}

	select {
	case r := <-req.slot:
		return r.Value, r.Err
	case <-time.After(opts.Timeout):
		req.timedOut.Store(true)
		return nil, errs.ForPod(errs.PodTimeout, e.PodID, nil, "invoke %s timed out after %s", varName, opts.Timeout)
	}
}

// LoadNS writes an {"op":"load-ns", ...} envelope for a deferred namespace
// and blocks for the terminal reply, the same correlation path as Invoke.
func (e *Engine) LoadNS(ctx context.Context, ns string, opts InvokeOpts) (any, error) {
	id := e.nextID.Add(1)

	req := &pendingRequest{callbacks: opts.Callbacks}
	if opts.Callbacks == nil {
		req.slot = make(chan Reply, 1)
	}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return nil, errs.ForPod(errs.PodCancelled, e.PodID, nil, "pod is unloading")
	}
	e.pending[id] = req
	e.mu.Unlock()

	env := envelope.Dict{
		"op": "load-ns",
		"id": strconv.FormatInt(id, 10),
		"ns": ns,
	}
	if err := e.w.write(env); err != nil {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		return nil, errs.ForPod(errs.PodError, e.PodID, err, "writing load-ns envelope")
	}

	if opts.Callbacks != nil {
		return nil, nil
	}

	if opts.Timeout <= 0 {
		r := <-req.slot
		return r.Value, r.Err
	}
	select {
	case r := <-req.slot:
		return r.Value, r.Err
	case <-time.After(opts.Timeout):
		req.timedOut.Store(true)
		return nil, errs.ForPod(errs.PodTimeout, e.PodID, nil, "load-ns %s timed out after %s", ns, opts.Timeout)
	}
}

// Send writes a one-off envelope with no id and no expected reply, used for
// the shutdown message.
func (e *Engine) Send(v envelope.Value) error {
	return e.w.write(v)
}

// Cancel flips the stopping flag and fails every outstanding request with
// PodCancelled. Called by unload_pod before tearing down the transport.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
	e.failAllOutstanding(errs.ForPod(errs.PodCancelled, e.PodID, nil, "pod unloaded"))
	e.cancel()
}

func (e *Engine) failAllOutstanding(err error) {
	e.mu.Lock()
	pending := e.pending
	e.pending = map[int64]*pendingRequest{}
	e.mu.Unlock()

	for _, req := range pending {
		if req.callbacks != nil {
			if req.callbacks.Error != nil {
				req.callbacks.Error(err.Error(), nil)
			}
			if req.callbacks.Done != nil {
				req.callbacks.Done()
			}
			continue
		}
		if req.slot != nil {
			select {
			case req.slot <- Reply{Err: err}:
			default:
			}
		}
	}
}
