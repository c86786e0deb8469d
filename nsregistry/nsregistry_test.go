package nsregistry

import (
	"testing"

	"github.com/judepayne/go-pods/errs"
)

func TestIdiomaticNameConvertsHyphenToUnderscore(t *testing.T) {
	if got := IdiomaticName("add-one"); got != "add_one" {
		t.Errorf("IdiomaticName = %q", got)
	}
}

func TestNamespaceLookupBothAliases(t *testing.T) {
	ns := NewNamespace("pod.test-pod", "pod-1")
	v := &Var{Name: "add-one", Namespace: ns.Name, Call: func(args []any) (any, error) { return 42, nil }}
	ns.Add(v)

	verbatim, ok := ns.Lookup("add-one")
	if !ok || verbatim != v {
		t.Fatal("verbatim alias lookup failed")
	}
	idiom, ok := ns.Lookup("add_one")
	if !ok || idiom != v {
		t.Fatal("idiomatic alias lookup failed")
	}
}

func TestActivePodFailsWithNoActivePodWhenStackEmpty(t *testing.T) {
	r := New()
	_, _, err := r.ActivePod()
	if !errs.Is(err, errs.NoActivePod) {
		t.Errorf("got %v, want NoActivePod", err)
	}
}

func TestPushPopFrame(t *testing.T) {
	r := New()
	r.PushFrame("pod-1", "edn", nil)
	podID, format, err := r.ActivePod()
	if err != nil {
		t.Fatal(err)
	}
	if podID != "pod-1" || format != "edn" {
		t.Errorf("ActivePod = %q, %q", podID, format)
	}
	r.PopFrame()
	if _, _, err := r.ActivePod(); !errs.Is(err, errs.NoActivePod) {
		t.Error("expected NoActivePod after popping the only frame")
	}
}

func TestRequireFormatFailsWrongFormat(t *testing.T) {
	r := New()
	r.PushFrame("pod-1", "json", nil)
	defer r.PopFrame()
	if _, err := r.RequireFormat("edn", "transit+json"); !errs.Is(err, errs.WrongFormat) {
		t.Errorf("got %v, want WrongFormat", err)
	}
	if _, err := r.RequireFormat("json"); err != nil {
		t.Errorf("RequireFormat(json) on a json pod should succeed: %v", err)
	}
}

func TestExposeEagerAndLookup(t *testing.T) {
	r := New()
	ns := NewNamespace("pod.test-pod", "pod-1")
	ns.Add(&Var{Name: "add-one", Call: func(args []any) (any, error) { return 42, nil }})
	r.ExposeEager(ns)

	v, err := r.Lookup("pod.test-pod/add-one")
	if err != nil {
		t.Fatal(err)
	}
	result, err := v.Call(nil)
	if err != nil || result != 42 {
		t.Errorf("Call = %v, %v", result, err)
	}
}

func TestDeferredThenLoadPromotesToEager(t *testing.T) {
	r := New()
	r.ExposeDeferred("pod-1", "pod.lazy-ns")

	if got := r.ListDeferred("pod-1"); len(got) != 1 || got[0] != "pod.lazy-ns" {
		t.Fatalf("ListDeferred = %v", got)
	}

	ns := NewNamespace("pod.lazy-ns", "pod-1")
	ns.Add(&Var{Name: "greet", Call: func(args []any) (any, error) { return "hi", nil }})
	r.LoadDeferred("pod-1", ns)

	if got := r.ListDeferred("pod-1"); len(got) != 0 {
		t.Errorf("ListDeferred after load = %v, want empty", got)
	}
	if _, err := r.Lookup("pod.lazy-ns/greet"); err != nil {
		t.Errorf("Lookup after LoadDeferred: %v", err)
	}
}

func TestPatchWrapsCallAndOriginalDelegates(t *testing.T) {
	r := New()
	ns := NewNamespace("pod.test-pod", "pod-1")
	ns.Add(&Var{Name: "add-one", Call: func(args []any) (any, error) { return 42, nil }})

	patches := &PatchSet{
		Funcs: map[string]func(func([]any) (any, error)) func([]any) (any, error){
			"add-one": func(original func([]any) (any, error)) func([]any) (any, error) {
				return func(args []any) (any, error) {
					v, err := original(args)
					if err != nil {
						return nil, err
					}
					return v.(int) + 1, nil
				}
			},
		},
	}
	r.PushFrame("pod-1", "edn", patches)
	r.ExposeEager(ns)
	r.PopFrame()

	v, err := r.Lookup("pod.test-pod/add-one")
	if err != nil {
		t.Fatal(err)
	}
	result, err := v.Call(nil)
	if err != nil || result != 43 {
		t.Errorf("patched Call = %v, %v, want 43", result, err)
	}
	orig, err := v.Original(nil)
	if err != nil || orig != 42 {
		t.Errorf("Original Call = %v, %v, want 42", orig, err)
	}
}

func TestEvaluateHostCodeRequiresHook(t *testing.T) {
	r := New()
	ns := NewNamespace("pod.test-pod", "pod-1")
	v := &Var{Name: "fragment", Kind: HostEvaluation, Code: "(+ 1 1)"}
	if _, err := r.EvaluateHostCode(ns, v); !errs.Is(err, errs.NoActivePod) {
		t.Errorf("got %v, want NoActivePod for missing hook", err)
	}

	r.SetEvaluateHostCode(func(ns *Namespace, source string) (any, error) {
		return "evaluated:" + source, nil
	})
	result, err := r.EvaluateHostCode(ns, v)
	if err != nil || result != "evaluated:(+ 1 1)" {
		t.Errorf("EvaluateHostCode = %v, %v", result, err)
	}
}

func TestEvaluateReaderSourceRequiresHook(t *testing.T) {
	r := New()
	if _, err := r.EvaluateReaderSource("(fn [rep] rep)"); !errs.Is(err, errs.NoActivePod) {
		t.Errorf("got %v, want NoActivePod for missing hook", err)
	}

	r.SetEvaluateHostCode(func(ns *Namespace, source string) (any, error) {
		if ns != nil {
			t.Error("expected a nil namespace for reader-source evaluation")
		}
		return "evaluated:" + source, nil
	})
	result, err := r.EvaluateReaderSource("(fn [rep] rep)")
	if err != nil || result != "evaluated:(fn [rep] rep)" {
		t.Errorf("EvaluateReaderSource = %v, %v", result, err)
	}
}

func TestRemoveAllForPod(t *testing.T) {
	r := New()
	ns := NewNamespace("pod.test-pod", "pod-1")
	ns.Add(&Var{Name: "add-one", Call: func(args []any) (any, error) { return 42, nil }})
	r.ExposeEager(ns)
	r.ExposeDeferred("pod-1", "pod.lazy-ns")

	r.RemoveAllForPod("pod-1")

	if _, err := r.Lookup("pod.test-pod/add-one"); err == nil {
		t.Error("expected lookup to fail after RemoveAllForPod")
	}
	if got := r.ListDeferred("pod-1"); len(got) != 0 {
		t.Errorf("ListDeferred after RemoveAllForPod = %v", got)
	}
}
