package edn

import (
	"testing"

	"github.com/judepayne/go-pods/payload"
)

func TestEncodeArgsBasicTypes(t *testing.T) {
	c := New(payload.NewHandlerSet())
	got, err := c.EncodeArgs([]any{int64(1), "two", payload.Keyword("three"), true, nil})
	if err != nil {
		t.Fatal(err)
	}
	want := `[1 "two" :three true nil]`
	if string(got) != want {
		t.Errorf("EncodeArgs = %q, want %q", got, want)
	}
}

func TestDecodeListVsVector(t *testing.T) {
	c := New(payload.NewHandlerSet())

	v, err := c.Decode([]byte("(1 2 3)"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(payload.List); !ok {
		t.Errorf("(1 2 3) decoded as %T, want payload.List", v)
	}

	v, err = c.Decode([]byte("[1 2 3]"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := v.(payload.Vector); !ok {
		t.Errorf("[1 2 3] decoded as %T, want payload.Vector", v)
	}
}

func TestRoundTripShapePreserved(t *testing.T) {
	c := New(payload.NewHandlerSet())
	cases := []any{
		payload.List{int64(1), int64(2)},
		payload.Vector{int64(1), int64(2)},
		payload.Keyword("foo"),
		"a string with \"quotes\" and \\backslash",
		int64(-42),
		3.5,
		true,
		false,
		nil,
	}
	for _, orig := range cases {
		var sb []byte
		args, err := c.EncodeArgs([]any{orig})
		if err != nil {
			t.Fatalf("EncodeArgs(%#v): %v", orig, err)
		}
		sb = args
		// strip surrounding vector brackets added by EncodeArgs to decode the
		// single element back out.
		inner := sb[1 : len(sb)-1]
		got, err := c.Decode(inner)
		if err != nil {
			t.Fatalf("Decode(%q): %v", inner, err)
		}
		if !equalEDN(orig, got) {
			t.Errorf("round trip %#v -> %q -> %#v", orig, inner, got)
		}
	}
}

func TestDecodeMap(t *testing.T) {
	c := New(payload.NewHandlerSet())
	v, err := c.Decode([]byte(`{:a 1 :b 2}`))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(payload.Map)
	if !ok {
		t.Fatalf("decoded %T, want payload.Map", v)
	}
	got, ok := m.Get(payload.Keyword("a"))
	if !ok || got.(int64) != 1 {
		t.Errorf("m[:a] = %#v", got)
	}
}

func TestDecodeSet(t *testing.T) {
	c := New(payload.NewHandlerSet())
	v, err := c.Decode([]byte(`#{1 2 3}`))
	if err != nil {
		t.Fatal(err)
	}
	s, ok := v.(payload.Set)
	if !ok || len(s) != 3 {
		t.Fatalf("decoded %#v, want a 3-element payload.Set", v)
	}
}

func TestUnregisteredTagDecodesAsTaggedLiteral(t *testing.T) {
	c := New(payload.NewHandlerSet())
	v, err := c.Decode([]byte(`#my/tag 42`))
	if err != nil {
		t.Fatal(err)
	}
	tl, ok := v.(payload.TaggedLiteral)
	if !ok || tl.Tag != "my/tag" || tl.Value.(int64) != 42 {
		t.Errorf("decoded %#v", v)
	}
}

func TestRegisteredReaderInvoked(t *testing.T) {
	h := payload.NewHandlerSet()
	h.AddEDNReader("my/tag", func(rep any) (any, error) {
		return "handled:" + rep.(string), nil
	}, false)
	c := New(h)
	v, err := c.Decode([]byte(`#my/tag "x"`))
	if err != nil {
		t.Fatal(err)
	}
	if v != "handled:x" {
		t.Errorf("decoded %#v", v)
	}
}

func TestTrailingDataIsError(t *testing.T) {
	c := New(payload.NewHandlerSet())
	if _, err := c.Decode([]byte(`1 2`)); err == nil {
		t.Error("expected error for trailing data")
	}
}

func equalEDN(a, b any) bool {
	switch av := a.(type) {
	case payload.List:
		bv, ok := b.(payload.List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalEDN(av[i], bv[i]) {
				return false
			}
		}
		return true
	case payload.Vector:
		bv, ok := b.(payload.Vector)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalEDN(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
