package transit

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/judepayne/go-pods/payload"
)

func TestEncodeArgsScalars(t *testing.T) {
	c := New(payload.NewHandlerSet())
	got, err := c.EncodeArgs([]any{int64(1), "two", true, nil})
	if err != nil {
		t.Fatal(err)
	}
	want := `[1,"two",true,null]`
	if string(got) != want {
		t.Errorf("EncodeArgs = %q, want %q", got, want)
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	c := New(payload.NewHandlerSet())
	id := uuid.New()
	wire, err := c.EncodeArgs([]any{id})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(wire), `"~#u"`) {
		t.Fatalf("wire = %s, want ~#u tag", wire)
	}
	// strip surrounding array to decode the single element.
	inner := wire[1 : len(wire)-1]
	got, err := c.Decode(inner)
	if err != nil {
		t.Fatal(err)
	}
	gotID, ok := got.(uuid.UUID)
	if !ok || gotID != id {
		t.Errorf("decoded %#v, want %v", got, id)
	}
}

func TestLocalDateTimeRoundTrip(t *testing.T) {
	c := New(payload.NewHandlerSet())
	ldt := payload.LocalDateTime{Year: 2024, Month: 3, Day: 15, Hour: 9, Minute: 30, Second: 0}
	wire, err := c.EncodeArgs([]any{ldt})
	if err != nil {
		t.Fatal(err)
	}
	inner := wire[1 : len(wire)-1]
	got, err := c.Decode(inner)
	if err != nil {
		t.Fatal(err)
	}
	gotLDT, ok := got.(payload.LocalDateTime)
	if !ok || gotLDT != ldt {
		t.Errorf("decoded %#v, want %#v", got, ldt)
	}
}

func TestWithMetaRoundTrip(t *testing.T) {
	c := New(payload.NewHandlerSet())
	wm := payload.WithMeta{Value: int64(42), Meta: "note"}
	wire, err := c.EncodeArgs([]any{wm})
	if err != nil {
		t.Fatal(err)
	}
	inner := wire[1 : len(wire)-1]
	got, err := c.Decode(inner)
	if err != nil {
		t.Fatal(err)
	}
	gotWM, ok := got.(payload.WithMeta)
	if !ok || gotWM.Value.(int64) != 42 || gotWM.Meta.(string) != "note" {
		t.Errorf("decoded %#v", got)
	}
}

func TestUnregisteredTagDecodesAsTaggedLiteral(t *testing.T) {
	c := New(payload.NewHandlerSet())
	v, err := c.Decode([]byte(`{"~#my-tag":5}`))
	if err != nil {
		t.Fatal(err)
	}
	tl, ok := v.(payload.TaggedLiteral)
	if !ok || tl.Tag != "my-tag" || tl.Value.(int64) != 5 {
		t.Errorf("decoded %#v", v)
	}
}

func TestRegisteredTransitReaderInvoked(t *testing.T) {
	h := payload.NewHandlerSet()
	h.AddTransitReader("my-tag", func(rep any) (any, error) {
		return "handled", nil
	}, false)
	c := New(h)
	v, err := c.Decode([]byte(`{"~#my-tag":5}`))
	if err != nil {
		t.Fatal(err)
	}
	if v != "handled" {
		t.Errorf("decoded %#v", v)
	}
}

func TestPlainMapRoundTrip(t *testing.T) {
	c := New(payload.NewHandlerSet())
	m := payload.Map{Entries: []payload.MapEntry{{Key: "a", Value: int64(1)}}}
	wire, err := c.EncodeArgs([]any{m})
	if err != nil {
		t.Fatal(err)
	}
	inner := wire[1 : len(wire)-1]
	got, err := c.Decode(inner)
	if err != nil {
		t.Fatal(err)
	}
	gotMap, ok := got.(payload.Map)
	if !ok {
		t.Fatalf("decoded %T, want payload.Map", got)
	}
	v, ok := gotMap.Get("a")
	if !ok || v.(int64) != 1 {
		t.Errorf("gotMap[a] = %#v", v)
	}
}

func TestSetRoundTrip(t *testing.T) {
	c := New(payload.NewHandlerSet())
	s := payload.Set{int64(1), int64(2)}
	wire, err := c.EncodeArgs([]any{s})
	if err != nil {
		t.Fatal(err)
	}
	inner := wire[1 : len(wire)-1]
	got, err := c.Decode(inner)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.(payload.Set); !ok {
		t.Errorf("decoded %T, want payload.Set", got)
	}
}

func TestNoWriterIsEncodeError(t *testing.T) {
	c := New(payload.NewHandlerSet())
	type unknown struct{ X int }
	if _, err := c.EncodeArgs([]any{unknown{1}}); err == nil {
		t.Error("expected encode error for value with no writer")
	}
}
