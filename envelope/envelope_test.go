package envelope

import (
	"bufio"
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		t.Fatalf("Encode(%#v): %v", v, err)
	}
	got, err := Decode(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("Decode after Encode(%#v): %v", v, err)
	}
	return got
}

func TestIntRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, 9223372036854775807, -9223372036854775808} {
		got := roundTrip(t, n)
		gi, ok := got.(int64)
		if !ok || gi != n {
			t.Errorf("roundTrip(%d) = %#v", n, got)
		}
	}
}

func TestBytesRoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "with spaces and : colons", "binary\x00\x01\xff"} {
		got := roundTrip(t, []byte(s))
		gb, ok := got.([]byte)
		if !ok || string(gb) != s {
			t.Errorf("roundTrip(%q) = %#v", s, got)
		}
	}
}

func TestListRoundTrip(t *testing.T) {
	v := List{int64(1), []byte("two"), List{int64(3)}}
	got := roundTrip(t, v)
	gl, ok := got.(List)
	if !ok || len(gl) != 3 {
		t.Fatalf("roundTrip(list) = %#v", got)
	}
	if n, ok := gl[0].(int64); !ok || n != 1 {
		t.Errorf("gl[0] = %#v", gl[0])
	}
}

func TestDictRoundTrip(t *testing.T) {
	v := Dict{"op": []byte("invoke"), "id": []byte("1"), "args": List{int64(41)}}
	got := roundTrip(t, v)
	gd, ok := got.(Dict)
	if !ok {
		t.Fatalf("roundTrip(dict) = %#v", got)
	}
	op, _ := gd.String("op")
	if op != "invoke" {
		t.Errorf("op = %q", op)
	}
}

func TestEncodeSortsKeys(t *testing.T) {
	v := Dict{"zeta": int64(1), "alpha": int64(2), "mid": int64(3)}
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		t.Fatal(err)
	}
	want := "d5:alphai2e3:midi3e4:zetai1ee"
	if buf.String() != want {
		t.Errorf("Encode = %q, want %q", buf.String(), want)
	}
}

func TestDecodeTolerantOfKeyOrder(t *testing.T) {
	// zeta before alpha: not sorted, decode should still succeed.
	raw := "d4:zetai1e5:alphai2ee"
	v, err := Decode(bufio.NewReader(bytes.NewBufferString(raw)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d := v.(Dict)
	if n, _ := d["alpha"].(int64); n != 2 {
		t.Errorf("alpha = %v", d["alpha"])
	}
}

func TestTruncated(t *testing.T) {
	cases := []string{"i42", "5:ab", "l1:a", "d1:a"}
	for _, raw := range cases {
		_, err := Decode(bufio.NewReader(bytes.NewBufferString(raw)))
		if err == nil {
			t.Errorf("Decode(%q): expected error", raw)
			continue
		}
		e, ok := err.(*Error)
		if !ok || e.Kind != Truncated {
			t.Errorf("Decode(%q) = %v, want Truncated", raw, err)
		}
	}
}

func TestMalformed(t *testing.T) {
	cases := []string{"xyz", "i4x2e", "d1:ae"}
	for _, raw := range cases {
		_, err := Decode(bufio.NewReader(bytes.NewBufferString(raw)))
		if err == nil {
			t.Errorf("Decode(%q): expected error", raw)
			continue
		}
		e, ok := err.(*Error)
		if !ok || e.Kind != Malformed {
			t.Errorf("Decode(%q) = %v, want Malformed", raw, err)
		}
	}
}

func TestUnexpectedTypeDictKey(t *testing.T) {
	raw := "di1ei2ee" // dict key is an int, not a string
	_, err := Decode(bufio.NewReader(bytes.NewBufferString(raw)))
	e, ok := err.(*Error)
	if !ok || e.Kind != UnexpectedType {
		t.Errorf("Decode(%q) = %v, want UnexpectedType", raw, err)
	}
}
