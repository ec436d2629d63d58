package encoding

import "testing"

func TestRLE_RoundTrip(t *testing.T) {
	// Shaped like a terrain patch: a long air run, a band of mixed blocks,
	// then a long stone run.
	in := make([]uint16, 0, 225)
	for i := 0; i < 100; i++ {
		in = append(in, 0)
	}
	in = append(in, 3, 3, 2, 2, 2, 1, 4, 1, 1)
	for i := 0; i < 116; i++ {
		in = append(in, 1)
	}

	enc := EncodeRLE(in)
	out, err := DecodeRLE(enc, 0)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len mismatch: got %d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("mismatch at %d: got %d want %d", i, out[i], in[i])
		}
	}
}

func TestRLE_Empty(t *testing.T) {
	out, err := DecodeRLE(EncodeRLE(nil), 0)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty, got %d ids", len(out))
	}
}

func TestRLE_MaxLen(t *testing.T) {
	enc := EncodeRLE(make([]uint16, 500))
	if _, err := DecodeRLE(enc, 100); err == nil {
		t.Fatalf("expected length-bound error")
	}
	if _, err := DecodeRLE(enc, 500); err != nil {
		t.Fatalf("unexpected error at exact bound: %v", err)
	}
}

func TestRLE_Garbage(t *testing.T) {
	if _, err := DecodeRLE("not base64 !!!", 0); err == nil {
		t.Fatalf("expected base64 error")
	}
}
