package varint

import "testing"

func TestRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 16383, 16384, 1073741823, 1073741824, Max}
	for _, v := range values {
		buf, err := Append(nil, v)
		if err != nil {
			t.Fatalf("Append(%d): %v", v, err)
		}
		got, n, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
		if n != len(buf) {
			t.Errorf("round trip %d: consumed %d, want %d", v, n, len(buf))
		}
	}
}

func TestTooLarge(t *testing.T) {
	if _, err := Append(nil, Max+1); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestUnexpectedEnd(t *testing.T) {
	buf, _ := Append(nil, 16384) // 4-byte encoding
	if _, _, err := Decode(buf[:1]); err != ErrUnexpectedEnd {
		t.Fatalf("expected ErrUnexpectedEnd, got %v", err)
	}
}

func TestLen(t *testing.T) {
	cases := map[uint64]int{0: 1, 63: 1, 64: 2, 16383: 2, 16384: 4, 1073741823: 4, 1073741824: 8}
	for v, want := range cases {
		if got := Len(v); got != want {
			t.Errorf("Len(%d) = %d, want %d", v, got, want)
		}
	}
}
