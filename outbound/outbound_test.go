package outbound

import (
	"bytes"
	"testing"

	"github.com/recatek/squinn-go/quicproto"
)

func TestPushNoSegmentation(t *testing.T) {
	q := New()
	scratch := append([]byte{}, "hello"...)

	q.Push(quicproto.Transmit{Size: len(scratch)}, &scratch)

	if len(scratch) != 0 {
		t.Fatalf("scratch not cleared: %q", scratch)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	e, _ := q.Front()
	if string(e.Contents) != "hello" {
		t.Fatalf("Contents = %q", e.Contents)
	}
	if e.Transmit.SegmentSize != 0 {
		t.Fatalf("SegmentSize leaked onto entry: %d", e.Transmit.SegmentSize)
	}
}

func TestPushSplitsOnSegmentSize(t *testing.T) {
	q := New()
	payload := "abcdefghij" // 10 bytes
	scratch := append([]byte{}, payload...)

	q.Push(quicproto.Transmit{Size: len(scratch), SegmentSize: 4}, &scratch)

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	var reassembled bytes.Buffer
	for q.Len() > 0 {
		e, _ := q.Pop()
		if e.Transmit.SegmentSize != 0 {
			t.Fatalf("split entry still carries a segment size: %d", e.Transmit.SegmentSize)
		}
		reassembled.Write(e.Contents)
	}
	if reassembled.String() != payload {
		t.Fatalf("reassembled = %q, want %q", reassembled.String(), payload)
	}
}

func TestDrainStopsOnError(t *testing.T) {
	q := New()
	scratch := []byte("ab")
	q.Push(quicproto.Transmit{Size: 2}, &scratch)
	scratch = []byte("cd")
	q.Push(quicproto.Transmit{Size: 2}, &scratch)

	calls := 0
	err := q.Drain(func(e Entry) error {
		calls++
		return errWouldBlockStub
	})
	if err != errWouldBlockStub {
		t.Fatalf("Drain err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (first entry retried next time)", q.Len())
	}
}

var errWouldBlockStub = testError("would block")

type testError string

func (e testError) Error() string { return string(e) }
