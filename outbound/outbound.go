// Package outbound buffers pending UDP sends between the moment a
// quicproto.Connection or Endpoint produces a Transmit and the moment the
// event loop's socket actually accepts it. Each entry owns an immutable
// snapshot of its payload, because the scratch buffer a Transmit was
// decoded against is reused on the very next poll.
package outbound

import "github.com/recatek/squinn-go/quicproto"

// Entry is one already-split, ready-to-send datagram.
type Entry struct {
	Transmit quicproto.Transmit
	Contents []byte
}

// Queue is a FIFO of pending sends.
type Queue struct {
	entries []Entry
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push appends t to the queue. buf must hold exactly t.Size readable bytes
// at the time of the call; Push copies out of it before returning. If t
// carries a GSO SegmentSize, the payload is split into same-sized
// sub-transmits (the last one possibly shorter) so each Entry represents
// exactly one on-wire datagram.
//
// buf is left empty on return; callers reuse it immediately for the next
// poll_transmit-style call.
func (q *Queue) Push(t quicproto.Transmit, buf *[]byte) {
	contents := make([]byte, t.Size)
	copy(contents, (*buf)[:t.Size])

	if t.SegmentSize <= 0 {
		q.entries = append(q.entries, Entry{Transmit: t, Contents: contents})
		*buf = (*buf)[:0]
		return
	}

	segment := t.SegmentSize
	for len(contents) > 0 {
		end := segment
		if end > len(contents) {
			end = len(contents)
		}
		chunk := contents[:end]
		contents = contents[end:]

		sub := t
		sub.SegmentSize = 0
		sub.Size = len(chunk)
		q.entries = append(q.entries, Entry{Transmit: sub, Contents: chunk})
	}

	*buf = (*buf)[:0]
}

// Len reports the number of pending entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Front returns the oldest pending entry without removing it.
func (q *Queue) Front() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	return q.entries[0], true
}

// Pop removes and returns the oldest pending entry.
func (q *Queue) Pop() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries[0] = Entry{}
	q.entries = q.entries[1:]
	return e, true
}

// Drain calls send for every pending entry in order, stopping at (and
// keeping) the first one send rejects so the caller can retry it once the
// socket is writable again.
func (q *Queue) Drain(send func(Entry) error) error {
	for len(q.entries) > 0 {
		e := q.entries[0]
		if err := send(e); err != nil {
			return err
		}
		q.entries[0] = Entry{}
		q.entries = q.entries[1:]
	}
	return nil
}
