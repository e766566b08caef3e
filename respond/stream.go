package respond

import (
	"errors"
	"io"
	"sync"
)

// ErrCancelled is returned to the producer once the consumer cancelled the
// stream, and to the consumer if it keeps pulling after cancelling.
var ErrCancelled = errors.New("respond: stream cancelled by consumer")

var errProducerDropped = errors.New("respond: producer dropped without closing the stream")

// Stream is the consumer half of a body stream: a bounded, finite, not
// restartable sequence of chunks. It is only reachable through a resolved
// Pending, so no chunk can be observed before the head.
type Stream struct {
	ch     chan []byte
	cancel chan struct{}

	cancelOnce sync.Once

	mu  sync.Mutex
	err error
}

// Producer is the worker half. It carries no head-sending capability: once a
// worker holds a Producer the response status is already committed.
type Producer struct {
	s          *Stream
	terminated bool
}

func NewStream(depth int) (*Stream, *Producer) {
	s := &Stream{
		ch:     make(chan []byte, depth),
		cancel: make(chan struct{}),
	}
	return s, &Producer{s: s}
}

// Send hands one chunk to the consumer, blocking the worker when the
// consumer has not drained earlier chunks. Ownership of chunk transfers on
// send; the caller must not reuse the slice. Empty chunks carry no
// information and are elided.
func (p *Producer) Send(chunk []byte) error {
	if p.terminated {
		panic("respond: send on terminated stream")
	}
	if len(chunk) == 0 {
		return nil
	}
	select {
	case p.s.ch <- chunk:
		return nil
	case <-p.s.cancel:
		return ErrCancelled
	}
}

// Close terminates the stream with end-of-data.
func (p *Producer) Close() {
	p.terminate(nil)
}

// Abort terminates the stream with an I/O failure. The consumer observes
// cause from its next pull; the already-sent head is unaffected.
func (p *Producer) Abort(cause error) {
	if cause == nil {
		cause = errProducerDropped
	}
	p.terminate(cause)
}

func (p *Producer) terminate(cause error) {
	if p.terminated {
		return
	}
	p.terminated = true
	p.s.mu.Lock()
	p.s.err = cause
	p.s.mu.Unlock()
	close(p.s.ch)
}

// Next pulls the next chunk. It returns io.EOF after the producer closed
// cleanly, or the abort cause after a failure. Buffered chunks sent before
// the failure are drained first.
func (s *Stream) Next() ([]byte, error) {
	select {
	case chunk, ok := <-s.ch:
		if ok {
			return chunk, nil
		}
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-s.cancel:
		return nil, ErrCancelled
	}
}

// Cancel tells the producer the consumer is gone. The producer's next Send
// fails promptly so the worker terminates instead of reading to completion.
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancel)
	})
}
