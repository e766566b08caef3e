package respond

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrAbandoned is reported when the worker terminated without resolving a
// head. The coordinator maps it to an internal error response so the caller
// never hangs on an unfulfilled head.
var ErrAbandoned = errors.New("respond: worker dropped without resolving a head")

// Field is one header name/value pair. Order is preserved.
type Field struct {
	Name  string
	Value string
}

// Head is the response status line plus its headers. It is resolved exactly
// once per exchange and must not be mutated after resolution.
type Head struct {
	Status uint16
	Fields []Field
}

func NewHead(status uint16) Head {
	return Head{Status: status}
}

func (h Head) With(name, value string) Head {
	h.Fields = append(h.Fields, Field{Name: name, Value: value})
	return h
}

// outcome is the single value carried by the head promise: the head plus
// either a complete inline body or the consumer half of a body stream.
type outcome struct {
	head   Head
	body   []byte
	stream *Stream
}

// promise is the head resolution channel: capacity one, single send, single
// receive. A second resolve is a programming error and panics rather than
// silently overwriting the head.
type promise struct {
	ch   chan outcome
	sent atomic.Bool
}

func newPromise() *promise {
	return &promise{ch: make(chan outcome, 1)}
}

func (p *promise) resolve(o outcome) {
	if p.sent.Swap(true) {
		panic("respond: head resolved twice")
	}
	p.ch <- o
	close(p.ch)
}

// abandon closes the channel without a value if nothing was sent. Deferred
// by the worker wrapper so a panic or early return still wakes the awaiter.
func (p *promise) abandon() {
	if !p.sent.Swap(true) {
		close(p.ch)
	}
}

// await suspends the calling goroutine until the head is resolved, the
// worker abandons the promise, or ctx is done.
func (p *promise) await(ctx context.Context) (outcome, error) {
	select {
	case o, ok := <-p.ch:
		if !ok {
			return outcome{}, ErrAbandoned
		}
		return o, nil
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	}
}
