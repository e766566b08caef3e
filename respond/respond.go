// Package respond generates HTTP responses whose status and headers depend
// on blocking work while the body streams without full buffering. The head
// is decided exactly once on a worker, handed across a single-send promise,
// and the body follows over a bounded chunk stream that can no longer touch
// the status line.
package respond

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultChunkSize   = 4096
	DefaultStreamDepth = 2

	statusInternalServerError = 500
)

// InternalErrorBody is the fixed payload for every 500-class outcome
// produced inside this package.
var InternalErrorBody = []byte("Internal server error")

const scopeName = "github.com/pebblehttp/pebble/respond"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)

	streamsStarted metric.Int64Counter
	chunksSent     metric.Int64Counter
	streamAborts   metric.Int64Counter
)

func init() {
	var err error
	if streamsStarted, err = meter.Int64Counter("respond.streams.started",
		metric.WithDescription("Body streams entered by the producer loop")); err != nil {
		otel.Handle(err)
	}
	if chunksSent, err = meter.Int64Counter("respond.chunks.sent",
		metric.WithDescription("Body chunks handed to consumers")); err != nil {
		otel.Handle(err)
	}
	if streamAborts, err = meter.Int64Counter("respond.streams.aborted",
		metric.WithDescription("Body streams terminated by read failure or cancellation")); err != nil {
		otel.Handle(err)
	}
}

// Source is what the status-determining phase of a streaming response
// produces. Body != nil means the head is a success and the payload streams
// from Body. Body == nil means Inline is the complete payload; error heads
// (404 and friends) take this form and never create a stream.
type Source struct {
	Head   Head
	Body   io.ReadCloser
	Inline []byte
}

// Pending is a response whose head is final while its body may still be in
// flight. Exactly one of Body and Stream is populated.
type Pending struct {
	Head   Head
	Body   []byte
	Stream *Stream
}

type config struct {
	chunkSize int
	depth     int
}

type Option func(*config)

// WithChunkSize sets the producer loop's read buffer size.
func WithChunkSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithStreamDepth sets how many chunks may be in flight before the producer
// blocks. Per-request memory stays O(depth * chunk size).
func WithStreamDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.depth = n
		}
	}
}

func internalOutcome() outcome {
	return outcome{head: NewHead(statusInternalServerError), body: InternalErrorBody}
}

func internalPending() *Pending {
	return &Pending{Head: NewHead(statusInternalServerError), Body: InternalErrorBody}
}

// Buffered runs work on the executor and returns once the complete response
// is known: head and body travel together through the head promise, no
// stream is created. Suited to small bounded payloads such as a single row.
func Buffered(ctx context.Context, exec *Executor, work func() (Head, []byte, error)) (*Pending, error) {
	ctx, span := tracer.Start(ctx, "respond.Buffered")
	defer span.End()

	p := newPromise()
	err := exec.Submit(func() {
		defer p.abandon()

		head, body, err := work()
		if err != nil {
			slog.Error("buffered response work failed", "error", err)
			p.resolve(internalOutcome())
			return
		}
		p.resolve(outcome{head: head, body: body})
	})
	if err != nil {
		slog.Error("buffered response rejected", "error", err)
		return internalPending(), nil
	}

	return finish(ctx, p)
}

// Streaming runs open on the executor. open must perform every operation
// capable of influencing the status code and nothing more; once it returns a
// Source with a Body, the head is committed and the producer loop streams
// the payload with no way back to the status line. Streaming returns as soon
// as the head is resolved, not when the body finishes.
func Streaming(ctx context.Context, exec *Executor, open func() (Source, error), opts ...Option) (*Pending, error) {
	cfg := config{chunkSize: DefaultChunkSize, depth: DefaultStreamDepth}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := tracer.Start(ctx, "respond.Streaming")
	defer span.End()

	p := newPromise()
	err := exec.Submit(func() {
		defer p.abandon()

		src, err := open()
		if err != nil {
			slog.Error("streaming response open failed", "error", err)
			p.resolve(internalOutcome())
			return
		}
		if src.Body == nil {
			p.resolve(outcome{head: src.Head, body: src.Inline})
			return
		}

		stream, producer := NewStream(cfg.depth)
		p.resolve(outcome{head: src.Head, stream: stream})

		// The head is committed; from here the worker only holds the
		// producer half of the stream.
		pump(src.Body, producer, cfg.chunkSize)
	})
	if err != nil {
		slog.Error("streaming response rejected", "error", err)
		return internalPending(), nil
	}

	return finish(ctx, p)
}

func finish(ctx context.Context, p *promise) (*Pending, error) {
	o, err := p.await(ctx)
	if err != nil {
		if errors.Is(err, ErrAbandoned) {
			slog.Error("response head abandoned")
			return internalPending(), nil
		}
		// ctx expired while the worker is still in flight. The worker will
		// resolve a head nobody is waiting for; reap it so a stream-carrying
		// outcome does not strand the producer in Send with no consumer,
		// which would pin the worker and hold the body source open.
		go func() {
			if o, ok := <-p.ch; ok && o.stream != nil {
				o.stream.Cancel()
			}
		}()
		return nil, err
	}
	return &Pending{Head: o.head, Body: o.body, Stream: o.stream}, nil
}
