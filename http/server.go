package http

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/pebblehttp/pebble/http"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)

	responsesServed metric.Int64Counter
)

func init() {
	var err error
	if responsesServed, err = meter.Int64Counter("http.server.responses",
		metric.WithDescription("Responses written, by status code")); err != nil {
		otel.Handle(err)
	}
}

const idleTimeout = 5 * time.Second

type Server struct {
	Name    string
	Handler Handler
	Logger  *slog.Logger

	requestCtxPool sync.Pool
	listener       net.Listener
	inShutdown     atomic.Bool
	conns          sync.WaitGroup
}

func NewServer(name string, handler Handler) *Server {
	return &Server{
		Name:    name,
		Handler: handler,
		Logger:  otelslog.NewLogger(scopeName),
	}
}

func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.Serve(listener)
}

// Serve accepts connections until the listener fails hard or Shutdown is
// called. Transient accept errors back off exponentially instead of spinning
// the accept loop.
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				wait := bo.NextBackOff()
				s.Logger.Warn("accept failed, backing off", "error", err, "wait", wait)
				time.Sleep(wait)
				continue
			}
			return err
		}
		bo.Reset()

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.ServeConn(conn)
		}()
	}
}

// ServeConn runs the keep-alive loop for one connection.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()

	reqCtx := s.acquireCtx(conn)
	defer s.releaseCtx(reqCtx)

	for {
		if err := reqCtx.Request.Parse(reqCtx.ConnReader); err != nil {
			s.rejectMalformed(reqCtx, err)
			return
		}

		ctx, span := tracer.Start(context.Background(), "http.request", trace.WithAttributes(
			attribute.String("http.request.method", reqCtx.Request.Method),
			attribute.String("url.path", reqCtx.Request.Path),
		))
		reqCtx.Ctx = ctx

		s.Handler(reqCtx)

		keepAlive := reqCtx.Request.KeepAlive
		if keepAlive {
			reqCtx.Response.SetHeader(headerConnection, "keep-alive")
		} else {
			reqCtx.Response.SetHeader(headerConnection, "close")
		}

		err := reqCtx.Response.WriteTo(reqCtx.ConnWriter)
		span.SetAttributes(attribute.Int("http.response.status_code", int(reqCtx.Response.Status)))
		responsesServed.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("http.response.status_code", int(reqCtx.Response.Status)),
		))
		span.End()

		if err != nil {
			// Head already on the wire; the truncated transfer is the signal.
			s.Logger.Warn("response write aborted",
				"error", err,
				"path", reqCtx.Request.Path,
				"request_id", reqCtx.RequestID,
			)
			return
		}

		if !keepAlive {
			return
		}

		reqCtx.Request.Reset()
		reqCtx.Response.Reset()
		conn.SetDeadline(time.Now().Add(idleTimeout))
	}
}

// rejectMalformed answers a best-effort 400 for parse failures that are not
// simply a closed or idle connection.
func (s *Server) rejectMalformed(reqCtx *RequestCtx, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}

	s.Logger.Warn("malformed request", "error", err)
	reqCtx.Response.Reset()
	reqCtx.Response.WithStatus(StatusBadRequest).WithText("Bad request")
	reqCtx.Response.SetHeader(headerConnection, "close")
	if writeErr := reqCtx.Response.WriteTo(reqCtx.ConnWriter); writeErr != nil {
		s.Logger.Warn("writing 400 failed", "error", writeErr)
	}
}

// Shutdown stops accepting connections and waits for in-flight ones,
// bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) acquireCtx(conn net.Conn) *RequestCtx {
	v := s.requestCtxPool.Get()
	if v == nil {
		v = &RequestCtx{
			ConnReader: bufio.NewReaderSize(nil, DefaultReadBufferSize),
			ConnWriter: bufio.NewWriterSize(nil, DefaultWriteBufferSize),
		}
	}

	reqCtx := v.(*RequestCtx)
	reqCtx.Reset(conn)
	return reqCtx
}

func (s *Server) releaseCtx(reqCtx *RequestCtx) {
	// Reset cancels any stream left mid-flight by an aborted write.
	reqCtx.Response.Reset()
	reqCtx.Conn = nil
	s.requestCtxPool.Put(reqCtx)
}
