package http

import (
	"bufio"
	"context"
	"net"
)

// RequestCtx carries one connection's current exchange. Instances are pooled
// by the server and reset between connections.
type RequestCtx struct {
	Conn       net.Conn
	ConnReader *bufio.Reader
	ConnWriter *bufio.Writer

	// Context of the exchange, used for tracing and for awaiting pending
	// responses without blocking unrelated requests.
	Ctx context.Context

	RequestID string

	Request  Request
	Response Response
}

func (reqCtx *RequestCtx) Reset(conn net.Conn) {
	reqCtx.Conn = conn
	reqCtx.ConnReader.Reset(conn)
	reqCtx.ConnWriter.Reset(conn)
	reqCtx.Ctx = context.Background()
	reqCtx.RequestID = ""
	reqCtx.Request.Reset()
	reqCtx.Response.Reset()
}
