package http

const (
	MaxRequestSize         = 2 * 1024 * 1024 // 2MB
	DefaultReadBufferSize  = 4096
	DefaultWriteBufferSize = 4096
	MaxRequestHeaders      = 64
)

// Handler processes one request/response exchange.
type Handler func(ctx *RequestCtx)

// Field is one header name/value pair. Header order is preserved through
// parsing and writing; names are lowercase by convention on the write side.
type Field struct {
	Name  string
	Value string
}

// Pre-computed wire fragments for the response writer.
var (
	protocolHTTP11 = []byte("HTTP/1.1 ")
	crlf           = []byte("\r\n")
	colonSpace     = []byte(": ")

	contentLengthPrefix     = []byte("content-length: ")
	transferEncodingChunked = []byte("transfer-encoding: chunked\r\n")
	chunkEnd                = []byte("0\r\n\r\n")
)

const (
	headerContentLength = "content-length"
	headerContentType   = "content-type"
	headerConnection    = "connection"
)
