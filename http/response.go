package http

import (
	"bufio"
	"errors"
	"io"

	"github.com/pebblehttp/pebble/respond"
)

// Response is one outgoing exchange: a head (status plus ordered headers)
// and a body that is either a complete buffer or the consumer half of a
// body stream. The head is written exactly once; once body bytes are on the
// wire no stream failure can change the status line.
type Response struct {
	Status  uint16
	Headers []Field

	Body   []byte
	Stream *respond.Stream
}

// SetHeader replaces the first header named name, or appends it.
func (res *Response) SetHeader(name, value string) {
	for i := range res.Headers {
		if res.Headers[i].Name == name {
			res.Headers[i].Value = value
			return
		}
	}
	res.Headers = append(res.Headers, Field{Name: name, Value: value})
}

// AddHeader appends a header, keeping earlier same-named fields.
func (res *Response) AddHeader(name, value string) {
	res.Headers = append(res.Headers, Field{Name: name, Value: value})
}

func (res *Response) HeaderValue(name string) (string, bool) {
	for i := range res.Headers {
		if res.Headers[i].Name == name {
			return res.Headers[i].Value, true
		}
	}
	return "", false
}

func (res *Response) WithStatus(status uint16) *Response {
	res.Status = status
	return res
}

func (res *Response) WithText(payload string) *Response {
	res.SetHeader(headerContentType, "text/plain; charset=utf-8")
	res.Body = []byte(payload)
	res.Stream = nil
	return res
}

// WithResult installs a pending response produced by the respond package:
// the resolved head plus either its inline body or its body stream.
func (res *Response) WithResult(pending *respond.Pending) *Response {
	res.Status = pending.Head.Status
	for _, field := range pending.Head.Fields {
		res.SetHeader(field.Name, field.Value)
	}
	res.Body = pending.Body
	res.Stream = pending.Stream
	return res
}

func (res *Response) Reset() {
	if res.Stream != nil {
		res.Stream.Cancel()
	}
	res.Status = StatusOK
	res.Headers = res.Headers[:0]
	res.Body = nil
	res.Stream = nil
}

// WriteTo serializes the response. Inline bodies get a computed
// content-length. Streamed bodies are written as-is when the handler already
// committed a content-length (file size known at open time), otherwise with
// chunked transfer encoding. A stream failure mid-body returns an error so
// the server aborts the connection: a truncated transfer is the only correct
// signal once the head is committed.
func (res *Response) WriteTo(writer *bufio.Writer) error {
	var scratch [20]byte

	if _, err := writer.Write(protocolHTTP11); err != nil {
		return err
	}
	n := writeIntToBuffer(int(res.Status), scratch[:])
	if _, err := writer.Write(scratch[:n]); err != nil {
		return err
	}
	if err := writer.WriteByte(' '); err != nil {
		return err
	}
	if _, err := writer.WriteString(StatusMessage(res.Status)); err != nil {
		return err
	}
	if _, err := writer.Write(crlf); err != nil {
		return err
	}

	for i := range res.Headers {
		if res.Stream == nil && res.Headers[i].Name == headerContentLength {
			// Computed below from the actual buffer.
			continue
		}
		if _, err := writer.WriteString(res.Headers[i].Name); err != nil {
			return err
		}
		if _, err := writer.Write(colonSpace); err != nil {
			return err
		}
		if _, err := writer.WriteString(res.Headers[i].Value); err != nil {
			return err
		}
		if _, err := writer.Write(crlf); err != nil {
			return err
		}
	}

	if res.Stream == nil {
		if _, err := writer.Write(contentLengthPrefix); err != nil {
			return err
		}
		n = writeIntToBuffer(len(res.Body), scratch[:])
		if _, err := writer.Write(scratch[:n]); err != nil {
			return err
		}
		if _, err := writer.Write(crlf); err != nil {
			return err
		}
		if _, err := writer.Write(crlf); err != nil {
			return err
		}
		if _, err := writer.Write(res.Body); err != nil {
			return err
		}
		return writer.Flush()
	}

	if _, sized := res.HeaderValue(headerContentLength); sized {
		return res.writeStreamSized(writer)
	}
	return res.writeStreamChunked(writer)
}

// writeStreamSized copies stream chunks straight onto the wire; the handler
// already committed a content-length.
func (res *Response) writeStreamSized(writer *bufio.Writer) error {
	if _, err := writer.Write(crlf); err != nil {
		res.Stream.Cancel()
		return err
	}

	for {
		chunk, err := res.Stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return writer.Flush()
			}
			return err
		}
		if _, err := writer.Write(chunk); err != nil {
			res.Stream.Cancel()
			return err
		}
		if err := writer.Flush(); err != nil {
			res.Stream.Cancel()
			return err
		}
	}
}

// writeStreamChunked wraps each stream chunk in chunked transfer framing. A
// stream failure leaves the terminal chunk unwritten, which clients see as a
// truncated transfer.
func (res *Response) writeStreamChunked(writer *bufio.Writer) error {
	var scratch [20]byte

	if _, err := writer.Write(transferEncodingChunked); err != nil {
		res.Stream.Cancel()
		return err
	}
	if _, err := writer.Write(crlf); err != nil {
		res.Stream.Cancel()
		return err
	}

	for {
		chunk, err := res.Stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if _, err := writer.Write(chunkEnd); err != nil {
					return err
				}
				return writer.Flush()
			}
			return err
		}

		n := writeHexToBuffer(len(chunk), scratch[:])
		if _, err := writer.Write(scratch[:n]); err != nil {
			res.Stream.Cancel()
			return err
		}
		if _, err := writer.Write(crlf); err != nil {
			res.Stream.Cancel()
			return err
		}
		if _, err := writer.Write(chunk); err != nil {
			res.Stream.Cancel()
			return err
		}
		if _, err := writer.Write(crlf); err != nil {
			res.Stream.Cancel()
			return err
		}
		if err := writer.Flush(); err != nil {
			res.Stream.Cancel()
			return err
		}
	}
}
