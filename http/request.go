package http

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

type Request struct {
	Method   string
	Path     string
	RawQuery string
	Protocol string

	Headers []Field

	KeepAlive bool

	Body []byte

	query url.Values
	form  url.Values
}

// readLine reads up to and including the next LF without growing past the
// reader's buffer, so a single endless line cannot defeat the request caps.
func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return "", fmt.Errorf("http: line exceeds %d bytes", reader.Size())
	}
	if err != nil {
		return "", err
	}
	return string(line), nil
}

// Parse reads one request from the wire: request line, headers, and a
// Content-Length bounded body. io.EOF means the client closed the
// connection between requests.
func (req *Request) Parse(reader *bufio.Reader) error {
	requestLine, err := readLine(reader)
	if err != nil {
		return err
	}
	requestLine = strings.TrimSpace(requestLine)
	if requestLine == "" {
		return io.EOF
	}

	parts := strings.Split(requestLine, " ")
	if len(parts) < 3 {
		return fmt.Errorf("http: malformed request line: %s", requestLine)
	}
	req.Method = parts[0]
	req.Protocol = parts[2]

	req.Path = parts[1]
	if i := strings.IndexByte(req.Path, '?'); i >= 0 {
		req.RawQuery = req.Path[i+1:]
		req.Path = req.Path[:i]
	}

	for {
		line, err := readLine(reader)
		if err != nil {
			return fmt.Errorf("http: header read error: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if len(req.Headers) == MaxRequestHeaders {
			return fmt.Errorf("http: too many request headers")
		}
		if i := strings.IndexByte(line, ':'); i >= 0 {
			req.Headers = append(req.Headers, Field{
				Name:  strings.ToLower(strings.TrimSpace(line[:i])),
				Value: strings.TrimSpace(line[i+1:]),
			})
		}
	}

	connHeader, _ := req.HeaderValue(headerConnection)
	connHeader = strings.ToLower(connHeader)
	switch req.Protocol {
	case "HTTP/1.1":
		req.KeepAlive = connHeader != "close"
	case "HTTP/1.0":
		req.KeepAlive = connHeader == "keep-alive"
	default:
		req.KeepAlive = false
	}

	return req.readBody(reader)
}

func (req *Request) readBody(reader *bufio.Reader) error {
	raw, found := req.HeaderValue(headerContentLength)
	if !found {
		return nil
	}

	length, err := strconv.Atoi(raw)
	if err != nil || length < 0 {
		return fmt.Errorf("http: invalid content-length: %q", raw)
	}
	if length == 0 {
		return nil
	}
	if length > MaxRequestSize {
		return fmt.Errorf("http: request body of %d bytes exceeds limit", length)
	}

	req.Body = make([]byte, length)
	if _, err := io.ReadFull(reader, req.Body); err != nil {
		return fmt.Errorf("http: body read error: %w", err)
	}
	return nil
}

// HeaderValue returns the first value of a header. Name must be lowercase;
// parsing lowercases incoming names.
func (req *Request) HeaderValue(name string) (string, bool) {
	for i := range req.Headers {
		if req.Headers[i].Name == name {
			return req.Headers[i].Value, true
		}
	}
	return "", false
}

// Query returns the first query-string value for name.
func (req *Request) Query(name string) string {
	if req.query == nil {
		values, err := url.ParseQuery(req.RawQuery)
		if err != nil {
			values = url.Values{}
		}
		req.query = values
	}
	return req.query.Get(name)
}

// FormValue returns the first urlencoded form value for name. Repeated
// fields are preserved in the underlying values; first wins here.
func (req *Request) FormValue(name string) string {
	if req.form == nil {
		values, err := url.ParseQuery(string(req.Body))
		if err != nil {
			values = url.Values{}
		}
		req.form = values
	}
	return req.form.Get(name)
}

func (req *Request) Reset() {
	req.Method = ""
	req.Path = ""
	req.RawQuery = ""
	req.Protocol = ""
	req.Headers = req.Headers[:0]
	req.KeepAlive = false
	req.Body = nil
	req.query = nil
	req.form = nil
}
