package http

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/pebblehttp/pebble/respond"
)

func TestResponseWriteBasic(t *testing.T) {
	var res Response
	res.Reset()

	res.Status = 200
	res.SetHeader("content-type", "text/plain")
	res.Body = []byte("hello, world!")

	buf := &bytes.Buffer{}
	bw := bufio.NewWriter(buf)

	if err := res.WriteTo(bw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := buf.String()
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("missing or incorrect status line: got %q", got)
	}
	if !strings.Contains(got, "content-type: text/plain\r\n") {
		t.Errorf("missing or incorrect header: got %q", got)
	}
	if !strings.Contains(got, "content-length: 13\r\n") {
		t.Errorf("missing or incorrect content-length: got %q", got)
	}
	if !strings.HasSuffix(got, "hello, world!") {
		t.Errorf("missing or incorrect body: got %q", got)
	}
}

func TestResponseWriteMultipleHeaders(t *testing.T) {
	var res Response
	res.Reset()
	res.Status = 404
	res.SetHeader("x-test", "foo")
	res.SetHeader("x-other", "bar")
	res.Body = []byte("not found")

	buf := &bytes.Buffer{}
	bw := bufio.NewWriter(buf)

	if err := res.WriteTo(bw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "x-test: foo\r\n") {
		t.Errorf("missing x-test header: got %q", got)
	}
	if !strings.Contains(got, "x-other: bar\r\n") {
		t.Errorf("missing x-other header: got %q", got)
	}
	if !strings.Contains(got, "HTTP/1.1 404 Not Found\r\n") {
		t.Errorf("missing status line: got %q", got)
	}
	if !strings.HasSuffix(got, "not found") {
		t.Errorf("missing or incorrect body: got %q", got)
	}
}

func TestResponseWriteEmptyBody(t *testing.T) {
	var res Response
	res.Reset()
	res.Status = 204
	res.SetHeader("x-empty", "true")

	buf := &bytes.Buffer{}
	bw := bufio.NewWriter(buf)

	if err := res.WriteTo(bw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "content-length: 0\r\n") {
		t.Errorf("expected content-length: 0, got %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\n") {
		t.Errorf("expected empty body, got %q", got)
	}
}

func TestResponseSetHeaderReplaces(t *testing.T) {
	var res Response
	res.Reset()

	res.SetHeader("x-test", "a")
	res.SetHeader("x-test", "b")

	if len(res.Headers) != 1 {
		t.Fatalf("expected 1 header, got %d", len(res.Headers))
	}
	if value, _ := res.HeaderValue("x-test"); value != "b" {
		t.Errorf("expected b, got %s", value)
	}

	res.AddHeader("x-test", "c")
	if len(res.Headers) != 2 {
		t.Errorf("AddHeader should append, got %d headers", len(res.Headers))
	}
}

func TestResponseWriteStreamSized(t *testing.T) {
	stream, producer := respond.NewStream(2)

	var res Response
	res.Reset()
	res.Status = 200
	res.SetHeader("content-type", "application/octet-stream")
	res.SetHeader("content-length", "10")
	res.Stream = stream

	go func() {
		producer.Send([]byte("0123456789"))
		producer.Close()
	}()

	buf := &bytes.Buffer{}
	bw := bufio.NewWriter(buf)

	if err := res.WriteTo(bw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "content-length: 10\r\n") {
		t.Errorf("expected explicit content-length, got %q", got)
	}
	if strings.Contains(got, "transfer-encoding") {
		t.Errorf("sized stream must not be chunked: %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\n0123456789") {
		t.Errorf("unexpected body framing: %q", got)
	}
}

func TestResponseWriteStreamChunked(t *testing.T) {
	stream, producer := respond.NewStream(2)

	var res Response
	res.Reset()
	res.Status = 200
	res.Stream = stream

	go func() {
		producer.Send([]byte("hello "))
		producer.Send([]byte("world"))
		producer.Close()
	}()

	buf := &bytes.Buffer{}
	bw := bufio.NewWriter(buf)

	if err := res.WriteTo(bw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "transfer-encoding: chunked\r\n") {
		t.Errorf("expected chunked transfer encoding: %q", got)
	}
	if !strings.Contains(got, "6\r\nhello \r\n") {
		t.Errorf("missing first chunk frame: %q", got)
	}
	if !strings.Contains(got, "5\r\nworld\r\n") {
		t.Errorf("missing second chunk frame: %q", got)
	}
	if !strings.HasSuffix(got, "0\r\n\r\n") {
		t.Errorf("missing terminal chunk: %q", got)
	}
}

func TestResponseWriteStreamAborted(t *testing.T) {
	stream, producer := respond.NewStream(2)

	var res Response
	res.Reset()
	res.Status = 200
	res.Stream = stream

	go func() {
		producer.Send([]byte("partial"))
		producer.Abort(nil)
	}()

	buf := &bytes.Buffer{}
	bw := bufio.NewWriter(buf)

	err := res.WriteTo(bw)
	if err == nil {
		t.Fatal("aborted stream should surface an error")
	}

	// The head went out and the terminal chunk did not: a truncated
	// transfer, never a rewritten status.
	got := buf.String()
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("head should already be on the wire: %q", got)
	}
	if strings.HasSuffix(got, "0\r\n\r\n") {
		t.Errorf("aborted stream must not be terminated cleanly: %q", got)
	}
}

func TestResponseWithResult(t *testing.T) {
	var res Response
	res.Reset()

	res.WithResult(&respond.Pending{
		Head: respond.NewHead(404).With("content-type", "text/plain"),
		Body: []byte("File not found"),
	})

	if res.Status != 404 {
		t.Errorf("expected 404, got %d", res.Status)
	}
	if value, _ := res.HeaderValue("content-type"); value != "text/plain" {
		t.Errorf("expected text/plain, got %s", value)
	}
	if string(res.Body) != "File not found" {
		t.Errorf("unexpected body: %q", res.Body)
	}
}

func BenchmarkResponseWrite(b *testing.B) {
	var res Response
	res.Reset()
	res.Status = 200
	res.SetHeader("content-type", "text/plain")
	res.SetHeader("x-bench", "1")
	res.Body = []byte("benchmarking response write")

	buf := &bytes.Buffer{}
	bw := bufio.NewWriter(buf)

	for i := 0; i < b.N; i++ {
		buf.Reset()
		bw.Reset(buf)
		if err := res.WriteTo(bw); err != nil {
			b.Fatal(err)
		}
	}
}
