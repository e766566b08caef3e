package respond

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T, size int) *Executor {
	t.Helper()
	exec := NewExecutor(size)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		exec.Shutdown(ctx)
	})
	return exec
}

// trackingSource counts reads and signals Close, so tests can observe how
// far ahead the producer loop ran and whether it released the source.
type trackingSource struct {
	reader io.Reader

	reads     atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
}

func newTrackingSource(data []byte) *trackingSource {
	return &trackingSource{
		reader: bytes.NewReader(data),
		closed: make(chan struct{}),
	}
}

func (src *trackingSource) Read(p []byte) (int, error) {
	src.reads.Add(1)
	return src.reader.Read(p)
}

func (src *trackingSource) Close() error {
	src.closeOnce.Do(func() { close(src.closed) })
	return nil
}

func (src *trackingSource) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-src.closed:
	case <-time.After(time.Second):
		t.Fatal("source was not closed")
	}
}

// brokenSource yields its data, then a read error.
type brokenSource struct {
	reader io.Reader
	cause  error
}

func (src *brokenSource) Read(p []byte) (int, error) {
	n, err := src.reader.Read(p)
	if err == io.EOF {
		return n, src.cause
	}
	return n, err
}

func (src *brokenSource) Close() error { return nil }

func testPayload(size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	return payload
}

func drain(t *testing.T, stream *Stream) ([]byte, int) {
	t.Helper()
	var got bytes.Buffer
	chunks := 0
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			return got.Bytes(), chunks
		}
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		chunks++
		got.Write(chunk)
	}
}

func TestBufferedSuccess(t *testing.T) {
	exec := newTestExecutor(t, 2)

	pending, err := Buffered(context.Background(), exec, func() (Head, []byte, error) {
		return NewHead(200).With("content-type", "text/plain"), []byte("one row"), nil
	})
	if err != nil {
		t.Fatalf("buffered failed: %v", err)
	}

	if pending.Head.Status != 200 {
		t.Errorf("expected 200, got %d", pending.Head.Status)
	}
	if string(pending.Body) != "one row" {
		t.Errorf("expected body %q, got %q", "one row", pending.Body)
	}
	if pending.Stream != nil {
		t.Error("buffered response must not create a stream")
	}
}

func TestBufferedWorkError(t *testing.T) {
	exec := newTestExecutor(t, 2)

	pending, err := Buffered(context.Background(), exec, func() (Head, []byte, error) {
		return Head{}, nil, errors.New("query failed")
	})
	if err != nil {
		t.Fatalf("buffered failed: %v", err)
	}

	if pending.Head.Status != 500 {
		t.Errorf("expected 500, got %d", pending.Head.Status)
	}
	if !bytes.Equal(pending.Body, InternalErrorBody) {
		t.Errorf("expected internal error body, got %q", pending.Body)
	}
}

func TestBufferedExecutorSaturated(t *testing.T) {
	exec := newTestExecutor(t, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	exec.Submit(func() {
		close(started)
		<-release
	})
	<-started
	defer close(release)

	pending, err := Buffered(context.Background(), exec, func() (Head, []byte, error) {
		return NewHead(200), nil, nil
	})
	if err != nil {
		t.Fatalf("buffered failed: %v", err)
	}
	if pending.Head.Status != 500 {
		t.Errorf("saturation should produce 500, got %d", pending.Head.Status)
	}
}

func TestStreamingInlineShortCircuit(t *testing.T) {
	exec := newTestExecutor(t, 2)

	pending, err := Streaming(context.Background(), exec, func() (Source, error) {
		return Source{
			Head:   NewHead(404).With("content-type", "text/plain"),
			Inline: []byte("File not found"),
		}, nil
	})
	if err != nil {
		t.Fatalf("streaming failed: %v", err)
	}

	if pending.Head.Status != 404 {
		t.Errorf("expected 404, got %d", pending.Head.Status)
	}
	if string(pending.Body) != "File not found" {
		t.Errorf("expected fixed not-found body, got %q", pending.Body)
	}
	if pending.Stream != nil {
		t.Error("an error head must never carry a stream")
	}
}

func TestStreamingOpenError(t *testing.T) {
	exec := newTestExecutor(t, 2)

	pending, err := Streaming(context.Background(), exec, func() (Source, error) {
		return Source{}, errors.New("permission storm")
	})
	if err != nil {
		t.Fatalf("streaming failed: %v", err)
	}

	if pending.Head.Status != 500 {
		t.Errorf("expected 500, got %d", pending.Head.Status)
	}
	if pending.Stream != nil {
		t.Error("failed open must not create a stream")
	}
}

func TestStreamingAbandonedWorker(t *testing.T) {
	exec := newTestExecutor(t, 2)

	pending, err := Streaming(context.Background(), exec, func() (Source, error) {
		panic("opener lost its mind")
	})
	if err != nil {
		t.Fatalf("streaming failed: %v", err)
	}

	if pending.Head.Status != 500 {
		t.Errorf("abandoned head should become 500, got %d", pending.Head.Status)
	}
}

func TestStreamingHeadWaitsForStatusWork(t *testing.T) {
	exec := newTestExecutor(t, 2)

	opened := atomic.Bool{}
	start := time.Now()
	pending, err := Streaming(context.Background(), exec, func() (Source, error) {
		time.Sleep(50 * time.Millisecond)
		opened.Store(true)
		return Source{
			Head: NewHead(200),
			Body: newTrackingSource([]byte("body")),
		}, nil
	})
	if err != nil {
		t.Fatalf("streaming failed: %v", err)
	}

	if !opened.Load() {
		t.Error("head resolved before status-determining work completed")
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("streaming returned before open finished")
	}
	if pending.Head.Status != 200 {
		t.Errorf("expected 200, got %d", pending.Head.Status)
	}

	body, _ := drain(t, pending.Stream)
	if string(body) != "body" {
		t.Errorf("expected %q, got %q", "body", body)
	}
}

func TestStreamingDeliversAllChunks(t *testing.T) {
	exec := newTestExecutor(t, 2)

	const chunkSize = 1024
	payload := testPayload(100*chunkSize + 37) // 100x the buffer, unaligned
	src := newTrackingSource(payload)

	pending, err := Streaming(context.Background(), exec, func() (Source, error) {
		return Source{Head: NewHead(200), Body: src}, nil
	}, WithChunkSize(chunkSize), WithStreamDepth(1))
	if err != nil {
		t.Fatalf("streaming failed: %v", err)
	}

	body, chunks := drain(t, pending.Stream)
	if !bytes.Equal(body, payload) {
		t.Error("reassembled body differs from source")
	}
	wantChunks := (len(payload) + chunkSize - 1) / chunkSize
	if chunks != wantChunks {
		t.Errorf("expected %d chunks, got %d", wantChunks, chunks)
	}

	src.waitClosed(t)
}

func TestStreamingBackpressureBound(t *testing.T) {
	exec := newTestExecutor(t, 2)

	const chunkSize = 8
	const depth = 1
	payload := testPayload(100 * chunkSize)
	src := newTrackingSource(payload)

	pending, err := Streaming(context.Background(), exec, func() (Source, error) {
		return Source{Head: NewHead(200), Body: src}, nil
	}, WithChunkSize(chunkSize), WithStreamDepth(depth))
	if err != nil {
		t.Fatalf("streaming failed: %v", err)
	}

	// Consume nothing: the producer must stall after filling the channel
	// plus one blocked send, independent of source size.
	time.Sleep(50 * time.Millisecond)
	if reads := src.reads.Load(); reads > depth+2 {
		t.Errorf("producer read %d chunks ahead without a consumer (depth %d)", reads, depth)
	}

	body, _ := drain(t, pending.Stream)
	if !bytes.Equal(body, payload) {
		t.Error("reassembled body differs from source")
	}
}

func TestStreamingCancellationStopsProducer(t *testing.T) {
	exec := newTestExecutor(t, 2)

	src := newTrackingSource(testPayload(1 << 20))

	pending, err := Streaming(context.Background(), exec, func() (Source, error) {
		return Source{Head: NewHead(200), Body: src}, nil
	}, WithChunkSize(4096), WithStreamDepth(1))
	if err != nil {
		t.Fatalf("streaming failed: %v", err)
	}

	if _, err := pending.Stream.Next(); err != nil {
		t.Fatalf("first chunk failed: %v", err)
	}

	pending.Stream.Cancel()

	// The worker must notice the dropped consumer and release the source
	// instead of reading the remaining megabyte.
	src.waitClosed(t)
	if reads := src.reads.Load(); reads > 8 {
		t.Errorf("producer kept reading after cancel: %d reads", reads)
	}
}

func TestStreamingReadErrorAbortsStream(t *testing.T) {
	exec := newTestExecutor(t, 2)

	cause := errors.New("read exploded")
	src := &brokenSource{reader: bytes.NewReader(testPayload(64)), cause: cause}

	pending, err := Streaming(context.Background(), exec, func() (Source, error) {
		return Source{Head: NewHead(200), Body: src}, nil
	}, WithChunkSize(16))
	if err != nil {
		t.Fatalf("streaming failed: %v", err)
	}
	if pending.Head.Status != 200 {
		t.Fatalf("expected committed 200 head, got %d", pending.Head.Status)
	}

	sawData := false
	for {
		chunk, err := pending.Stream.Next()
		if err == nil {
			sawData = len(chunk) > 0 || sawData
			continue
		}
		if err == io.EOF {
			t.Fatal("stream ended cleanly despite read error")
		}
		if !errors.Is(err, cause) {
			t.Errorf("expected abort cause, got %v", err)
		}
		break
	}
	if !sawData {
		t.Error("expected chunks before the failure")
	}
}

func TestStreamingConcurrentRequestsIsolated(t *testing.T) {
	exec := newTestExecutor(t, 16)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			payload := bytes.Repeat([]byte(strconv.Itoa(i)+","), 500)
			pending, err := Streaming(context.Background(), exec, func() (Source, error) {
				return Source{Head: NewHead(200).With("x-request", strconv.Itoa(i)), Body: newTrackingSource(payload)}, nil
			}, WithChunkSize(64), WithStreamDepth(2))
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}

			// The head is fully observable before any chunk is pulled.
			if got := pending.Head.Fields[0].Value; got != strconv.Itoa(i) {
				t.Errorf("request %d got head of request %s", i, got)
				return
			}

			body, _ := drain(t, pending.Stream)
			if !bytes.Equal(body, payload) {
				t.Errorf("request %d: body mismatch", i)
			}
		}(i)
	}
	wg.Wait()
}

func TestStreamingContextCancelled(t *testing.T) {
	exec := newTestExecutor(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release := make(chan struct{})
	defer close(release)
	_, err := Streaming(ctx, exec, func() (Source, error) {
		<-release
		return Source{Head: NewHead(200)}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStreamingCancelledContextReleasesWorker(t *testing.T) {
	exec := newTestExecutor(t, 1)

	src := newTrackingSource(testPayload(1 << 20))
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Streaming(ctx, exec, func() (Source, error) {
		<-release
		return Source{Head: NewHead(200), Body: src}, nil
	}, WithChunkSize(4096), WithStreamDepth(1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// Only now does the worker resolve the orphaned head and start pumping
	// the megabyte source. With no consumer it must be reaped, not stranded.
	close(release)

	src.waitClosed(t)

	deadline := time.After(time.Second)
	for {
		if err := exec.Submit(func() {}); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never returned to the pool after a cancelled request")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
