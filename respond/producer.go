package respond

import (
	"context"
	"io"
	"log/slog"

	"go.uber.org/multierr"
)

// pump is the chunked producer loop. It owns src and the producer half of
// the stream and runs entirely on a worker goroutine: reads may block, and a
// Send blocks when the consumer lags, which is what bounds read-ahead.
//
// Termination: EOF closes the stream, a cancelled send stops reading
// immediately, a read error aborts the stream with its cause. No retries;
// a read failure is terminal for the stream.
func pump(src io.ReadCloser, producer *Producer, chunkSize int) {
	streamsStarted.Add(context.Background(), 1)

	defer func() {
		// A producer that vanishes without a terminator would leave the
		// consumer blocked forever.
		producer.Abort(errProducerDropped)
	}()

	buf := make([]byte, chunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if sendErr := producer.Send(chunk); sendErr != nil {
				streamAborts.Add(context.Background(), 1)
				if closeErr := src.Close(); closeErr != nil {
					slog.Warn("closing body source after cancel", "error", closeErr)
				}
				producer.Abort(sendErr)
				return
			}
			chunksSent.Add(context.Background(), 1)
		}
		if err == io.EOF {
			if closeErr := src.Close(); closeErr != nil {
				slog.Warn("closing body source", "error", closeErr)
			}
			producer.Close()
			return
		}
		if err != nil {
			streamAborts.Add(context.Background(), 1)
			producer.Abort(multierr.Append(err, src.Close()))
			return
		}
	}
}
