package agent

import (
	"context"
	"time"

	"github.com/flowdeck/flowdeck/pkg/models"
)

// DefaultGenerateTimeout bounds a blocking Generate call.
const DefaultGenerateTimeout = 10 * time.Minute

// Generate consumes a response stream to completion and returns the final
// assistant message. It is the blocking counterpart to Loop.Run for callers
// that have no use for intermediate chunks, such as autonomous triggers and
// title generation.
//
// On timeout or error the stream is drained in the background so the
// producing loop never blocks on an abandoned reader. A timeout of zero or
// less means DefaultGenerateTimeout.
func Generate(ctx context.Context, chunks <-chan *ResponseChunk, timeout time.Duration) (*models.Message, error) {
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return nil, ErrNoFinalMessage
			}
			if chunk.Error != nil {
				go drain(chunks)
				return nil, chunk.Error
			}
			if chunk.Done != nil {
				go drain(chunks)
				return chunk.Done, nil
			}
		case <-timer.C:
			go drain(chunks)
			return nil, ErrGenerateTimeout
		case <-ctx.Done():
			go drain(chunks)
			return nil, ctx.Err()
		}
	}
}

func drain(chunks <-chan *ResponseChunk) {
	for range chunks {
	}
}
