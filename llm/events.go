package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const doneSentinel = "[DONE]"

// EventReader decodes a line-oriented completion event stream. Relevant lines
// start with "data:" and carry either a chunk whose text is at
// choices[0].delta.content or the [DONE] sentinel. Anything else is skipped.
type EventReader struct {
	scanner *bufio.Scanner
	done    bool
}

// NewEventReader wraps r.
func NewEventReader(r io.Reader) *EventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &EventReader{scanner: scanner}
}

// Next returns the next non-empty text delta. It returns io.EOF after the sentinel
// or when the stream ends cleanly.
func (r *EventReader) Next() (string, error) {
	if r.done {
		return "", io.EOF
	}
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == doneSentinel {
			r.done = true
			return "", io.EOF
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	r.done = true
	if err := r.scanner.Err(); err != nil {
		return "", fmt.Errorf("stream error: %w", err)
	}
	return "", io.EOF
}

// WriteEvent writes one delta in the event stream format read by EventReader.
func WriteEvent(w io.Writer, content string) error {
	chunk := openai.ChatCompletionStreamResponse{
		Object: "chat.completion.chunk",
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: content}},
		},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// WriteDone writes the end-of-stream sentinel.
func WriteDone(w io.Writer) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", doneSentinel)
	return err
}

// streamEvents forwards the deltas of an event-stream body to a channel.
func streamEvents(ctx context.Context, body io.ReadCloser) <-chan StreamResponse {
	responseChan := make(chan StreamResponse)

	go func() {
		defer close(responseChan)
		defer body.Close()

		reader := NewEventReader(body)
		for {
			delta, err := reader.Next()
			if errors.Is(err, io.EOF) {
				send(ctx, responseChan, StreamResponse{Done: true})
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					send(ctx, responseChan, StreamResponse{Error: err})
				}
				return
			}
			if !send(ctx, responseChan, StreamResponse{Content: delta}) {
				return
			}
		}
	}()

	return responseChan
}

// send delivers r unless ctx ends first.
func send(ctx context.Context, ch chan<- StreamResponse, r StreamResponse) bool {
	select {
	case ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
