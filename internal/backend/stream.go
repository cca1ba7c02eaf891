package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const streamPrefix = "data: "

// streamFrame is one data line of the modification stream. Content is a
// pointer so a frame without the field decodes as nil and is ignored.
type streamFrame struct {
	Content *string `json:"content"`
}

// ModifyStream posts a modification request and consumes the streamed reply,
// forwarding content fragments to onFragment in arrival order. An error
// returned from onFragment aborts the stream and is returned unchanged.
func (c *Client) ModifyStream(ctx context.Context, req ModifyRequest, onFragment func(string) error) error {
	ctx, span := c.tracer.Start(ctx, "modify_stream_call")
	defer span.End()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/modify/stream", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("calling backend", "method", http.MethodPost, "path", "/modify/stream")

	start := time.Now()
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	err = c.decodeStream(ctx, resp.Body, onFragment)

	histogram, _ := c.meter.Float64Histogram("http.client.request.duration")
	histogram.Record(ctx, time.Since(start).Seconds())
	return err
}

// decodeStream reads newline-delimited lines from r, decoding every
// well-formed "data: " frame and skipping everything else. A trailing line
// without a newline is still decoded before EOF is treated as a clean end.
func (c *Client) decodeStream(ctx context.Context, r io.Reader, onFragment func(string) error) error {
	reader := bufio.NewReader(r)
	fragments, _ := c.meter.Int64Counter("chat.stream.fragments")
	skipped, _ := c.meter.Int64Counter("chat.stream.skipped_lines")

	for {
		line, err := reader.ReadString('\n')
		trimmed := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
		if strings.HasPrefix(trimmed, streamPrefix) {
			var frame streamFrame
			if jsonErr := json.Unmarshal([]byte(trimmed[len(streamPrefix):]), &frame); jsonErr != nil {
				skipped.Add(ctx, 1)
				c.logger.Debug("skipping malformed stream line", "error", jsonErr)
			} else if frame.Content != nil {
				fragments.Add(ctx, 1)
				if cbErr := onFragment(*frame.Content); cbErr != nil {
					return cbErr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}
	}
}
