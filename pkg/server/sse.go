package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zen-systems/cascadegate/pkg/cascade"
)

// writeEventStream relays cascade events as server-sent events until the
// channel closes. The event name is the cascade event type.
func writeEventStream(c echo.Context, events <-chan cascade.Event) error {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		// Drain so the cascade goroutine is not left blocked.
		for range events {
		}
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	header := c.Response().Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		if err := writeSSEEvent(writer, string(ev.Type), ev); err != nil {
			// The request context is cancelled with the connection, which
			// stops the cascade; keep draining until it closes the channel.
			for range events {
			}
			return err
		}
		flusher.Flush()
	}
	return nil
}

func writeSSEEvent(w io.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return fmt.Errorf("write SSE event name: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
