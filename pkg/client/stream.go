package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Event is one server-sent event of a stream call.
type Event struct {
	Kind string
	Data json.RawMessage
}

// RunError is returned by Stream when the agent reports a failed run in an
// error event.
type RunError struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

func (e *RunError) Error() string { return "run " + e.RunID + " failed: " + e.Message }

// Stream calls an entrypoint's stream route. fn sees every event, run-start
// and run-end included; returning an error from fn stops reading. The
// result is taken from the run-end event.
func (c *Client) Stream(ctx context.Context, key string, input any, fn func(Event) error) (*RunResult, error) {
	resp, err := c.call(ctx, key, "stream", input)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result *RunResult
	err = readEvents(bufio.NewReader(resp.Body), func(ev Event) error {
		if fn != nil {
			if err := fn(ev); err != nil {
				return err
			}
		}
		switch ev.Kind {
		case "run-end":
			var r RunResult
			if err := json.Unmarshal(ev.Data, &r); err != nil {
				return fmt.Errorf("decode run-end: %w", err)
			}
			result = &r
		case "error":
			re := &RunError{}
			_ = json.Unmarshal(ev.Data, re)
			return re
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, errors.New("stream ended without a run-end event")
	}
	result.Settlement = settlementOf(resp)
	return result, nil
}

// readEvents parses text/event-stream framing: "event:" and "data:" lines,
// events separated by a blank line. Multiple data lines are joined with "\n".
func readEvents(r *bufio.Reader, fn func(Event) error) error {
	var (
		kind string
		data []string
	)
	dispatch := func() error {
		if kind == "" && len(data) == 0 {
			return nil
		}
		ev := Event{Kind: kind, Data: json.RawMessage(strings.Join(data, "\n"))}
		if ev.Kind == "" {
			ev.Kind = "message"
		}
		kind, data = "", nil
		return fn(ev)
	}

	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			switch {
			case line == "":
				if derr := dispatch(); derr != nil {
					return derr
				}
			case strings.HasPrefix(line, ":"):
			case strings.HasPrefix(line, "event:"):
				kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return dispatch()
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}
