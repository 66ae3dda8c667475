package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/matgreaves/intercept/server"
)

// Follow streams the daemon's event feed, calling fn for each event until
// ctx is cancelled, the stream ends, or fn returns an error. Events after
// lastSeq are delivered; pass 0 to replay everything retained.
func (c *Client) Follow(ctx context.Context, lastSeq uint64, stats bool, fn func(server.FeedEvent) error) error {
	url := c.base + "/events"
	if stats {
		url += "?stats=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create SSE request: %w", err)
	}
	if lastSeq > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(lastSeq, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: HTTP %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")

		case line == "":
			if data == "" {
				continue
			}
			var ev server.FeedEvent
			err := json.Unmarshal([]byte(data), &ev)
			data = ""
			if err != nil {
				continue
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream read: %w", err)
	}
	return ctx.Err()
}
