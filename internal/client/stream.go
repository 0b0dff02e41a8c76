package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/muurk/otafleet/internal/api"
)

// Stream subscribes to the server's live feed and calls onSnapshot for every
// snapshot pushed. It blocks until ctx is cancelled or the connection fails.
func (c *Client) Stream(ctx context.Context, onSnapshot func(*api.SnapshotResponse)) error {
	wsURL, err := liveURL(c.BaseURL)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return ClassifyNetworkError(err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		var msg api.LiveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return ClassifyNetworkError(err)
		}
		switch msg.Type {
		case api.LiveSnapshot:
			if msg.Snapshot != nil {
				onSnapshot(msg.Snapshot)
			}
		case api.LiveError:
			return fmt.Errorf("live feed error: %s", msg.Error)
		}
	}
}

// liveURL converts the server base URL to its websocket endpoint.
func liveURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
