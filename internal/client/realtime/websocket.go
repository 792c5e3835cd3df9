package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/pantrysync/internal/logging"
	"nhooyr.io/websocket"
)

const maxMessageSize = 1 << 20

var ErrHandshake = errors.New("realtime handshake failed")

// WebsocketTransport connects to the change feed over a websocket. The
// channel, the row filter and the access token travel as query parameters.
type WebsocketTransport struct {
	endpoint   string
	token      func() string
	httpClient *http.Client
	log        logging.Logger
}

// NewWebsocketTransport returns a transport for endpoint. token is read on
// every connect so a refreshed session is picked up on reconnect.
func NewWebsocketTransport(endpoint string, token func() string, log logging.Logger) *WebsocketTransport {
	return &WebsocketTransport{
		endpoint:   endpoint,
		token:      token,
		httpClient: http.DefaultClient,
		log:        log.With("module", "realtime-ws"),
	}
}

func (t *WebsocketTransport) dialURL(scope Scope) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("channel", ChannelName(scope))
	q.Set("filter", Filter(scope))
	if t.token != nil {
		if tok := t.token(); tok != "" {
			q.Set("token", tok)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *WebsocketTransport) Connect(ctx context.Context, scope Scope) (Stream, error) {
	u, err := t.dialURL(scope)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{HTTPClient: t.httpClient})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: status %d: %v", ErrHandshake, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	t.log.Debug(ctx, "feed connected", "channel", ChannelName(scope))
	return &wsStream{conn: conn, log: t.log}, nil
}

type wsStream struct {
	conn *websocket.Conn
	log  logging.Logger
}

// Next skips frames that are not record changes, such as heartbeats.
func (s *wsStream) Next(ctx context.Context) (Event, error) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return Event{}, err
		}
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			s.log.Warn(ctx, "undecodable feed message", "error", err)
			continue
		}
		switch e.Type {
		case EventInsert, EventUpdate, EventDelete:
			if e.RecordID() == "" {
				s.log.Warn(ctx, "feed event without record id", "type", e.Type)
				continue
			}
			return e, nil
		}
	}
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
