package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSSource dials a push endpoint that streams message frames for one user.
type WSSource struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	log    *zap.Logger
}

func NewWSSource(rawURL string, header http.Header, log *zap.Logger) *WSSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSSource{url: rawURL, header: header, dialer: websocket.DefaultDialer, log: log}
}

func (s *WSSource) Name() string { return "ws" }

func (s *WSSource) Subscribe(ctx context.Context, localID string) (Subscription, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if localID != "" {
		q := u.Query()
		q.Set("user_id", localID)
		u.RawQuery = q.Encode()
	}
	conn, resp, err := s.dialer.DialContext(ctx, u.String(), s.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	sub := newSubscription()
	sub.closeFn = conn.Close
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				sub.fail(fmt.Errorf("feed websocket read: %w", err))
				return
			}
			msg, err := Decode(data)
			if err != nil {
				s.log.Debug("ignoring websocket frame", zap.Error(err))
				continue
			}
			if localID != "" && !msg.Involves(localID) {
				continue
			}
			if !sub.deliver(msg) {
				return
			}
		}
	}()
	return sub, nil
}
