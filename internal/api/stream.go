package api

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unusual-markets/internal/markets"
)

const (
	defaultStreamInterval = 30 * time.Second
	streamWriteWait       = 10 * time.Second
	streamPongWait        = 90 * time.Second
	streamPingPeriod      = 45 * time.Second
)

type streamMessage struct {
	Type string `json:"type"`
	marketsResponse
}

type streamError struct {
	Type  string    `json:"type"`
	Error errorBody `json:"error"`
}

func (s *Server) upgrader() websocket.Upgrader {
	origins := s.config.CORSOrigins
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(origins) == 0 || slices.Contains(origins, "*") || slices.Contains(origins, origin)
		},
	}
}

// streamMarkets pushes the /api/markets payload on connect and then every
// stream interval. The query string is parsed exactly like /api/markets.
func (s *Server) streamMarkets(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r.URL.Query())
	if err != nil {
		s.fail(w, r, err, "markets")
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.metrics.StreamClientConnected()
	defer s.metrics.StreamClientDisconnected()

	// Shutdown does not track hijacked connections, so streams also end
	// when the server's run context does.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.runContext(), cancel)
	defer stop()

	// reader: handles pongs and notices the client going away
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := time.Duration(s.config.StreamIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	if !s.pushMarkets(ctx, conn, q) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-ticker.C:
			if !s.pushMarkets(ctx, conn, q) {
				return
			}
		}
	}
}

// pushMarkets writes one snapshot and reports whether the connection is
// still usable. Pipeline failures are sent as error frames.
func (s *Server) pushMarkets(ctx context.Context, conn *websocket.Conn, q markets.Query) bool {
	var msg any
	res, err := s.svc.Markets(ctx, q)
	switch {
	case ctx.Err() != nil:
		return false
	case err != nil:
		_, code := classify(err)
		s.logger.Warn("stream snapshot failed", "error", err)
		msg = streamError{Type: "error", Error: errorBody{Code: code, Message: err.Error()}}
	default:
		msg = streamMessage{Type: "markets", marketsResponse: newMarketsResponse(res)}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("stream write failed", "error", err)
		return false
	}
	return true
}
