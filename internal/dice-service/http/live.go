package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/fairdice-platform/internal/dice-service/dto"
)

const (
	writeWait = 10 * time.Second
	typePing  = "ping"
)

type clientMsg struct {
	Type string `json:"type"`
}

// liveFeed manda o histórico recente e depois cada evento do feed. Só este goroutine escreve
// na conexão; o leitor apenas sinaliza pings do cliente e a desconexão.
func (s *Server) liveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	history, events, cancel := s.live.Subscribe()
	defer cancel()

	if err := s.write(conn, dto.LiveHistory{Type: "historical_bets", Bets: history}); err != nil {
		return
	}

	pongWait := 2 * s.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg clientMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			if msg.Type == typePing {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				// desconectado por lentidão
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow"), time.Now().Add(writeWait))
				return
			}
			if err := s.write(conn, ev); err != nil {
				return
			}
		case <-pings:
			if err := s.write(conn, map[string]string{"type": "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug("live ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
