package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const maxAudioFrameBytes = 1 << 20

var audioUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleAudioSocket accepts PCM16 microphone frames from the browser as
// binary messages and pushes them into the relay. Text messages are ignored.
func (s *Server) handleAudioSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := audioUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxAudioFrameBytes)

	detach := s.relay.Attach()
	defer detach()
	log.Printf("audio: microphone client attached from %s", r.RemoteAddr)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("audio: read: %v", err)
			}
			break
		}
		if kind != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		s.relay.Push(data)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	log.Printf("audio: microphone client detached")
}
