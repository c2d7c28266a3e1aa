package server

import (
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/vlplay/xeno/pkg/xeno"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The bridge carries no credentials and runs on loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ListenAndServe exposes the bridge protocol over WebSocket. Each
// connection gets its own engine and bridge, so concurrent sessions are
// fully isolated; the byte protocol on the socket is identical to stdio.
func ListenAndServe(addr string, quiet bool) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/bridge", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Errorf("websocket upgrade: %v", err)
			return
		}
		defer conn.Close()

		log.Infof("websocket session from %s", conn.RemoteAddr())

		engine := xeno.NewEngine()
		bridge := NewBridge(engine, &wsStream{conn: conn}, &wsWriter{conn: conn}, quiet)
		if err := bridge.Serve(); err != nil {
			log.Debugf("websocket session ended: %v", err)
		}
	})

	log.Noticef("bridge listening on ws://%s/bridge", addr)
	return http.ListenAndServe(addr, mux)
}

// wsStream presents the message-oriented socket as a continuous byte
// stream, so the bridge's line reader works unchanged.
type wsStream struct {
	conn *websocket.Conn
	cur  io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.cur == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.cur = r
		}
		n, err := s.cur.Read(p)
		if err == io.EOF {
			s.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// wsWriter sends each write as one text message.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
