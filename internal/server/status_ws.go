package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

func validInterval(ms int) bool {
	return ms == 1000 || ms == 2000 || ms == 5000
}

// handleStatus upgrades to a websocket that receives add/update/remove
// events for every transfer plus periodic snapshots after a subscribe
// request of the form {"type":"subscribe","interval_ms":1000}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.checkStatusAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{
		CheckOrigin:  originAllowed,
		Subprotocols: []string{wsPrimaryProtocol},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	client := newStatusClient()
	s.status.hub.Register(client)

	var closeOnce sync.Once
	done := make(chan struct{})
	closeConn := func() {
		closeOnce.Do(func() {
			close(done)
			_ = conn.Close()
		})
	}

	var subMu sync.Mutex
	var tickerCancel context.CancelFunc
	stopTicker := func() {
		subMu.Lock()
		if tickerCancel != nil {
			tickerCancel()
			tickerCancel = nil
		}
		subMu.Unlock()
	}

	sendJSON := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		client.trySend(data)
	}

	sendSnapshot := func() {
		rates := s.status.Rates()
		sendJSON(snapshotMessage{
			SchemaVersion: 1,
			Type:          "snapshot",
			Timestamp:     time.Now().UnixMilli(),
			PoolReady:     s.pool.Ready(),
			DownloadBps:   rates.DownloadBps,
			UploadBps:     rates.UploadBps,
			Streams:       s.status.Snapshot(),
		})
	}

	startTicker := func(interval time.Duration) {
		stopTicker()
		ctx, cancel := context.WithCancel(context.Background())
		subMu.Lock()
		tickerCancel = cancel
		subMu.Unlock()
		sendSnapshot()
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-done:
					return
				case <-ticker.C:
					sendSnapshot()
				}
			}
		}()
	}

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			stopTicker()
			closeConn()
			s.status.hub.Unregister(client)
		})
	}

	go func() {
		defer cleanup()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				Type       string `json:"type"`
				IntervalMs int    `json:"interval_ms"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}
			switch req.Type {
			case "subscribe":
				if !validInterval(req.IntervalMs) {
					sendJSON(errorMessage{
						SchemaVersion: 1,
						Type:          "error",
						Code:          "invalid_interval",
						Message:       "interval_ms must be 1000, 2000, or 5000",
					})
					continue
				}
				startTicker(time.Duration(req.IntervalMs) * time.Millisecond)
			case "unsubscribe":
				stopTicker()
			}
		}
	}()

	go func() {
		defer cleanup()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case data, ok := <-client.send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()
}
