package api

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Dombom123/viral-launch-video/internal/playback"
)

const (
	statePushRate = 30 // pushes per second
	writeWait     = 10 * time.Second
	pingInterval  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return isLoopbackOrigin(r.Header.Get("Origin")) },
}

// isLoopbackOrigin accepts non-browser clients (no Origin) and pages served
// from this machine.
func isLoopbackOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// stateStreamHandler pushes the playback state on every change, at most
// statePushRate times per second. The first message is the current state.
func stateStreamHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		store := cfg.Session.Store()
		updates, unsubscribe := store.Subscribe()
		defer unsubscribe()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Clients only send close frames; reading surfaces them.
		conn.SetReadLimit(512)
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		if err := writeState(conn, store.State()); err != nil {
			return
		}

		limiter := rate.NewLimiter(rate.Limit(statePushRate), 1)
		ping := time.NewTicker(pingInterval)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case st := <-updates:
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				select {
				case st = <-updates:
				default:
				}
				if err := writeState(conn, st); err != nil {
					return
				}
			}
		}
	}
}

func writeState(conn *websocket.Conn, st playback.State) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(StateToResponse(st))
}
