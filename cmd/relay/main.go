package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"main/pkg/channel"
)

// relay is a development backend for the chat client: it issues sessions,
// echoes heartbeats, fans chat envelopes out to every connected socket,
// and serves the same stream over the polling endpoint.

const (
	defaultAddr = ":8080"
	maxHistory  = 4096
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("relay: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addrFlag := flag.String("addr", defaultAddr, "listen address")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := newHub()

	mux := http.NewServeMux()
	mux.HandleFunc("/session", h.handleSession)
	mux.HandleFunc("/ws", h.handleSocket)
	mux.HandleFunc("/poll", h.handlePoll)

	server := &http.Server{Addr: *addrFlag, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logs.Infof("relay listening on %s", *addrFlag)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	history []channel.Envelope
	start   uint64 // absolute stream position of history[0]
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newHub() *hub {
	return &hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (h *hub) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		user = "anonymous"
	}
	session := channel.Session{
		SessionID: uuid.NewString(),
		UserID:    user,
		CreatedAt: uint64(time.Now().UnixMilli()),
	}
	payload, err := sonic.ConfigFastest.Marshal(session)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
	logs.Infof("session %s issued for %s", session.SessionID, user)
}

func (h *hub) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("upgrade: %v", err)
		return
	}
	c := &client{conn: conn}
	h.addClient(c)
	defer h.removeClient(c)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := channel.DecodeEnvelope(payload)
		if err != nil {
			logs.Warnf("drop malformed frame: %v", err)
			continue
		}
		if env.Type == channel.TypeHeartbeat {
			c.send(payload)
			continue
		}
		h.publish(env)
	}
}

func (h *hub) handlePoll(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handlePollFetch(w, r)
	case http.MethodPost:
		h.handlePollPublish(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *hub) handlePollFetch(w http.ResponseWriter, r *http.Request) {
	var cursor uint64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "bad cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}

	envelopes, next := h.since(cursor)
	resp := struct {
		Envelopes []channel.Envelope `json:"envelopes"`
		Cursor    string             `json:"cursor"`
	}{Envelopes: envelopes, Cursor: strconv.FormatUint(next, 10)}

	payload, err := sonic.ConfigFastest.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (h *hub) handlePollPublish(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	env, err := channel.DecodeEnvelope(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if env.Type == channel.TypeHeartbeat {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.publish(env)
	w.WriteHeader(http.StatusAccepted)
}

// publish appends the envelope to the poll history and fans it out to
// every connected socket, including the sender.
func (h *hub) publish(env channel.Envelope) {
	payload, err := env.Encode()
	if err != nil {
		logs.Errorf("encode envelope %s: %v", env.EventID, err)
		return
	}

	h.mu.Lock()
	h.history = append(h.history, env)
	if len(h.history) > maxHistory {
		trimmed := len(h.history) - maxHistory
		h.history = h.history[trimmed:]
		h.start += uint64(trimmed)
	}
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.send(payload)
	}
}

// since returns envelopes at or after the absolute cursor plus the next
// cursor value. A cursor older than retained history resumes from the
// oldest retained envelope.
func (h *hub) since(cursor uint64) ([]channel.Envelope, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.start + uint64(len(h.history))
	if cursor >= next {
		return nil, next
	}
	if cursor < h.start {
		cursor = h.start
	}
	slice := h.history[cursor-h.start:]
	out := make([]channel.Envelope, len(slice))
	copy(out, slice)
	return out, next
}

func (h *hub) addClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *hub) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (c *client) send(payload []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		logs.Warnf("write frame: %v", err)
	}
}
