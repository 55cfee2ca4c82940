// Package feed streams telemetry frames to websocket clients.
package feed

import (
	"context"
	"net/http"
	"sync"

	"github.com/golang/glog"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"golang.org/x/net/websocket"

	fw "github.com/robotalks/robolink/pkg/framework"
	"github.com/robotalks/robolink/pkg/l1/telemetry"
)

// DefaultBuffer is the number of frames queued per client.
const DefaultBuffer = 16

// Hub fans frames out to websocket clients. A client which can not keep up
// is disconnected.
type Hub struct {
	Buffer int

	lock    sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	sendCh chan string
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.sendCh) })
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{Buffer: DefaultBuffer}
}

// Name implements framework.Named.
func (h *Hub) Name() string {
	return "feed"
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

func (h *Hub) register() *client {
	size := h.Buffer
	if size <= 0 {
		size = DefaultBuffer
	}
	c := &client{sendCh: make(chan string, size)}
	h.lock.Lock()
	if h.clients == nil {
		h.clients = make(map[*client]struct{})
	}
	h.clients[c] = struct{}{}
	h.lock.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.lock.Lock()
	delete(h.clients, c)
	h.lock.Unlock()
	c.close()
}

// Publish implements telemetry.Sink.
func (h *Hub) Publish(kind string, frame *structpb.Struct) error {
	h.Broadcast(telemetry.JSON(frame))
	return nil
}

// Broadcast queues a text message to every client.
func (h *Hub) Broadcast(msg string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for c := range h.clients {
		select {
		case c.sendCh <- msg:
		default:
			glog.Warning("feed: dropping slow client")
			delete(h.clients, c)
			c.close()
		}
	}
}

// Handler returns the websocket handler.
func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serve)
}

func (h *Hub) serve(conn *websocket.Conn) {
	c := h.register()
	defer h.unregister(c)
	glog.V(2).Infof("feed: client %s connected", conn.Request().RemoteAddr)

	// incoming messages are ignored, reading detects the close.
	go func() {
		var discard []byte
		for websocket.Message.Receive(conn, &discard) == nil {
		}
		h.unregister(c)
	}()

	for msg := range c.sendCh {
		if err := websocket.Message.Send(conn, msg); err != nil {
			glog.V(2).Infof("feed: send: %v", err)
			return
		}
	}
}

// Server serves the feed over HTTP.
type Server struct {
	Addr string
	Path string
	Hub  *Hub
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "feed-server"
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	path := s.Path
	if path == "" {
		path = "/telemetry"
	}
	mux := http.NewServeMux()
	mux.Handle(path, s.Hub.Handler())
	srv := &http.Server{Addr: s.Addr, Handler: mux}
	glog.Infof("feed: serving ws://%s%s", s.Addr, path)
	err := fw.RunWithContextCancel(ctx, func() { srv.Close() }, srv.ListenAndServe)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
