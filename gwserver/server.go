// Package gwserver owns server lifecycle: accepting the WebSocket
// upgrade, routing the handshake path and origin policy, constructing a
// wsconn.Connection for each accepted socket, and draining outstanding
// connections on Shutdown. It is the generalisation of the teacher's
// server.go/handler.go ServeHTTP split, narrowed to the WS-only surface
// this module implements (the HTTP query/mutation path is a Non-goal).
package gwserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/relaygate/gqlgw/collab"
	"github.com/relaygate/gqlgw/cors"
	"github.com/relaygate/gqlgw/dispatch"
	"github.com/relaygate/gqlgw/livequery"
	"github.com/relaygate/gqlgw/logger"
	"github.com/relaygate/gqlgw/protocol"
	"github.com/relaygate/gqlgw/wsconn"
)

// Config wires every external collaborator and policy knob a Server
// needs. Collaborators are the same interfaces wsconn.Config takes;
// Server's job is only to produce a wsconn.Config per accepted socket.
type Config struct {
	Log *logger.LogWrapper

	Auth        collab.Authenticator
	QueryStore  collab.QueryStore
	SchemaCache collab.SchemaCache
	Planner     collab.Planner
	Engine      *dispatch.Engine
	LiveQuery   *livequery.Bridge
	Poller      collab.Poller

	CORS              cors.Policy
	KeepAliveInterval time.Duration

	// Registerer receives the connections gauge; defaults to
	// prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer
}

// Server accepts graphql-ws handshakes on the three fixed paths and
// runs one wsconn.Connection per accepted socket.
type Server struct {
	cfg      Config
	log      *logger.LogWrapper
	upgrader websocket.Upgrader

	connections prometheus.Gauge

	mu      sync.Mutex
	active  map[*wsconn.Connection]struct{}
	closing bool
}

// CreateServer builds a Server and registers its connections gauge.
func CreateServer(cfg Config) (*Server, error) {
	if cfg.CORS == nil {
		cfg.CORS = cors.AllowAll{}
	}

	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gql_ws_connections",
		Help: "Number of currently open graphql-ws connections.",
	})
	if err := registerer.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			gauge = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, errors.Wrap(err, "failed to register connections gauge")
		}
	}

	return &Server{
		cfg: cfg,
		log: cfg.Log,
		upgrader: websocket.Upgrader{
			CheckOrigin:  func(r *http.Request) bool { return true }, // Policy.Check runs explicitly below
			Subprotocols: []string{protocol.Subprotocol},
		},
		connections: gauge,
		active:      map[*wsconn.Connection]struct{}{},
	}, nil
}

// ServeHTTP is the sole HTTP entrypoint: every request here is expected
// to be a graphql-ws upgrade on one of the three handshake paths (§4.2).
// Anything else is a 404, since HTTP query/mutation execution is a
// Non-goal of this module.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	errorStyle, queryType, err := cors.Route(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := s.cfg.CORS.Check(r); err != nil {
		s.log.WithError(err).Warnf("rejecting handshake: origin check failed")
		writeAccessDenied(w, err)
		return
	}

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warnf("failed to upgrade connection")
		return
	}

	retained := s.cfg.CORS.FilterHeaders(r.Header, func(msg string) { s.log.Warnf(msg) })

	var c *wsconn.Connection
	c = wsconn.New(context.Background(), wsconn.Config{
		WS:          conn,
		Log:         s.log,
		Auth:        s.cfg.Auth,
		QueryStore:  s.cfg.QueryStore,
		SchemaCache: s.cfg.SchemaCache,
		Planner:     s.cfg.Planner,
		Engine:      s.cfg.Engine,
		LiveQuery:   s.cfg.LiveQuery,
		Poller:      s.cfg.Poller,

		RetainedHeaders:   retained,
		IPAddress:         r.RemoteAddr,
		ErrorStyle:        errorStyle,
		QueryType:         queryType,
		KeepAliveInterval: s.cfg.KeepAliveInterval,

		OnClose: func() { s.forget(c) },
	})

	s.remember(c)
}

// writeAccessDenied rejects a handshake with the HTTP 400 + machine-
// readable reason the origin policy check requires: a disallowed
// Origin is a rejected handshake, not a server error, so it is never a
// 403 or 5xx.
func writeAccessDenied(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    "AccessDenied",
		"message": err.Error(),
	})
}

func (s *Server) remember(c *wsconn.Connection) {
	s.mu.Lock()
	s.active[c] = struct{}{}
	s.mu.Unlock()
	s.connections.Inc()
}

func (s *Server) forget(c *wsconn.Connection) {
	s.mu.Lock()
	_, ok := s.active[c]
	delete(s.active, c)
	s.mu.Unlock()
	if ok {
		s.connections.Dec()
	}
}

// Shutdown closes every active connection with NormalClosure and waits
// for their OnClose hooks to fire, or for ctx to be cancelled. New
// upgrades are refused from the moment Shutdown is called.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*wsconn.Connection, 0, len(s.active))
	for c := range s.active {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, c := range conns {
		c := c
		g.Go(func() error {
			c.Close(wsconn.NormalClosure, "server shutting down")
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
