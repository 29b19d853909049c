package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"hillracer.ai/internal/observerproto"
	"hillracer.ai/internal/sim/run"
)

// Source is the simulation loop the server reads from.
type Source interface {
	Bootstrap(ctx context.Context) (observerproto.BootstrapResponse, error)
	ObserverJoin() chan<- run.ObserverJoinRequest
	ObserverLeave() chan<- string
}

type Server struct {
	src Source
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	// AllowRemote lifts the loopback-only restriction.
	AllowRemote bool

	// Observers send nothing after SUBSCRIBE, so liveness comes from pings:
	// every PingPeriod the writer pings, and a connection with no pong for
	// PongWait is dropped.
	PingPeriod time.Duration
	PongWait   time.Duration
}

func NewServer(src Source, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		src: src,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		PingPeriod: 25 * time.Second,
		PongWait:   60 * time.Second,
	}
}

// Routes mounts the observer API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.loopbackOnly)

	r.Route("/v1/observer", func(r chi.Router) {
		r.Get("/bootstrap", s.BootstrapHandler())
		r.Get("/chunks/{index}", s.ChunkHandler())
		r.Get("/ws", s.WSHandler())
	})
	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		respondJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func (s *Server) loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

func respondJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func (s *Server) bootstrap(r *http.Request) (observerproto.BootstrapResponse, error) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	return s.src.Bootstrap(ctx)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		resp, err := s.bootstrap(r)
		if err != nil {
			http.Error(rw, "simulation busy", http.StatusServiceUnavailable)
			return
		}
		respondJSON(rw, http.StatusOK, resp)
	}
}

// ChunkHandler serves one resident chunk by index.
func (s *Server) ChunkHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		idx, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			http.Error(rw, "invalid chunk index", http.StatusBadRequest)
			return
		}
		resp, err := s.bootstrap(r)
		if err != nil {
			http.Error(rw, "simulation busy", http.StatusServiceUnavailable)
			return
		}
		for _, ch := range resp.Chunks {
			if ch.Index == idx {
				respondJSON(rw, http.StatusOK, ch)
				return
			}
		}
		http.Error(rw, fmt.Sprintf("chunk %d not resident", idx), http.StatusNotFound)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		normalizeSubscribe(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 1024)
		joinReq := run.ObserverJoinRequest{
			SessionID: sid,
			Out:       out,
			Samples:   sub.Samples,
			TickEvery: sub.TickEvery,
		}
		select {
		case s.src.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		s.log.Printf("observer %s joined from %s", sid, r.RemoteAddr)
		defer func() {
			select {
			case s.src.ObserverLeave() <- sid:
			default:
				// Loop is stopping; it closes out itself.
			}
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		pongWait, pingPeriod := s.PongWait, s.PingPeriod
		if pongWait <= 0 {
			pongWait = 60 * time.Second
		}
		if pingPeriod <= 0 || pingPeriod >= pongWait {
			pingPeriod = pongWait * 9 / 10
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
						writeErr <- err
						return
					}
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: the client only ever sends SUBSCRIBE; anything else is
		// ignored. Reading also runs the pong handler. It ends when the
		// connection drops or pongs stop.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("observer %s left", sid)
	}
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.TickEvery <= 0 {
		sub.TickEvery = 1
	}
	if sub.TickEvery > 600 {
		sub.TickEvery = 600
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
