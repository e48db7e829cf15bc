// Package observer streams rendered frames to local websocket viewers and
// accepts engine commands from them.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelstorm.ai/internal/protocol"
	"voxelstorm.ai/internal/sim/render"
	"voxelstorm.ai/internal/sim/scenes"
	"voxelstorm.ai/internal/sim/session"
	"voxelstorm.ai/internal/sim/tuning"
)

// Commander is the part of a session the server drives.
type Commander interface {
	Submit(cmd session.Command) error
	Export(ctx context.Context) ([]protocol.ExportVoxel, error)
}

type client struct {
	id        string
	every     int
	instances bool
	seen      uint64
	out       chan []byte
}

// Server is a render adapter and session listener; it must be added to the
// session's adapters and bound to the session before serving.
type Server struct {
	tun tuning.Tuning
	log *zap.SugaredLogger

	cmds Commander

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.Mutex
	clients map[string]*client

	mode  atomic.Value // string
	count atomic.Int64

	ackTimeout time.Duration
}

func NewServer(tun tuning.Tuning, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		tun: tun,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback-only anyway
		},
		clients:    map[string]*client{},
		ackTimeout: 5 * time.Second,
	}
	s.mode.Store("STABLE")
	return s
}

func (s *Server) Bind(c Commander) { s.cmds = c }

// Routes registers the observer endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/export", s.ExportHandler())
	mux.HandleFunc("/v1/ws", s.WSHandler())
}

func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Render fans a frame out to subscribers. Encoding happens at most twice per
// frame; slow clients drop frames.
func (s *Server) Render(f *render.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return
	}
	var header, full []byte
	for _, c := range s.clients {
		c.seen++
		if c.every > 1 && c.seen%uint64(c.every) != 0 {
			continue
		}
		var b []byte
		if c.instances {
			if full == nil {
				full, _ = json.Marshal(protocol.NewFrameMsg(f, true))
			}
			b = full
		} else {
			if header == nil {
				header, _ = json.Marshal(protocol.NewFrameMsg(f, false))
			}
			b = header
		}
		select {
		case c.out <- b:
		default:
		}
	}
}

func (s *Server) OnState(mode string) {
	s.mode.Store(mode)
	s.broadcast(protocol.StateMsg{Type: protocol.TypeState, ProtocolVersion: protocol.Version, Mode: mode})
}

func (s *Server) OnCount(n int) {
	s.count.Store(int64(n))
	s.broadcast(protocol.CountMsg{Type: protocol.TypeCount, ProtocolVersion: protocol.Version, Count: n})
}

func (s *Server) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.out <- b:
		default:
		}
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := protocol.BootstrapResponse{
			ProtocolVersion: protocol.Version,
			Mode:            s.mode.Load().(string),
			Count:           int(s.count.Load()),
			Scenes:          scenes.Names(),
			Ops:             protocol.Ops(),
			Params: protocol.SimParams{
				TickRateHz:       s.tun.TickRateHz,
				FrameRateHz:      s.tun.FrameRateHz,
				FloorY:           s.tun.FloorY,
				TemperatureRange: [2]float64{protocol.MinTemperature, protocol.MaxTemperature},
				PrecipRange:      [2]float64{protocol.MinPrecipitation, protocol.MaxPrecipitation},
			},
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) ExportHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		if s.cmds == nil {
			http.Error(rw, "no session", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		layout, err := s.cmds.Export(ctx)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		b, err := protocol.MarshalExport(layout)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("download") != "" {
			rw.Header().Set("Content-Disposition", `attachment; filename="voxel-export.json"`)
		}
		_, _ = rw.Write(b)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

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
		sub, err := decodeSubscribe(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
			return
		}

		c := &client{
			id:  fmt.Sprintf("O%d", s.nextID.Add(1)),
			out: make(chan []byte, 64),
		}
		applySubscribe(c, sub)

		// Current state first so late joiners are in sync.
		state, _ := json.Marshal(protocol.StateMsg{Type: protocol.TypeState, ProtocolVersion: protocol.Version, Mode: s.mode.Load().(string)})
		count, _ := json.Marshal(protocol.CountMsg{Type: protocol.TypeCount, ProtocolVersion: protocol.Version, Count: int(s.count.Load())})
		c.out <- state
		c.out <- count

		s.mu.Lock()
		s.clients[c.id] = c
		s.mu.Unlock()
		s.log.Debugw("observer joined", "id", c.id, "every", c.every, "instances", c.instances)
		defer func() {
			s.mu.Lock()
			delete(s.clients, c.id)
			s.mu.Unlock()
			s.log.Debugw("observer left", "id", c.id)
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates and CMD.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeSubscribe:
				sub, err := decodeSubscribe(msg)
				if err != nil {
					continue
				}
				s.mu.Lock()
				applySubscribe(c, sub)
				s.mu.Unlock()
			case protocol.TypeCmd:
				s.handleCmd(ctx, c, msg)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handleCmd(ctx context.Context, c *client, msg []byte) {
	var doc any
	if err := json.Unmarshal(msg, &doc); err != nil {
		s.ack(c, ackFor(""), protocol.ErrProtoBadRequest, err.Error())
		return
	}
	var cm protocol.CmdMsg
	_ = json.Unmarshal(msg, &cm)
	if cm.ProtocolVersion != protocol.Version {
		s.ack(c, ackFor(cm.ID), protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}
	if err := protocol.Validate(protocol.SchemaCmd, doc); err != nil {
		s.ack(c, ackFor(cm.ID), protocol.ErrBadRequest, err.Error())
		return
	}
	cmd, err := session.CommandFromMsg(cm)
	if err != nil {
		s.ack(c, ackFor(cm.ID), protocol.ErrBadRequest, err.Error())
		return
	}
	if s.cmds == nil {
		s.ack(c, ackFor(cm.ID), protocol.ErrInternal, "no session")
		return
	}
	reply := make(chan session.Result, 1)
	cmd.Reply = reply
	if err := s.cmds.Submit(cmd); err != nil {
		code := protocol.ErrInternal
		if errors.Is(err, session.ErrBusy) {
			code = protocol.ErrBusy
		}
		s.ack(c, ackFor(cm.ID), code, err.Error())
		return
	}
	go func() {
		t := time.NewTimer(s.ackTimeout)
		defer t.Stop()
		select {
		case res := <-reply:
			a := ackFor(cm.ID)
			a.Accepted = res.Accepted
			s.ack(c, a, res.Code, res.Message)
		case <-t.C:
			s.ack(c, ackFor(cm.ID), protocol.ErrInternal, "command timed out")
		case <-ctx.Done():
		}
	}()
}

func ackFor(id string) protocol.AckMsg {
	return protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: id}
}

func (s *Server) ack(c *client, a protocol.AckMsg, code, message string) {
	a.Code, a.Message = code, message
	b, err := json.Marshal(a)
	if err != nil {
		return
	}
	// ACKs are never dropped; the writer drains out until the conn dies.
	select {
	case c.out <- b:
	case <-time.After(time.Second):
	}
}

func decodeSubscribe(msg []byte) (protocol.SubscribeMsg, error) {
	var sub protocol.SubscribeMsg
	var doc any
	if err := json.Unmarshal(msg, &doc); err != nil {
		return sub, errors.New("bad subscribe")
	}
	if err := protocol.Validate(protocol.SchemaSubscribe, doc); err != nil {
		return sub, errors.New("expected SUBSCRIBE")
	}
	_ = json.Unmarshal(msg, &sub)
	if sub.ProtocolVersion != protocol.Version {
		return sub, errors.New("bad protocol_version")
	}
	return sub, nil
}

func applySubscribe(c *client, sub protocol.SubscribeMsg) {
	c.every = sub.EveryNFrames
	if c.every < 1 {
		c.every = 1
	}
	if c.every > 600 {
		c.every = 600
	}
	c.instances = sub.Instances
	c.seen = 0
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
