package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"voxelstorm.ai/internal/protocol"
	"voxelstorm.ai/internal/sim/engine"
	"voxelstorm.ai/internal/sim/render"
	"voxelstorm.ai/internal/sim/session"
	"voxelstorm.ai/internal/sim/tuning"
)

type harness struct {
	srv  *Server
	sess *session.Session
	mock *clock.Mock
	http *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tun := tuning.Defaults()
	tun.Seed = 3
	mock := clock.NewMock()
	obs := NewServer(tun, nil)
	sess := session.New(session.Config{Tuning: tun, Clock: mock, Adapters: []render.Adapter{obs}})
	obs.Bind(sess)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sess.Run(ctx) }()
	if err := sess.Do(ctx, func(*engine.Engine) {}); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	obs.Routes(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-sess.Done()
	})
	return &harness{srv: obs, sess: sess, mock: mock, http: hs}
}

func (h *harness) dial(t *testing.T, sub protocol.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	sub.Type = protocol.TypeSubscribe
	sub.ProtocolVersion = protocol.Version
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}
	return conn
}

// readUntil reads messages until pred returns true for one of them.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(typ string, raw []byte) bool) []byte {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if pred(base.Type, msg) {
			return msg
		}
	}
	t.Fatalf("timed out waiting for message")
	return nil
}

func TestWS_SubscribeCommandAndFrames(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, protocol.SubscribeMsg{Instances: true})

	readUntil(t, conn, func(typ string, _ []byte) bool { return typ == protocol.TypeState })

	cmd := protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ID: "c1", Op: protocol.OpLoadScene, Scene: "twins"}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatal(err)
	}
	sawCount := false
	raw := readUntil(t, conn, func(typ string, raw []byte) bool {
		if typ == protocol.TypeCount {
			var c protocol.CountMsg
			_ = json.Unmarshal(raw, &c)
			sawCount = sawCount || c.Count > 0
		}
		return typ == protocol.TypeAck
	})
	var ack protocol.AckMsg
	_ = json.Unmarshal(raw, &ack)
	if !ack.Accepted || ack.AckFor != "c1" || !sawCount {
		t.Fatalf("ack %+v sawCount=%v", ack, sawCount)
	}

	interval := h.sess.Engine().Tuning().FrameInterval()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			h.mock.Add(interval)
			time.Sleep(5 * time.Millisecond)
		}
	}()
	frame := readUntil(t, conn, func(typ string, _ []byte) bool { return typ == protocol.TypeFrame })
	var fm protocol.FrameMsg
	if err := json.Unmarshal(frame, &fm); err != nil {
		t.Fatal(err)
	}
	if fm.Mode != "STABLE" || fm.Visible == 0 || len(fm.Instances) != fm.Visible {
		t.Fatalf("frame header %+v instances=%d", fm, len(fm.Instances))
	}
	var doc any
	_ = json.Unmarshal(frame, &doc)
	if err := protocol.Validate(protocol.SchemaFrame, doc); err != nil {
		t.Fatalf("frame schema: %v", err)
	}
}

func TestWS_RejectsBadCommands(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, protocol.SubscribeMsg{})

	send := func(v any) protocol.AckMsg {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatal(err)
		}
		raw := readUntil(t, conn, func(typ string, _ []byte) bool { return typ == protocol.TypeAck })
		var a protocol.AckMsg
		_ = json.Unmarshal(raw, &a)
		return a
	}

	a := send(map[string]any{"type": "CMD", "protocol_version": protocol.Version, "id": "x", "op": "FLY"})
	if a.Accepted || a.Code != protocol.ErrBadRequest {
		t.Fatalf("schema-invalid op: %+v", a)
	}
	a = send(map[string]any{"type": "CMD", "protocol_version": "0.1", "id": "y", "op": "DISMANTLE"})
	if a.Accepted || a.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("bad version: %+v", a)
	}
	a = send(protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ID: "z", Op: protocol.OpLoadScene, Scene: "dragon"})
	if a.Accepted || a.Code != protocol.ErrUnknownScene || a.AckFor != "z" {
		t.Fatalf("unknown scene: %+v", a)
	}
}

func TestWS_RequiresSubscribeFirst(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"type": "CMD", "protocol_version": protocol.Version, "op": "DISMANTLE"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("want policy violation close, got %v", err)
	}
}

func TestBootstrapAndExport(t *testing.T) {
	h := newHarness(t)
	if err := h.sess.Submit(session.Command{Op: protocol.OpLoadScene, Scene: "cat"}); err != nil {
		t.Fatal(err)
	}
	// Do runs after the queued command has been applied or concurrently
	// selected; poll until the count is visible.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n := 0
		_ = h.sess.Do(context.Background(), func(e *engine.Engine) { n = e.Count() })
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	res, err := http.Get(h.http.URL + "/v1/bootstrap")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var boot protocol.BootstrapResponse
	if err := json.NewDecoder(res.Body).Decode(&boot); err != nil {
		t.Fatal(err)
	}
	if boot.Mode != "STABLE" || boot.Count == 0 || len(boot.Scenes) != 6 || boot.Params.TickRateHz != 30 {
		t.Fatalf("bootstrap %+v", boot)
	}

	res2, err := http.Get(h.http.URL + "/v1/export?download=1")
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if !strings.Contains(res2.Header.Get("Content-Disposition"), "voxel-export.json") {
		t.Fatalf("headers %v", res2.Header)
	}
	var layout []protocol.ExportVoxel
	if err := json.NewDecoder(res2.Body).Decode(&layout); err != nil {
		t.Fatal(err)
	}
	if len(layout) != boot.Count {
		t.Fatalf("export len=%d count=%d", len(layout), boot.Count)
	}
}

func TestHandlers_RejectNonLoopback(t *testing.T) {
	s := NewServer(tuning.Defaults(), nil)
	for _, h := range []http.HandlerFunc{s.BootstrapHandler(), s.ExportHandler(), s.WSHandler()} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		rec := httptest.NewRecorder()
		h(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status=%d", rec.Code)
		}
	}
}

func TestRender_ThinsFramesPerClient(t *testing.T) {
	s := NewServer(tuning.Defaults(), nil)
	every := &client{id: "a", out: make(chan []byte, 16)}
	applySubscribe(every, protocol.SubscribeMsg{EveryNFrames: 3})
	all := &client{id: "b", out: make(chan []byte, 16)}
	applySubscribe(all, protocol.SubscribeMsg{})
	s.clients[every.id] = every
	s.clients[all.id] = all

	for i := 0; i < 6; i++ {
		s.Render(&render.Frame{Seq: uint64(i), Mode: "FLUID"})
	}
	if len(every.out) != 2 || len(all.out) != 6 {
		t.Fatalf("every=%d all=%d", len(every.out), len(all.out))
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:9000":   true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("%q: got %v", in, got)
		}
	}
}
