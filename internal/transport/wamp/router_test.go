package wamp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hay-kot/stimulus/internal/core/bus"
)

const (
	testSessionID   = 4242
	testPublication = 555
	forbiddenRealm  = "forbidden"
	deniedTopic     = "com.test.denied"
)

// router is a single-realm broker speaking just enough WAMP for the
// client under test.
type router struct {
	mu      sync.Mutex
	ws      *websocket.Conn
	subs    map[string]uint64
	nextSub uint64
	realms  []string
	goodbye bool
}

func newRouter(t *testing.T) (*router, bus.Endpoint) {
	t.Helper()
	r := &router{subs: make(map[string]uint64)}
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return r, bus.Endpoint{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Realm: "realm1"}
}

func (r *router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := websocket.Accept(w, req, &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}})
	if err != nil {
		return
	}
	defer ws.CloseNow() //nolint:errcheck

	r.mu.Lock()
	r.ws = ws
	r.mu.Unlock()

	ctx := req.Context()
	for {
		var raw []json.RawMessage
		if err := wsjson.Read(ctx, ws, &raw); err != nil {
			return
		}
		f, err := decodeFrame(raw)
		if err != nil {
			return
		}

		switch f.code {
		case codeHello:
			realm, _ := f.str(0)
			r.mu.Lock()
			r.realms = append(r.realms, realm)
			r.mu.Unlock()

			if realm == forbiddenRealm {
				_ = wsjson.Write(ctx, ws, []any{codeAbort, map[string]any{}, "wamp.error.no_such_realm"})
				return
			}
			_ = wsjson.Write(ctx, ws, []any{codeWelcome, testSessionID, map[string]any{}})

		case codeSubscribe:
			id, _ := f.id(0)
			topic, _ := f.str(2)
			_ = wsjson.Write(ctx, ws, []any{codeSubscribed, id, r.subscribe(topic)})

		case codePublish:
			id, _ := f.id(0)
			topic, _ := f.str(2)
			var args []any
			_ = f.optional(3, &args)

			if topic == deniedTopic {
				_ = wsjson.Write(ctx, ws, []any{codeError, codePublish, id, map[string]any{}, "wamp.error.not_authorized"})
				continue
			}
			_ = wsjson.Write(ctx, ws, []any{codePublished, id, testPublication})

			if sub, ok := r.subscription(topic); ok {
				_ = wsjson.Write(ctx, ws, []any{codeEvent, sub, testPublication, map[string]any{}, args})
			}

		case codeGoodbye:
			r.mu.Lock()
			r.goodbye = true
			r.mu.Unlock()
			_ = wsjson.Write(ctx, ws, goodbyeMsg(reasonGoodbyeAndOut))
			ws.Close(websocket.StatusNormalClosure, "") //nolint:errcheck
			return
		}
	}
}

func (r *router) subscribe(topic string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.subs[topic]; ok {
		return id
	}
	r.nextSub++
	r.subs[topic] = r.nextSub
	return r.nextSub
}

func (r *router) subscription(topic string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.subs[topic]
	return id, ok
}

// send writes msg to the connected client from outside the serve loop.
func (r *router) send(t *testing.T, msg []any) {
	t.Helper()
	r.mu.Lock()
	ws := r.ws
	r.mu.Unlock()

	if err := wsjson.Write(context.Background(), ws, msg); err != nil {
		t.Fatalf("router send: %v", err)
	}
}

func (r *router) joinedRealms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.realms...)
}

func (r *router) saidGoodbye() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.goodbye
}
