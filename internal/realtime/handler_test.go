package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// queryAuth trusts ?user= so tests can pick identities.
type queryAuth struct{}

func (queryAuth) Subject(r *http.Request) (string, error) {
	u := r.URL.Query().Get("user")
	if u == "" {
		return "", errors.New("no user")
	}
	return u, nil
}

func newTestServer(t *testing.T, origins ...string) (*Engine, *httptest.Server) {
	t.Helper()
	e := newTestEngine()
	h := NewHandler(e, queryAuth{}, HandlerOptions{AllowedOrigins: origins}, zap.NewNop())
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		e.Close()
		srv.Close()
	})
	return e, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// expect reads frames until one named event arrives.
func expect(t *testing.T, ws *websocket.Conn, event string) Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteJSON(Envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func presenceOf(t *testing.T, env Envelope) []Identity {
	t.Helper()
	var ids []Identity
	if err := json.Unmarshal(env.Data, &ids); err != nil {
		t.Fatal(err)
	}
	return ids
}

func TestHandlerRejectsUnauthenticated(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	_, srv := newTestServer(t, "http://localhost:5173")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=alice"

	hdr := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, hdr); err == nil {
		t.Fatal("foreign origin accepted")
	}

	hdr = http.Header{"Origin": []string{"http://LOCALHOST:5173"}}
	ws, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	ws.Close()
}

func TestHandlerPresenceAndRooms(t *testing.T) {
	e, srv := newTestServer(t)

	alice := dial(t, srv, "alice")
	if got := presenceOf(t, expect(t, alice, EventPresenceChanged)); !sameIdentities(got, "alice") {
		t.Fatalf("alice first saw %v", got)
	}
	bob := dial(t, srv, "bob")
	if got := presenceOf(t, expect(t, alice, EventPresenceChanged)); !sameIdentities(got, "alice", "bob") {
		t.Fatalf("alice saw %v", got)
	}
	if got := presenceOf(t, expect(t, bob, EventPresenceChanged)); !sameIdentities(got, "alice", "bob") {
		t.Fatalf("bob saw %v", got)
	}

	send(t, alice, EventJoinRoom, "g1")
	send(t, bob, EventJoinRoom, map[string]string{"roomId": "g1"})
	waitFor(t, "both in g1", func() bool { return len(e.MembersOf("g1")) == 2 })

	if err := e.NotifyGroupMessage("g1", map[string]string{"text": "hi"}, "alice"); err != nil {
		t.Fatal(err)
	}
	env := expect(t, bob, EventNewGroupMessage)
	if !strings.Contains(string(env.Data), `"groupId":"g1"`) {
		t.Fatalf("payload = %s", env.Data)
	}

	send(t, bob, EventSendGroupMessage, map[string]any{"groupId": "g1", "message": map[string]string{"text": "yo"}})
	env = expect(t, alice, EventReceiveGroupMessage)
	if !strings.Contains(string(env.Data), `"text":"yo"`) {
		t.Fatalf("relay payload = %s", env.Data)
	}

	send(t, bob, EventLeaveRoom, "g1")
	waitFor(t, "bob left g1", func() bool { return len(e.MembersOf("g1")) == 1 })

	bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	bob.Close()
	if got := presenceOf(t, expect(t, alice, EventPresenceChanged)); !sameIdentities(got, "alice") {
		t.Fatalf("alice saw %v after bob left", got)
	}
	waitFor(t, "bob offline", func() bool { return !e.IsOnline("bob") })
}

func TestHandlerSupersedeClosesOldSocket(t *testing.T) {
	e, srv := newTestServer(t)

	first := dial(t, srv, "alice")
	expect(t, first, EventPresenceChanged)
	second := dial(t, srv, "alice")
	expect(t, second, EventPresenceChanged)

	first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// the old socket's disconnect must not take alice offline
	time.Sleep(50 * time.Millisecond)
	if !e.IsOnline("alice") {
		t.Fatal("alice offline after superseded socket closed")
	}
	if err := e.NotifyDirectMessage("alice", "ping"); err != nil {
		t.Fatal(err)
	}
	expect(t, second, EventNewMessage)
}

func TestHandlerIgnoresMalformedFrames(t *testing.T) {
	e, srv := newTestServer(t)
	alice := dial(t, srv, "alice")
	expect(t, alice, EventPresenceChanged)

	alice.WriteMessage(websocket.TextMessage, []byte("not json"))
	send(t, alice, "somethingElse", 1)
	send(t, alice, EventJoinRoom, 42)
	send(t, alice, EventJoinRoom, "g1")

	waitFor(t, "alice in g1", func() bool { return len(e.MembersOf("g1")) == 1 })
}

func TestHandlerFramesArriveInCallOrder(t *testing.T) {
	e, srv := newTestServer(t)
	bob := dial(t, srv, "bob")
	expect(t, bob, EventPresenceChanged)

	const rounds = 10
	for i := 0; i < rounds; i++ {
		notifySequence(t, e, "bob", i)
	}

	bob.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < rounds*len(sequenceEvents); i++ {
		var env Envelope
		if err := bob.ReadJSON(&env); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if want := sequenceEvents[i%len(sequenceEvents)]; env.Event != want {
			t.Fatalf("frame %d = %s, want %s", i, env.Event, want)
		}
		if env.Event == EventRemovedFromGroup {
			continue
		}
		var payload map[string]int
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			t.Fatal(err)
		}
		if payload["round"] != i/len(sequenceEvents) {
			t.Fatalf("frame %d from round %d", i, payload["round"])
		}
	}
}
