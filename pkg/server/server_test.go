package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coedit-dev/coedit/pkg/patch"
	"github.com/coedit-dev/coedit/pkg/protocol"
)

const testTimeout = 5 * time.Second

// newTestServer starts a server over httptest with seed as the initial
// document content and returns it with its websocket URL.
func newTestServer(t *testing.T, seed string) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if seed != "" {
		if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s, err := New(&Config{DocumentPath: path})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// wsPeer is a raw protocol-level test client.
type wsPeer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialPeer(t *testing.T, url string) *wsPeer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsPeer{t: t, conn: conn}
}

// connectPeer dials and completes the handshake, returning the peer and the
// server's reply.
func connectPeer(t *testing.T, url, username string) (*wsPeer, *protocol.Message) {
	t.Helper()
	p := dialPeer(t, url)
	p.send(protocol.Connect(username))
	reply := p.recv()
	if reply.Code != protocol.ClientConnection {
		t.Fatalf("handshake reply code = %q, want %q", reply.Code, protocol.ClientConnection)
	}
	return p, reply
}

func (p *wsPeer) send(msg *protocol.Message) {
	p.t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func (p *wsPeer) recv() *protocol.Message {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		p.t.Fatalf("read: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		p.t.Fatalf("decode: %v", err)
	}
	return msg
}

// expectSilence asserts no message arrives within the window. The read
// deadline poisons the connection, so this must be the peer's last use.
func (p *wsPeer) expectSilence(window time.Duration) {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(window))
	_, data, err := p.conn.ReadMessage()
	if err == nil {
		p.t.Fatalf("expected silence, got message %s", data)
	}
	if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
		p.t.Fatalf("expected read timeout, got %v", err)
	}
}

func TestFreshConnectHandshake(t *testing.T) {
	_, url := newTestServer(t, "")

	_, reply := connectPeer(t, url, "alice")
	if reply.Data != "" {
		t.Errorf("reply.Data = %q, want empty document", reply.Data)
	}
	if reply.ClientUsername != "alice" {
		t.Errorf("reply.ClientUsername = %q, want %q", reply.ClientUsername, "alice")
	}
	color, ok := reply.Users["alice"]
	if !ok {
		t.Fatalf("reply.Users = %v, want entry for alice", reply.Users)
	}
	inPalette := false
	for _, p := range DefaultPalette {
		if p == color {
			inPalette = true
			break
		}
	}
	if !inPalette {
		t.Errorf("assigned color %q not in the default palette", color)
	}
}

func TestConnectReplyIncludesDocumentAndUsers(t *testing.T) {
	_, url := newTestServer(t, "seeded content")

	_, replyA := connectPeer(t, url, "alice")
	if replyA.Data != "seeded content" {
		t.Errorf("alice reply.Data = %q, want seeded content", replyA.Data)
	}

	_, replyB := connectPeer(t, url, "bob")
	if len(replyB.Users) != 2 {
		t.Errorf("bob reply.Users = %v, want both users", replyB.Users)
	}
}

func TestDuplicateUsernameGetsSuffix(t *testing.T) {
	_, url := newTestServer(t, "")

	alice, _ := connectPeer(t, url, "alice")
	_, reply := connectPeer(t, url, "alice")

	assigned := reply.ClientUsername
	if assigned == "alice" {
		t.Fatal("second alice kept the colliding username")
	}
	if !strings.HasPrefix(assigned, "alice") || len(assigned) != len("alice")+3 {
		t.Errorf("assigned = %q, want alice plus 3-digit suffix", assigned)
	}

	// The first client hears the newcomer under the disambiguated name.
	joined := alice.recv()
	if joined.Code != protocol.NewClient || joined.Username != assigned {
		t.Errorf("broadcast = %+v, want new_client for %q", joined, assigned)
	}
}

func TestEditorChangeBroadcastsPatchToOthers(t *testing.T) {
	s, url := newTestServer(t, "")

	alice, _ := connectPeer(t, url, "alice")
	bob, _ := connectPeer(t, url, "bob")
	alice.recv() // new_client bob

	alice.send(protocol.Change("hello world"))

	got := bob.recv()
	if got.Code != protocol.NewPatch {
		t.Fatalf("bob received %q, want %q", got.Code, protocol.NewPatch)
	}
	codec := patch.NewCodec()
	set, err := codec.FromText(got.Data)
	if err != nil {
		t.Fatalf("patch parse: %v", err)
	}
	applied, _ := codec.Apply(set, "")
	if applied != "hello world" {
		t.Errorf("applying broadcast patch = %q, want %q", applied, "hello world")
	}

	// The broadcast happens only after the document is committed.
	if got := s.Document().Read(); got != "hello world" {
		t.Errorf("server document = %q, want %q", got, "hello world")
	}

	// Broadcast exclusion: the originator must not receive its own patch.
	alice.expectSilence(300 * time.Millisecond)
}

// Reproduces the protocol's conflict policy: the server always adopts the
// last full writer's buffer (its patch applies cleanly against the text it
// was diffed from), and a client holding unacknowledged local edits can
// diverge when it merges the in-flight patch into its own buffer.
func TestConcurrentEditLastFullWriterWins(t *testing.T) {
	s, url := newTestServer(t, "hello")

	alice, _ := connectPeer(t, url, "alice")
	bob, _ := connectPeer(t, url, "bob")
	alice.recv() // new_client bob

	// Alice edits first; the server moves to her buffer.
	alice.send(protocol.Change("hello world"))
	patchA := bob.recv()
	if patchA.Code != protocol.NewPatch {
		t.Fatalf("bob received %q, want new_patch", patchA.Code)
	}

	// Bob, still holding "hello", sends his own full buffer.
	bob.send(protocol.Change("hello!"))
	patchB := alice.recv()
	if patchB.Code != protocol.NewPatch {
		t.Fatalf("alice received %q, want new_patch", patchB.Code)
	}

	if got := s.Document().Read(); got != "hello!" {
		t.Errorf("server document = %q, want last writer's %q", got, "hello!")
	}

	codec := patch.NewCodec()

	// Alice's replica converges with the server.
	setB, err := codec.FromText(patchB.Data)
	if err != nil {
		t.Fatal(err)
	}
	aliceText, _ := codec.Apply(setB, "hello world")
	if aliceText != "hello!" {
		t.Errorf("alice after patch = %q, want %q", aliceText, "hello!")
	}

	// Bob merges Alice's in-flight patch into his already-diverged buffer:
	// both insertions land, but his replica no longer matches the server.
	// That divergence is the protocol's documented weakness.
	setA, err := codec.FromText(patchA.Data)
	if err != nil {
		t.Fatal(err)
	}
	bobText, _ := codec.Apply(setA, "hello!")
	if !strings.Contains(bobText, "world") || !strings.Contains(bobText, "!") {
		t.Errorf("bob after merge = %q, want both edits present", bobText)
	}
	if bobText == s.Document().Read() {
		t.Log("replicas happened to converge; merge contexts did not overlap")
	}
}

func TestEmptyEditorClearsAndBroadcasts(t *testing.T) {
	s, url := newTestServer(t, "content to erase")

	alice, _ := connectPeer(t, url, "alice")
	bob, _ := connectPeer(t, url, "bob")
	alice.recv() // new_client bob

	for i := 0; i < 2; i++ { // clearing twice is still empty
		alice.send(protocol.Emptied())
		got := bob.recv()
		if got.Code != protocol.EmptyEditor {
			t.Fatalf("bob received %q, want %q", got.Code, protocol.EmptyEditor)
		}
		if got := s.Document().Read(); got != "" {
			t.Errorf("document after clear #%d = %q, want empty", i+1, got)
		}
	}
}

func TestExplicitDisconnectPropagatesOnce(t *testing.T) {
	_, url := newTestServer(t, "")

	alice, _ := connectPeer(t, url, "alice")
	bob, _ := connectPeer(t, url, "bob")
	alice.recv() // new_client bob

	alice.send(protocol.Disconnected("alice"))
	alice.conn.Close()

	gone := bob.recv()
	if gone.Code != protocol.ClientDisconnect || gone.Username != "alice" {
		t.Fatalf("bob received %+v, want client_disconnect for alice", gone)
	}

	// The username is free again, and the next thing bob hears is the new
	// client joining, not a second disconnect.
	_, reply := connectPeer(t, url, "alice")
	if reply.ClientUsername != "alice" {
		t.Errorf("reconnect assigned %q, want released %q", reply.ClientUsername, "alice")
	}
	next := bob.recv()
	if next.Code != protocol.NewClient || next.Username != "alice" {
		t.Errorf("bob received %+v, want new_client for alice", next)
	}
}

func TestAbruptCloseTearsDownSession(t *testing.T) {
	_, url := newTestServer(t, "")

	alice, _ := connectPeer(t, url, "alice")
	bob, _ := connectPeer(t, url, "bob")
	alice.recv() // new_client bob

	alice.conn.Close()

	gone := bob.recv()
	if gone.Code != protocol.ClientDisconnect || gone.Username != "alice" {
		t.Errorf("bob received %+v, want client_disconnect for alice", gone)
	}
}

func TestMessagesBeforeHandshakeAreIgnored(t *testing.T) {
	s, url := newTestServer(t, "untouched")

	p := dialPeer(t, url)
	p.send(protocol.Change("attacker text"))
	p.send(protocol.Emptied())

	// The connection is still open and the handshake still works.
	p.send(protocol.Connect("late"))
	reply := p.recv()
	if reply.Code != protocol.ClientConnection || reply.Data != "untouched" {
		t.Fatalf("handshake after protocol errors = %+v", reply)
	}
	if got := s.Document().Read(); got != "untouched" {
		t.Errorf("document = %q, want untouched", got)
	}
}

func TestMalformedEnvelopesAreIgnored(t *testing.T) {
	_, url := newTestServer(t, "")

	p := dialPeer(t, url)
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
		t.Fatal(err)
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte(`{"code":"reboot"}`)); err != nil {
		t.Fatal(err)
	}

	p.send(protocol.Connect("alice"))
	reply := p.recv()
	if reply.ClientUsername != "alice" {
		t.Errorf("handshake after garbage = %+v", reply)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	s, err := New(&Config{DocumentPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp.StatusCode)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	s, url := newTestServer(t, "")
	p, _ := connectPeer(t, url, "alice")

	s.Close()

	p.conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, _, err := p.conn.ReadMessage(); err == nil {
		t.Error("read after server close succeeded, want error")
	}
}

func TestNewRequiresDocumentPath(t *testing.T) {
	if _, err := New(&Config{}); err == nil {
		t.Fatal("New() without DocumentPath succeeded, want error")
	}
}
