package session

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shiv248/quillsync/internal/protocol"
	"github.com/shiv248/quillsync/pkg/document"
)

// fakeUsers is an in-memory stand-in for pkg/userstore, satisfying Users.
type fakeUsers struct {
	byName map[string]document.UserID
	byPass map[string]string
	next   document.UserID
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byName: make(map[string]document.UserID), byPass: make(map[string]string), next: 1}
}

func (f *fakeUsers) Register(username, password string) (document.UserID, error) {
	if _, exists := f.byName[username]; exists {
		return 0, fmt.Errorf("user exists")
	}
	id := f.next
	f.next++
	f.byName[username] = id
	f.byPass[username] = password
	return id, nil
}

func (f *fakeUsers) Verify(username, password string) (document.UserID, error) {
	id, ok := f.byName[username]
	if !ok || f.byPass[username] != password {
		return 0, fmt.Errorf("bad credentials")
	}
	return id, nil
}

func (f *fakeUsers) Username(id document.UserID) (string, bool) {
	for name, uid := range f.byName {
		if uid == id {
			return name, true
		}
	}
	return "", false
}

// fakeDocs is an in-memory stand-in for pkg/docstore, satisfying Docs.
type fakeDocs struct {
	blobs map[string][]byte
	names map[string]string
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{blobs: make(map[string][]byte), names: make(map[string]string)}
}

func (f *fakeDocs) Load(fileID string) ([]byte, string, bool, error) {
	b, ok := f.blobs[fileID]
	if !ok {
		return nil, "", false, nil
	}
	return b, f.names[fileID], true, nil
}

func (f *fakeDocs) Save(fileID, name string, content []byte) error {
	f.blobs[fileID] = content
	f.names[fileID] = name
	return nil
}

func (f *fakeDocs) Delete(fileID string) error {
	delete(f.blobs, fileID)
	delete(f.names, fileID)
	return nil
}

// testClient wraps one end of an in-process pipe to a Session, providing
// line send/receive helpers mirroring the teacher's readServerMsg style.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newTestRouter(t *testing.T) (*Router, *fakeUsers, *fakeDocs) {
	t.Helper()
	users := newFakeUsers()
	docs := newFakeDocs()
	r := New(Options{
		Users:          users,
		Docs:           docs,
		DocumentConfig: document.DefaultConfig(),
		Limits:         protocol.DefaultLimits(),
		MaxConnections: 100,
	})
	return r, users, docs
}

func connectClient(t *testing.T, r *Router) *testClient {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	sess := newSession(serverConn, r, 0, protocol.DefaultLimits(), "temp-"+t.Name())
	go sess.Serve()
	t.Cleanup(func() { clientConn.Close() })
	return &testClient{t: t, conn: clientConn, r: bufio.NewReader(clientConn)}
}

func (c *testClient) sendFrame(f protocol.Frame) {
	c.t.Helper()
	line, err := protocol.Encode(f)
	require.NoError(c.t, err)
	_, err = c.conn.Write([]byte(line))
	require.NoError(c.t, err)
}

func (c *testClient) readFrame() protocol.Frame {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	f, err := protocol.Decode(line[:len(line)-1])
	require.NoError(c.t, err)
	return f
}

func loginFrame(username, password string) protocol.Frame {
	return protocol.Frame{Kind: protocol.Login, UserID: protocol.NullToken, FileID: protocol.NullToken,
		Data: map[string]string{"username": username, "password": password}, Timestamp: 1}
}

func TestRegisterSucceeds(t *testing.T) {
	r, _, _ := newTestRouter(t)
	c := connectClient(t, r)

	c.sendFrame(protocol.Frame{Kind: protocol.Register, UserID: protocol.NullToken, FileID: protocol.NullToken,
		Data: map[string]string{"username": "alice", "password": "hunter2"}, Timestamp: 1})
	ack := c.readFrame()
	require.Equal(t, protocol.RegisterAck, ack.Kind)
	require.Equal(t, protocol.StatusSuccess, ack.Data["status"])
}

func TestLoginWithBadCredentialsFails(t *testing.T) {
	r, users, _ := newTestRouter(t)
	_, err := users.Register("bob", "correct-password")
	require.NoError(t, err)

	c := connectClient(t, r)
	c.sendFrame(loginFrame("bob", "wrong-password"))

	ack := c.readFrame()
	require.Equal(t, protocol.LoginAck, ack.Kind)
	require.Equal(t, protocol.StatusFail, ack.Data["status"])
}

// TestEditBeforeAuthenticationIsRejected covers spec.md §8 invariant 7: a
// session in Connecting that sends any edit receives an error and no
// document state changes.
func TestEditBeforeAuthenticationIsRejected(t *testing.T) {
	r, _, _ := newTestRouter(t)
	c := connectClient(t, r)

	c.sendFrame(protocol.Frame{Kind: protocol.TextInsert, UserID: protocol.NullToken, FileID: "some-file",
		Data: map[string]string{"position": "0", "text": "hi"}, Timestamp: 1})

	reply := c.readFrame()
	require.Equal(t, protocol.Error, reply.Kind)
	require.Empty(t, r.fileList())
}

// TestTextUpdateBroadcastExcludesOriginator covers spec.md §8 invariant 6.
func TestTextUpdateBroadcastExcludesOriginator(t *testing.T) {
	r, users, _ := newTestRouter(t)
	_, err := users.Register("alice", "pw")
	require.NoError(t, err)
	_, err = users.Register("bob", "pw")
	require.NoError(t, err)

	alice := connectClient(t, r)
	alice.sendFrame(loginFrame("alice", "pw"))
	require.Equal(t, protocol.StatusSuccess, alice.readFrame().Data["status"])

	bob := connectClient(t, r)
	bob.sendFrame(loginFrame("bob", "pw"))
	require.Equal(t, protocol.StatusSuccess, bob.readFrame().Data["status"])

	alice.sendFrame(protocol.Frame{Kind: protocol.FileCreate, UserID: protocol.NullToken, FileID: protocol.NullToken,
		Data: map[string]string{"name": "doc1"}, Timestamp: 1})
	created := alice.readFrame()
	require.Equal(t, protocol.FileContent, created.Kind)
	fileID := created.FileID

	bob.sendFrame(protocol.Frame{Kind: protocol.FileOpen, UserID: protocol.NullToken, FileID: fileID,
		Data: nil, Timestamp: 1})
	opened := bob.readFrame()
	require.Equal(t, protocol.FileContent, opened.Kind)

	alice.sendFrame(protocol.Frame{Kind: protocol.TextInsert, UserID: protocol.NullToken, FileID: fileID,
		Data: map[string]string{"position": "0", "text": "hi"}, Timestamp: 1})

	update := bob.readFrame()
	require.Equal(t, protocol.TextUpdate, update.Kind)
	require.Equal(t, "insert", update.Data["operation"])
	require.Equal(t, "hi", update.Data["text"])

	_ = alice.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = alice.r.ReadString('\n')
	require.Error(t, err, "originator must not receive its own TEXT_UPDATE")
}

func TestFileDeleteRejectedWithMultipleParticipants(t *testing.T) {
	r, users, _ := newTestRouter(t)
	_, err := users.Register("alice", "pw")
	require.NoError(t, err)
	_, err = users.Register("bob", "pw")
	require.NoError(t, err)

	alice := connectClient(t, r)
	alice.sendFrame(loginFrame("alice", "pw"))
	require.Equal(t, protocol.StatusSuccess, alice.readFrame().Data["status"])

	bob := connectClient(t, r)
	bob.sendFrame(loginFrame("bob", "pw"))
	require.Equal(t, protocol.StatusSuccess, bob.readFrame().Data["status"])

	alice.sendFrame(protocol.Frame{Kind: protocol.FileCreate, UserID: protocol.NullToken, FileID: protocol.NullToken,
		Data: map[string]string{"name": "doc1"}, Timestamp: 1})
	fileID := alice.readFrame().FileID

	bob.sendFrame(protocol.Frame{Kind: protocol.FileOpen, UserID: protocol.NullToken, FileID: fileID, Timestamp: 1})
	bob.readFrame()

	alice.sendFrame(protocol.Frame{Kind: protocol.FileDelete, UserID: protocol.NullToken, FileID: fileID, Timestamp: 1})
	ack := alice.readFrame()
	require.Equal(t, protocol.FileDeleteAck, ack.Kind)
	require.Equal(t, protocol.StatusFail, ack.Data["status"])
}
