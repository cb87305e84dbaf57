package fcm

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// writePacket writes a MCS wire-format packet to w: tag byte + varint size + body.
// If includeVersion is true, it prepends the MCS version byte (41).
func writePacket(t *testing.T, w io.Writer, tag mcsTag, msg mcsMessage, includeVersion bool) {
	t.Helper()
	var frame []byte
	if includeVersion {
		frame = append(frame, mcsVersion)
	}
	data := msg.marshal()
	frame = append(frame, byte(tag))
	frame = protowire.AppendVarint(frame, uint64(len(data)))
	frame = append(frame, data...)
	_, err := w.Write(frame)
	require.NoError(t, err)
}

// readPacket reads one packet (without version byte) from r.
func readPacket(t *testing.T, r *bufio.Reader) (mcsTag, []byte) {
	t.Helper()
	tag, err := r.ReadByte()
	require.NoError(t, err)
	size, err := binary.ReadUvarint(r)
	require.NoError(t, err)
	data := make([]byte, size)
	_, err = io.ReadFull(r, data)
	require.NoError(t, err)
	return mcsTag(tag), data
}

// readLogin reads the version byte and the LoginRequest sent by the client.
func readLogin(t *testing.T, r *bufio.Reader) loginRequest {
	t.Helper()
	version, err := r.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(mcsVersion), version)

	tag, data := readPacket(t, r)
	require.Equal(t, tagLoginRequest, tag)

	var req loginRequest
	require.NoError(t, req.unmarshal(data))
	return req
}

// closeMsg is an empty Close stanza.
type closeMsg struct{}

func (closeMsg) marshal() []byte { return nil }

var testCreds = gcmCredentials{AndroidID: 12345, SecurityToken: 67890}

func startMCS(t *testing.T, mcs *mcsClient) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- mcs.connect(ctx)
	}()
	t.Cleanup(cancel)
	return cancel, errCh
}

func TestMCS_LoginPacket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, DefaultChromeBuild(), []string{"pid-1"}, slog.Default())
	cancel, errCh := startMCS(t, mcs)

	req := readLogin(t, bufio.NewReader(server))

	assert.Equal(t, "chrome-63.0.3234.0", req.ID)
	assert.Equal(t, "mcs.android.com", req.Domain)
	assert.Equal(t, "12345", req.User)
	assert.Equal(t, "12345", req.Resource)
	assert.Equal(t, "67890", req.AuthToken)
	assert.Equal(t, "android-3039", req.DeviceID) // 12345 decimal = 0x3039
	assert.True(t, req.UseRmq2)
	assert.Equal(t, int64(1), req.LastRmqID)
	assert.Equal(t, int32(authServiceAndroidID), req.AuthService)
	assert.Equal(t, map[string]string{"new_vc": "1"}, req.Settings)
	assert.Equal(t, []string{"pid-1"}, req.ReceivedPersistentID)

	cancel()
	assert.NoError(t, <-errCh)
}

func TestMCS_LoginResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	connected := make(chan struct{})
	mcs := newMCSClient(client, testCreds, DefaultChromeBuild(), []string{"pid-1"}, slog.Default())
	mcs.onConnected = func() { close(connected) }
	startMCS(t, mcs)

	r := bufio.NewReader(server)
	readLogin(t, r)
	writePacket(t, server, tagLoginResponse, &loginResponse{ID: "server-id"}, true)

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("onConnected not called within timeout")
	}
}

func TestMCS_LoginRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, DefaultChromeBuild(), nil, slog.Default())
	_, errCh := startMCS(t, mcs)

	readLogin(t, bufio.NewReader(server))
	writePacket(t, server, tagLoginResponse, &loginResponse{ID: "s", ErrorCode: 401, ErrorMessage: "bad auth"}, true)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "login rejected: code=401 message=bad auth")
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return")
	}
}

func TestMCS_HeartbeatPingResponse(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, DefaultChromeBuild(), nil, slog.Default())
	startMCS(t, mcs)

	r := bufio.NewReader(server)
	readLogin(t, r)
	writePacket(t, server, tagLoginResponse, &loginResponse{ID: "s"}, true)
	writePacket(t, server, tagHeartbeatPing, &heartbeat{StreamID: 1}, false)

	tag, _ := readPacket(t, r)
	assert.Equal(t, tagHeartbeatAck, tag)
}

func TestMCS_HeartbeatLoopSendsPing(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, DefaultChromeBuild(), nil, slog.Default())
	mcs.heartbeatInterval = 20 * time.Millisecond
	startMCS(t, mcs)

	r := bufio.NewReader(server)
	readLogin(t, r)
	writePacket(t, server, tagLoginResponse, &loginResponse{ID: "s"}, true)

	tag, _ := readPacket(t, r)
	assert.Equal(t, tagHeartbeatPing, tag)
}

func TestMCS_DataMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	received := make(chan dataMessage, 1)
	mcs := newMCSClient(client, testCreds, DefaultChromeBuild(), nil, slog.Default())
	mcs.onDataMessage = func(msg dataMessage) { received <- msg }
	startMCS(t, mcs)

	readLogin(t, bufio.NewReader(server))
	writePacket(t, server, tagLoginResponse, &loginResponse{ID: "s"}, true)
	writePacket(t, server, tagDataMessageStanza, &dataMessage{
		From:         "1234567890",
		Category:     "org.chromium.linux",
		PersistentID: "0:1234%abcd",
		AppData: []appData{
			{Key: "title", Value: "Hello"},
			{Key: "body", Value: "World"},
		},
	}, false)

	select {
	case msg := <-received:
		assert.Equal(t, "0:1234%abcd", msg.PersistentID)
		assert.Equal(t, "1234567890", msg.From)
		assert.Equal(t, "org.chromium.linux", msg.Category)
		assert.Equal(t, []appData{{Key: "title", Value: "Hello"}, {Key: "body", Value: "World"}}, msg.AppData)
	case <-time.After(2 * time.Second):
		t.Fatal("data message not delivered")
	}
}

func TestMCS_StreamError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	disconnected := make(chan string, 1)
	mcs := newMCSClient(client, testCreds, DefaultChromeBuild(), nil, slog.Default())
	mcs.onDisconnected = func(reason string) { disconnected <- reason }
	_, errCh := startMCS(t, mcs)

	readLogin(t, bufio.NewReader(server))
	writePacket(t, server, tagLoginResponse, &loginResponse{ID: "s"}, true)
	writePacket(t, server, tagStreamErrorStanza, &streamError{Type: "conflict", Text: "replaced"}, false)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stream error: type=conflict text=replaced")
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return")
	}
	assert.Contains(t, <-disconnected, "stream error")
}

func TestMCS_ServerClose(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	mcs := newMCSClient(client, testCreds, DefaultChromeBuild(), nil, slog.Default())
	_, errCh := startMCS(t, mcs)

	readLogin(t, bufio.NewReader(server))
	writePacket(t, server, tagLoginResponse, &loginResponse{ID: "s"}, true)
	writePacket(t, server, tagClose, closeMsg{}, false)

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server sent close")
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return")
	}
}

func TestMCS_ContextCancelIsClean(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	disconnected := make(chan string, 1)
	mcs := newMCSClient(client, testCreds, DefaultChromeBuild(), nil, slog.Default())
	mcs.onDisconnected = func(reason string) { disconnected <- reason }
	cancel, errCh := startMCS(t, mcs)

	readLogin(t, bufio.NewReader(server))
	writePacket(t, server, tagLoginResponse, &loginResponse{ID: "s"}, true)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return")
	}
	assert.Equal(t, "context cancelled", <-disconnected)
}
