package fcm

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

const mcsVersion = 41

// maxPacketSize bounds a single MCS packet body.
const maxPacketSize = 4 << 20

// mcsTag identifies MCS protocol message types.
type mcsTag uint8

const (
	tagHeartbeatPing     mcsTag = 0
	tagHeartbeatAck      mcsTag = 1
	tagLoginRequest      mcsTag = 2
	tagLoginResponse     mcsTag = 3
	tagClose             mcsTag = 4
	tagIqStanza          mcsTag = 7
	tagDataMessageStanza mcsTag = 8
	tagStreamErrorStanza mcsTag = 10
)

type mcsMessage interface {
	marshal() []byte
}

// mcsClient is a lightweight MCS (Mobile Connection Server) protocol client
// logging in with Chrome-style GCM device credentials.
type mcsClient struct {
	conn          io.ReadWriteCloser
	r             *bufio.Reader
	creds         gcmCredentials
	build         ChromeBuild
	persistentIDs []string
	logger        *slog.Logger

	heartbeatInterval time.Duration

	onDataMessage  func(msg dataMessage)
	onConnected    func()
	onDisconnected func(reason string)

	writeMu sync.Mutex
}

// newMCSClient creates a new MCS client bound to the given connection.
func newMCSClient(conn io.ReadWriteCloser, creds gcmCredentials, build ChromeBuild, persistentIDs []string, logger *slog.Logger) *mcsClient {
	return &mcsClient{
		conn:              conn,
		r:                 bufio.NewReader(conn),
		creds:             creds,
		build:             build,
		persistentIDs:     persistentIDs,
		logger:            logger,
		heartbeatInterval: 5 * time.Minute,
	}
}

// connect performs the MCS login handshake and enters the read loop.
// It blocks until ctx is cancelled, the server sends a Close, or an error occurs.
// conn is closed on return.
func (m *mcsClient) connect(ctx context.Context) error {
	defer m.conn.Close()

	// Close conn when context is cancelled so blocking reads/writes unblock.
	connClosed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.conn.Close()
		case <-connClosed:
		}
	}()
	defer close(connClosed)

	if err := m.sendLogin(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("mcs: send login: %w", err)
	}

	version, err := m.r.ReadByte()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("mcs: read version: %w", err)
	}
	if version < mcsVersion {
		return fmt.Errorf("mcs: unsupported server version %d", version)
	}

	heartbeatCtx, heartbeatCancel := context.WithCancel(ctx)
	defer heartbeatCancel()
	go m.heartbeatLoop(heartbeatCtx)

	err = m.readLoop()
	if ctx.Err() != nil {
		if m.onDisconnected != nil {
			m.onDisconnected("context cancelled")
		}
		return nil
	}
	if m.onDisconnected != nil {
		reason := "read loop ended"
		if err != nil {
			reason = err.Error()
		}
		m.onDisconnected(reason)
	}
	return err
}

func (m *mcsClient) sendLogin() error {
	id := strconv.FormatUint(m.creds.AndroidID, 10)
	req := &loginRequest{
		ID:                   "chrome-" + m.build.ChromeVersion,
		Domain:               "mcs.android.com",
		User:                 id,
		Resource:             id,
		AuthToken:            strconv.FormatUint(m.creds.SecurityToken, 10),
		DeviceID:             fmt.Sprintf("android-%x", m.creds.AndroidID),
		LastRmqID:            1,
		Settings:             map[string]string{"new_vc": "1"},
		ReceivedPersistentID: m.persistentIDs,
		AdaptiveHeartbeat:    false,
		UseRmq2:              true,
		AuthService:          authServiceAndroidID,
		NetworkType:          1,
	}
	return m.sendPacket(tagLoginRequest, req, true)
}

// sendPacket frames msg as [version] tag varint(size) body and writes it in
// one call.
func (m *mcsClient) sendPacket(tag mcsTag, msg mcsMessage, includeVersion bool) error {
	data := msg.marshal()

	frame := make([]byte, 0, len(data)+binary.MaxVarintLen64+2)
	if includeVersion {
		frame = append(frame, mcsVersion)
	}
	frame = append(frame, byte(tag))
	frame = protowire.AppendVarint(frame, uint64(len(data)))
	frame = append(frame, data...)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_, err := m.conn.Write(frame)
	return err
}

func (m *mcsClient) readLoop() error {
	for {
		tag, err := m.r.ReadByte()
		if err != nil {
			return fmt.Errorf("mcs: read tag: %w", err)
		}

		size, err := binary.ReadUvarint(m.r)
		if err != nil {
			return fmt.Errorf("mcs: read size: %w", err)
		}
		if size > maxPacketSize {
			return fmt.Errorf("mcs: packet too large: %d bytes", size)
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(m.r, data); err != nil {
			return fmt.Errorf("mcs: read body: %w", err)
		}

		if err := m.handlePacket(mcsTag(tag), data); err != nil {
			return err
		}
	}
}

func (m *mcsClient) handlePacket(tag mcsTag, data []byte) error {
	switch tag {
	case tagLoginResponse:
		var resp loginResponse
		if err := resp.unmarshal(data); err != nil {
			return fmt.Errorf("mcs: %w", unmarshalError("LoginResponse", err))
		}
		if resp.ErrorCode != 0 {
			return fmt.Errorf("mcs: login rejected: code=%d message=%s", resp.ErrorCode, resp.ErrorMessage)
		}
		m.logger.Debug("MCS login response", "id", resp.ID)
		// The server has acknowledged everything sent with the login.
		m.persistentIDs = nil
		if m.onConnected != nil {
			m.onConnected()
		}

	case tagHeartbeatPing:
		var ping heartbeat
		if err := ping.unmarshal(data); err != nil {
			m.logger.Warn("MCS: failed to unmarshal HeartbeatPing", "error", err)
			return nil
		}
		m.logger.Debug("MCS heartbeat ping received")
		if err := m.sendPacket(tagHeartbeatAck, &heartbeat{}, false); err != nil {
			return fmt.Errorf("mcs: send heartbeat ack: %w", err)
		}

	case tagHeartbeatAck:
		m.logger.Debug("MCS heartbeat ack received")

	case tagDataMessageStanza:
		var msg dataMessage
		if err := msg.unmarshal(data); err != nil {
			m.logger.Warn("MCS: failed to unmarshal DataMessageStanza", "error", err)
			return nil
		}
		m.logger.Debug("MCS data message", "from", msg.From, "category", msg.Category, "persistentId", msg.PersistentID)
		if m.onDataMessage != nil {
			m.onDataMessage(msg)
		}

	case tagClose:
		return fmt.Errorf("mcs: server sent close")

	case tagIqStanza:
		var iq iqStanza
		if err := iq.unmarshal(data); err != nil {
			m.logger.Warn("MCS: failed to unmarshal IqStanza", "error", err)
		} else {
			m.logger.Debug("MCS IqStanza received", "type", iq.Type, "id", iq.ID, "from", iq.From, "to", iq.To)
		}

	case tagStreamErrorStanza:
		var se streamError
		if err := se.unmarshal(data); err != nil {
			return fmt.Errorf("mcs: stream error (unmarshal failed: %w)", err)
		}
		return fmt.Errorf("mcs: stream error: type=%s text=%s", se.Type, se.Text)

	default:
		m.logger.Debug("MCS unknown tag", "tag", tag)
	}

	return nil
}

func (m *mcsClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.sendPacket(tagHeartbeatPing, &heartbeat{}, false); err != nil {
				m.logger.Warn("MCS: failed to send heartbeat ping", "error", err)
				return
			}
			m.logger.Debug("MCS heartbeat ping sent")
		}
	}
}
