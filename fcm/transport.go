package fcm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	pushreceiver "github.com/slush-dev/push-receiver"
	"github.com/slush-dev/push-receiver/internal/strutil"
)

// DefaultMCSAddr is Google's MCS endpoint.
const DefaultMCSAddr = "mtalk.google.com:5228"

// Option configures Transport.
type Option func(*Transport)

// WithLogger sets a custom logger for Transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client for checkin and registration.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = client
	}
}

// WithChromeBuild overrides the Chrome build reported at checkin.
func WithChromeBuild(build ChromeBuild) Option {
	return func(t *Transport) {
		t.build = build
	}
}

// WithMCSAddr overrides the MCS host:port.
func WithMCSAddr(addr string) Option {
	return func(t *Transport) {
		t.mcsAddr = addr
	}
}

// WithLoginTimeout bounds how long Listen waits for the MCS login response.
func WithLoginTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.loginTimeout = d
	}
}

// WithHeartbeatInterval sets how often the client pings MCS.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(t *Transport) {
		t.heartbeatInterval = d
	}
}

// Transport registers with GCM as a Chrome browser and listens on MCS.
// It implements pushreceiver.Transport.
type Transport struct {
	logger            *slog.Logger
	httpClient        *http.Client
	build             ChromeBuild
	mcsAddr           string
	loginTimeout      time.Duration
	heartbeatInterval time.Duration

	// dialMCS is overridable for testing (returns a conn to MCS server).
	dialMCS func(ctx context.Context) (io.ReadWriteCloser, error)
}

var _ pushreceiver.Transport = (*Transport)(nil)

// NewTransport creates a new Transport.
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		logger:            slog.Default(),
		httpClient:        http.DefaultClient,
		build:             DefaultChromeBuild(),
		mcsAddr:           DefaultMCSAddr,
		loginTimeout:      30 * time.Second,
		heartbeatInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register checks in a new GCM device and registers it for senderID.
func (t *Transport) Register(ctx context.Context, senderID string) (*pushreceiver.Credentials, error) {
	if senderID == "" {
		return nil, errors.New("gcm register: empty sender ID")
	}

	t.logger.Debug("Starting GCM registration", "sender_id", senderID)
	httpClient := t.loggingHTTPClient()

	androidID, securityToken, err := gcmCheckin(ctx, httpClient, 0, 0, t.build)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("GCM checkin complete", "androidId", androidID)

	appID := newAppID()
	token, err := gcmRegister(ctx, httpClient, androidID, securityToken, appID, senderID)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(gcmCredentials{
		AndroidID:     androidID,
		SecurityToken: securityToken,
		AppID:         appID,
		Token:         token,
	})
	if err != nil {
		return nil, fmt.Errorf("serializing GCM credentials: %w", err)
	}

	t.logger.Info("GCM registration complete", "token_prefix", strutil.Truncate(token, 20))
	return &pushreceiver.Credentials{
		GCM: raw,
		FCM: pushreceiver.FCMCredentials{Token: token},
	}, nil
}

// Listen connects to MCS, logs in with creds and returns once the server
// accepted the login. Notifications are delivered to onNotification from the
// session's read goroutine.
func (t *Transport) Listen(ctx context.Context, creds *pushreceiver.Credentials, persistentIDs []string, onNotification func(pushreceiver.Notification)) (pushreceiver.Session, error) {
	if creds == nil || len(creds.GCM) == 0 {
		return nil, errors.New("no GCM credentials: register first")
	}
	var gcmCreds gcmCredentials
	if err := json.Unmarshal(creds.GCM, &gcmCreds); err != nil {
		return nil, fmt.Errorf("failed to parse GCM credentials: %w", err)
	}
	if gcmCreds.AndroidID == 0 || gcmCreds.SecurityToken == 0 {
		return nil, errors.New("GCM credentials have no device ID")
	}

	conn, err := t.dialMCSConn(ctx)
	if err != nil {
		return nil, fmt.Errorf("MCS connect: %w", err)
	}

	ids := make([]string, len(persistentIDs))
	copy(ids, persistentIDs)

	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, done: make(chan struct{})}
	loggedIn := make(chan struct{})
	var loginOnce sync.Once

	mcs := newMCSClient(conn, gcmCreds, t.build, ids, t.logger)
	mcs.heartbeatInterval = t.heartbeatInterval
	mcs.onConnected = func() {
		t.logger.Debug("MCS connected")
		loginOnce.Do(func() { close(loggedIn) })
	}
	mcs.onDisconnected = func(reason string) {
		t.logger.Debug("MCS disconnected", "reason", reason)
	}
	mcs.onDataMessage = func(msg dataMessage) {
		onNotification(toNotification(msg))
	}

	go func() {
		s.finish(mcs.connect(sessCtx))
	}()

	timer := time.NewTimer(t.loginTimeout)
	defer timer.Stop()

	select {
	case <-loggedIn:
		return s, nil
	case <-s.done:
		s.cancel()
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("mcs: connection closed before login")
	case <-timer.C:
		s.Close()
		return nil, fmt.Errorf("mcs: no login response after %s", t.loginTimeout)
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// toNotification converts a data message stanza.
func toNotification(msg dataMessage) pushreceiver.Notification {
	n := pushreceiver.Notification{
		PersistentID: msg.PersistentID,
		From:         msg.From,
		Category:     msg.Category,
		RawData:      msg.RawData,
	}
	if len(msg.AppData) > 0 {
		n.Data = make(map[string]string, len(msg.AppData))
		for _, kv := range msg.AppData {
			n.Data[kv.Key] = kv.Value
		}
	}
	return n
}

// session is an MCS connection running its read loop in the background.
type session struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *session) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *session) Done() <-chan struct{} { return s.done }

func (s *session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close cancels the session and waits for the read loop to exit.
func (s *session) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// dialMCSConn dials MCS over TLS, or uses the test hook.
func (t *Transport) dialMCSConn(ctx context.Context) (io.ReadWriteCloser, error) {
	if t.dialMCS != nil {
		return t.dialMCS(ctx)
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 30 * time.Second}}
	return dialer.DialContext(ctx, "tcp", t.mcsAddr)
}

// loggingHTTPClient returns the Transport's HTTP client wrapped with request/response
// logging if the logger is at Debug level, otherwise returns it as-is.
func (t *Transport) loggingHTTPClient() *http.Client {
	if !t.logger.Enabled(context.Background(), slog.LevelDebug) {
		return t.httpClient
	}
	inner := t.httpClient.Transport
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &http.Client{
		Transport: &loggingRoundTripper{inner: inner, logger: t.logger},
		Timeout:   t.httpClient.Timeout,
	}
}

// loggingRoundTripper wraps an http.RoundTripper and logs every request and
// response at debug level. Authorization values are redacted.
type loggingRoundTripper struct {
	inner  http.RoundTripper
	logger *slog.Logger
}

func (l *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	l.logger.Debug(">>> "+req.Method, "url", req.URL.String())
	for k, v := range req.Header {
		val := strings.Join(v, ", ")
		if strings.EqualFold(k, "Authorization") {
			val = "<redacted>"
		}
		l.logger.Debug("  Request header", "key", k, "value", val)
	}
	if req.Body != nil && req.Body != http.NoBody {
		bodyBytes, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err == nil {
			l.logger.Debug("  Request body", "length", len(bodyBytes))
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	resp, err := l.inner.RoundTrip(req)
	if err != nil {
		l.logger.Debug("<<< Error", "error", err)
		return nil, err
	}

	l.logger.Debug("<<< Response", "status", resp.StatusCode, "url", req.URL.String())
	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr == nil {
		l.logger.Debug("  Response body", "length", len(respBody), "data", strutil.Truncate(string(respBody), 2000))
		resp.Body = io.NopCloser(bytes.NewReader(respBody))
	}

	return resp, nil
}
