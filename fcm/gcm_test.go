package fcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkinHandler(t *testing.T, received *checkinRequest) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-protobuf", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if received != nil {
			require.NoError(t, received.unmarshal(body))
		}

		resp := &checkinResponse{StatsOK: true, AndroidID: 123456789, SecurityToken: 987654321}
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(resp.marshal())
	}
}

func overrideURL(t *testing.T, target *string, value string) {
	t.Helper()
	orig := *target
	*target = value
	t.Cleanup(func() { *target = orig })
}

func TestGCMCheckin(t *testing.T) {
	var req checkinRequest
	srv := httptest.NewServer(checkinHandler(t, &req))
	defer srv.Close()
	overrideURL(t, &gcmCheckinURL, srv.URL)

	build := DefaultChromeBuild()
	androidID, securityToken, err := gcmCheckin(context.Background(), srv.Client(), 0, 0, build)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), androidID)
	assert.Equal(t, uint64(987654321), securityToken)

	// Chrome-style checkin: browser device type with a Chrome build.
	assert.Equal(t, int32(deviceChromeBrowser), req.Checkin.Type)
	assert.Equal(t, build, req.Checkin.ChromeBuild)
	assert.Equal(t, int32(3), req.Version)
	assert.Zero(t, req.ID)
	assert.Zero(t, req.SecurityToken)
}

func TestGCMCheckin_Recheckin(t *testing.T) {
	var req checkinRequest
	srv := httptest.NewServer(checkinHandler(t, &req))
	defer srv.Close()
	overrideURL(t, &gcmCheckinURL, srv.URL)

	_, _, err := gcmCheckin(context.Background(), srv.Client(), 42, 4242, DefaultChromeBuild())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), req.ID)
	assert.Equal(t, uint64(4242), req.SecurityToken)
}

func TestGCMCheckin_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()
	overrideURL(t, &gcmCheckinURL, srv.URL)

	_, _, err := gcmCheckin(context.Background(), srv.Client(), 0, 0, DefaultChromeBuild())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcm checkin: HTTP 403")
}

func TestGCMCheckin_NoCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := &checkinResponse{StatsOK: true}
		w.Write(resp.marshal())
	}))
	defer srv.Close()
	overrideURL(t, &gcmCheckinURL, srv.URL)

	_, _, err := gcmCheckin(context.Background(), srv.Client(), 0, 0, DefaultChromeBuild())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no device credentials")
}

func TestGCMRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AidLogin 111:222", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, chromeAppPackage, r.PostForm.Get("app"))
		assert.Equal(t, "wp:receiver.push.com#app", r.PostForm.Get("X-subtype"))
		assert.Equal(t, "111", r.PostForm.Get("device"))
		assert.Equal(t, "sender-1", r.PostForm.Get("sender"))
		fmt.Fprint(w, "token=mock-gcm-token\n")
	}))
	defer srv.Close()
	overrideURL(t, &gcmRegisterURL, srv.URL)

	token, err := gcmRegister(context.Background(), srv.Client(), 111, 222, "wp:receiver.push.com#app", "sender-1")
	require.NoError(t, err)
	assert.Equal(t, "mock-gcm-token", token)
}

func TestGCMRegister_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Error=PHONE_REGISTRATION_ERROR")
	}))
	defer srv.Close()
	overrideURL(t, &gcmRegisterURL, srv.URL)

	_, err := gcmRegister(context.Background(), srv.Client(), 1, 2, "app", "sender")
	var regErr *RegisterError
	require.True(t, errors.As(err, &regErr))
	assert.Equal(t, "PHONE_REGISTRATION_ERROR", regErr.Reason)
	assert.Equal(t, "gcm register: PHONE_REGISTRATION_ERROR", err.Error())
}

func TestGCMRegister_UnexpectedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "garbage")
	}))
	defer srv.Close()
	overrideURL(t, &gcmRegisterURL, srv.URL)

	_, err := gcmRegister(context.Background(), srv.Client(), 1, 2, "app", "sender")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected response: garbage")
}

func TestNewAppID(t *testing.T) {
	a, b := newAppID(), newAppID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^wp:receiver\.push\.com#[0-9a-f-]{36}$`, a)
}
