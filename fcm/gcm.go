package fcm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/slush-dev/push-receiver/internal/strutil"
)

// chromeAppPackage is the app name GCM expects for browser registrations.
const chromeAppPackage = "org.chromium.linux"

// gcmCredentials holds the GCM device credentials stored under
// Credentials.GCM. IDs are encoded as strings so they survive JSON readers
// without 64-bit integers.
type gcmCredentials struct {
	AndroidID     uint64 `json:"androidId,string"`
	SecurityToken uint64 `json:"securityToken,string"`
	AppID         string `json:"appId"`
	Token         string `json:"token"`
}

// RegisterError is returned when GCM answers a registration with "Error=".
type RegisterError struct {
	Reason string
}

func (e *RegisterError) Error() string {
	return "gcm register: " + e.Reason
}

// newAppID returns the subtype GCM uses to tell registrations of one device
// apart.
func newAppID() string {
	return "wp:receiver.push.com#" + uuid.NewString()
}

// gcmRegister registers appID for senderID with the c2dm/register3 endpoint
// and returns the GCM token.
func gcmRegister(ctx context.Context, httpClient *http.Client, androidID, securityToken uint64, appID, senderID string) (string, error) {
	form := url.Values{
		"app":       {chromeAppPackage},
		"X-subtype": {appID},
		"device":    {strconv.FormatUint(androidID, 10)},
		"sender":    {senderID},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, gcmRegisterURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("gcm register: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", fmt.Sprintf("AidLogin %d:%d", androidID, securityToken))

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("gcm register: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gcm register: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gcm register: HTTP %d: %s", resp.StatusCode, strutil.Truncate(string(respBody), 500))
	}

	body := strings.TrimSpace(string(respBody))
	if reason, found := strings.CutPrefix(body, "Error="); found {
		return "", &RegisterError{Reason: reason}
	}
	if token, found := strings.CutPrefix(body, "token="); found && token != "" {
		return token, nil
	}

	return "", fmt.Errorf("gcm register: unexpected response: %s", strutil.Truncate(body, 500))
}
