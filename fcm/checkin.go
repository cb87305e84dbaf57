package fcm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/slush-dev/push-receiver/internal/strutil"
)

// ChromeBuild identifies the Chrome installation the checkin claims to be.
// GCM issues browser-style device credentials for it.
type ChromeBuild struct {
	// Platform is one of the Platform* constants.
	Platform int32

	// ChromeVersion is the Chrome browser version (e.g. "63.0.3234.0")
	ChromeVersion string

	// Channel is one of the Channel* constants.
	Channel int32
}

// DefaultChromeBuild returns the build used by the Electron push receiver:
// stable Chrome 63 on macOS, which GCM still accepts for checkin.
func DefaultChromeBuild() ChromeBuild {
	return ChromeBuild{
		Platform:      PlatformMac,
		ChromeVersion: "63.0.3234.0",
		Channel:       ChannelStable,
	}
}

// gcmCheckinURL and gcmRegisterURL are package-level vars so tests can override them.
var (
	gcmCheckinURL  = "https://android.clients.google.com/checkin"
	gcmRegisterURL = "https://android.clients.google.com/c2dm/register3"
)

// gcmCheckin performs a Chrome-style GCM checkin. If androidID and
// securityToken are non-zero, this is a re-checkin with existing credentials.
func gcmCheckin(ctx context.Context, httpClient *http.Client, androidID, securityToken uint64, build ChromeBuild) (uint64, uint64, error) {
	req := &checkinRequest{
		ID:            androidID,
		SecurityToken: securityToken,
		Checkin: checkinProto{
			Type:        deviceChromeBrowser,
			ChromeBuild: build,
		},
		Version:          3,
		UserSerialNumber: 0,
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, gcmCheckinURL, bytes.NewReader(req.marshal()))
	if err != nil {
		return 0, 0, fmt.Errorf("gcm checkin: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return 0, 0, fmt.Errorf("gcm checkin: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("gcm checkin: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("gcm checkin: HTTP %d: %s", resp.StatusCode, strutil.Truncate(string(respBody), 500))
	}

	var checkinResp checkinResponse
	if err := checkinResp.unmarshal(respBody); err != nil {
		return 0, 0, fmt.Errorf("gcm checkin: %w", unmarshalError("AndroidCheckinResponse", err))
	}
	if checkinResp.AndroidID == 0 || checkinResp.SecurityToken == 0 {
		return 0, 0, fmt.Errorf("gcm checkin: response has no device credentials")
	}

	return checkinResp.AndroidID, checkinResp.SecurityToken, nil
}
