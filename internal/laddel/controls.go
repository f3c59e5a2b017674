package laddel

import "context"

// StartSessionRequest describes a session start. ChargerID is required; the
// schedule window and registration number are optional, matching the app's
// start dialog.
type StartSessionRequest struct {
	ChargerID             string `json:"chargerId"`
	ScheduledStartTime    string `json:"scheduledStartTime,omitempty"`
	ScheduledEndTime      string `json:"scheduledEndTime,omitempty"`
	RegistrationNumber    string `json:"registrationNumber,omitempty"`
	RequestPrivateSession bool   `json:"requestPrivateSession"`
}

type stopSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type notificationSyncRequest struct {
	FCMToken       string `json:"fcmToken"`
	InstallationID string `json:"installationId"`
}

// StartSession asks the provider to start (or schedule) a charging session.
// The provider acknowledges with 200 or 204.
func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) error {
	return c.postJSON(ctx, "start session", startSessionPath, req)
}

// StopSession asks the provider to stop the given session.
func (c *Client) StopSession(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "stop session", stopSessionPath, stopSessionRequest{SessionID: sessionID})
}

// SyncNotificationToken registers a push token for this installation.
func (c *Client) SyncNotificationToken(ctx context.Context, fcmToken, installationID string) error {
	return c.postJSON(ctx, "notification sync", notificationSyncPath, notificationSyncRequest{
		FCMToken:       fcmToken,
		InstallationID: installationID,
	})
}
