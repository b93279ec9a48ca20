package router

import (
	"time"

	"github.com/linkstash/linkstash/internal/models"
)

// Action names accepted by Dispatch.
const (
	ActionStartAuth       = "startAuth"
	ActionSaveLink        = "saveLink"
	ActionCheckAuth       = "checkAuth"
	ActionStartDeviceAuth = "startDeviceAuth"
	ActionPollDeviceAuth  = "pollDeviceAuth"
	ActionLogout          = "logout"
	ActionGetSettings     = "getSettings"
	ActionSetRepoName     = "setRepoName"
	ActionListLinks       = "listLinks"
)

// Request is one message from a UI.
type Request struct {
	Action     string          `json:"action"`
	Link       *models.RawLink `json:"link,omitempty"`
	DeviceCode string          `json:"deviceCode,omitempty"`
	Interval   int             `json:"interval,omitempty"`
	RepoName   string          `json:"repoName,omitempty"`
}

// Response is the reply to a Request. Only the fields relevant to the
// action are set.
type Response struct {
	Success         bool                `json:"success"`
	Error           string              `json:"error,omitempty"`
	Link            *models.LinkRecord  `json:"link,omitempty"`
	Links           []models.LinkRecord `json:"links,omitempty"`
	IsAuthenticated *bool               `json:"isAuthenticated,omitempty"`
	Device          *DeviceInfo         `json:"device,omitempty"`
	Settings        *Settings           `json:"settings,omitempty"`
}

// DeviceInfo is what a UI needs to show the device-code prompt.
type DeviceInfo struct {
	DeviceCode      string     `json:"deviceCode"`
	UserCode        string     `json:"userCode"`
	VerificationURL string     `json:"verificationUrl"`
	Interval        int        `json:"interval"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

func newDeviceInfo(ds models.DeviceSession) *DeviceInfo {
	info := &DeviceInfo{
		DeviceCode:      ds.DeviceCode,
		UserCode:        ds.UserCode,
		VerificationURL: ds.VerificationURL,
		Interval:        ds.IntervalSeconds(),
	}
	if !ds.ExpiresAt.IsZero() {
		exp := ds.ExpiresAt
		info.ExpiresAt = &exp
	}
	return info
}

// Settings backs the options page.
type Settings struct {
	RepoName     string `json:"repoName"`
	FilePath     string `json:"filePath"`
	LastSyncTime int64  `json:"lastSyncTime,omitempty"`
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

func boolPtr(b bool) *bool {
	return &b
}
