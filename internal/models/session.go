package models

import (
	"fmt"
	"time"
)

// DeviceSession is the transient state of one device-code authorization.
type DeviceSession struct {
	DeviceCode      string        `json:"deviceCode"`
	UserCode        string        `json:"userCode"`
	VerificationURL string        `json:"verificationUrl"`
	Interval        time.Duration `json:"-"`
	ExpiresAt       time.Time     `json:"expiresAt,omitempty"`
}

// IntervalSeconds is the poll interval as reported to UIs.
func (d DeviceSession) IntervalSeconds() int {
	return int(d.Interval / time.Second)
}

// RepositoryTarget names the repository that holds the links document.
type RepositoryTarget struct {
	Owner    string `json:"owner"`
	RepoName string `json:"repoName"`
}

func (t RepositoryTarget) String() string {
	return fmt.Sprintf("%s/%s", t.Owner, t.RepoName)
}
