package session

import (
	"time"

	"github.com/mileusna/useragent"
)

// UserSession is the queryable index row kept alongside the payload
// store. The payload itself lives in the scs store keyed by the hashed
// session identifier; this row exists so sessions can be listed and
// destroyed per account, and so expired reads can be told apart from
// unknown identifiers.
type UserSession struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	TokenHash string    `json:"-" gorm:"uniqueIndex;size:64;not null"`
	IPAddress string    `json:"ip_address" gorm:"size:45"`
	UserAgent string    `json:"user_agent" gorm:"size:500"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (UserSession) TableName() string {
	return "user_sessions"
}

// Metadata describes the client a session was created from.
type Metadata struct {
	IPAddress string
	UserAgent string
}

// DeviceInfo is the parsed view of a session's user agent, used by
// per-account session listings.
type DeviceInfo struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	DeviceType     string `json:"device_type"`
	Mobile         bool   `json:"mobile"`
	Tablet         bool   `json:"tablet"`
	Bot            bool   `json:"bot"`
}

// SessionSummary is what per-account listings return: index metadata
// plus the parsed device info, never the payload or the identifier.
type SessionSummary struct {
	ID        uint       `json:"id"`
	IPAddress string     `json:"ip_address"`
	Device    DeviceInfo `json:"device"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  time.Time  `json:"last_used"`
	ExpiresAt time.Time  `json:"expires_at"`
	Current   bool       `json:"current"`
}

func ParseDeviceInfo(userAgentString string) DeviceInfo {
	if userAgentString == "" {
		return DeviceInfo{
			Browser:    "Unknown Browser",
			OS:         "Unknown OS",
			DeviceType: "Unknown",
		}
	}

	ua := useragent.Parse(userAgentString)

	deviceType := "Desktop"
	if ua.Mobile {
		deviceType = "Mobile"
	} else if ua.Tablet {
		deviceType = "Tablet"
	} else if ua.Bot {
		deviceType = "Bot"
	}

	browser := "Unknown Browser"
	if ua.Name != "" {
		browser = ua.Name
	}

	os := "Unknown OS"
	if ua.OS != "" {
		os = ua.OS
	}

	return DeviceInfo{
		Browser:        browser,
		BrowserVersion: ua.Version,
		OS:             os,
		OSVersion:      ua.OSVersion,
		DeviceType:     deviceType,
		Mobile:         ua.Mobile,
		Tablet:         ua.Tablet,
		Bot:            ua.Bot,
	}
}
