package models

import "time"

// Session describes one continuous user presence. At most one session per
// userId may be active at any instant; the session store enforces this.
type Session struct {
	SessionID  string     `json:"sessionId"`
	UserID     string     `json:"userId"`
	Username   string     `json:"username"`
	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	IsActive   bool       `json:"isActive"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
}

// SessionPayload is the wire shape for explicit session registration.
type SessionPayload struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp,omitempty"`
}

// EndSessionPayload optionally scopes an end-session request to one session.
type EndSessionPayload struct {
	SessionID string `json:"sessionId"`
}
