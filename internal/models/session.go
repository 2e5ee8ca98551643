package models

import (
	"net/http"
	"time"
)

// Credentials are loaded once at startup and never modified. A QR login
// needs no password.
type Credentials struct {
	AccountName  string `json:"account_name" validate:"required"`
	Password     string `json:"-" validate:"required_unless=QR true"`
	SharedSecret string `json:"-"`
	QR           bool   `json:"qr"`
}

// LogOnDetails is what the controller hands to the account client.
type LogOnDetails struct {
	AccountName string
	Password    string
	TrustToken  []byte // persisted guard data from a previous run
	QR          bool   // approve the login by scanning a code in the mobile app
}

// SessionHandle is an authenticated web session: identity plus the cookies
// needed for ordinary community requests.
type SessionHandle struct {
	SteamID       string
	AccountName   string
	SessionID     string
	Cookies       []*http.Cookie
	AccessToken   string
	RefreshToken  string
	EstablishedAt time.Time
}

// Cookie returns the named cookie or nil.
func (s *SessionHandle) Cookie(name string) *http.Cookie {
	if s == nil {
		return nil
	}
	for _, c := range s.Cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
