package models

import "net/http"

// AccountEvent is a notification emitted by the account service client.
// Exactly one of the concrete types below.
type AccountEvent interface {
	accountEvent()
}

// ChallengeRequired asks for a second-factor code.
// Domain is the e-mail domain for e-mail codes and empty for authenticator codes.
type ChallengeRequired struct {
	Domain        string
	LastCodeWrong bool
	Respond       func(code string)
}

// QRChallenge asks a human to scan URL with the mobile app. It is emitted
// again whenever the service rotates the URL.
type QRChallenge struct {
	URL string
}

// TokenIssued carries a new trust token to persist.
type TokenIssued struct {
	Token []byte
}

// LoggedOn reports the account has been authenticated.
type LoggedOn struct {
	SteamID     string
	AccountName string
}

// WebSessionReady carries the cookies for community requests.
type WebSessionReady struct {
	SessionID    string
	Cookies      []*http.Cookie
	AccessToken  string
	RefreshToken string
}

// AccountError reports a failure already decoded into the error taxonomy.
type AccountError struct {
	Err error
}

func (ChallengeRequired) accountEvent() {}
func (QRChallenge) accountEvent()       {}
func (TokenIssued) accountEvent()       {}
func (LoggedOn) accountEvent()          {}
func (WebSessionReady) accountEvent()   {}
func (AccountError) accountEvent()      {}
