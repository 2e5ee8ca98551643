package steam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/steamanim/internal/common"
	"github.com/ternarybob/steamanim/internal/models"
)

// Guard types reported in allowed_confirmations.
const (
	guardNone               = 1
	guardEmailCode          = 2
	guardDeviceCode         = 3
	guardDeviceConfirmation = 4
	guardEmailConfirmation  = 5
	guardMachineToken       = 6
)

type rsaKeyResponse struct {
	Modulus   string `json:"publickey_mod"`
	Exponent  string `json:"publickey_exp"`
	Timestamp string `json:"timestamp"`
}

type confirmation struct {
	Type    int    `json:"confirmation_type"`
	Message string `json:"associated_message"`
}

type beginAuthResponse struct {
	ClientID             string         `json:"client_id"`
	RequestID            string         `json:"request_id"`
	Interval             float64        `json:"interval"`
	AllowedConfirmations []confirmation `json:"allowed_confirmations"`
	SteamID              string         `json:"steamid"`
}

type beginQRResponse struct {
	ClientID     string  `json:"client_id"`
	RequestID    string  `json:"request_id"`
	Interval     float64 `json:"interval"`
	ChallengeURL string  `json:"challenge_url"`
}

type pollResponse struct {
	NewClientID     string `json:"new_client_id"`
	NewChallengeURL string `json:"new_challenge_url"`
	RefreshToken  string `json:"refresh_token"`
	AccessToken   string `json:"access_token"`
	AccountName   string `json:"account_name"`
	NewGuardData  string `json:"new_guard_data"`
	HadRemoteAuth bool   `json:"had_remote_interaction"`
}

// authFlow is one pending credentials session.
type authFlow struct {
	clientID  string
	requestID string
	steamID   string
	interval  time.Duration
	account   string
}

// LogOn starts a credentials login. Key exchange and session creation happen
// before it returns, so their errors are returned directly. Everything after
// that (challenges, approval polling, tokens) is reported on Events.
func (c *Client) LogOn(ctx context.Context, details models.LogOnDetails) error {
	flowCtx := c.resetFlow(ctx)

	if details.QR {
		return c.logOnQR(flowCtx, details)
	}

	key, err := c.passwordKey(flowCtx, details.AccountName)
	if err != nil {
		return err
	}

	encrypted, err := encryptPassword(key, details.Password)
	if err != nil {
		return models.NewError(models.KindTransport, "failed to encrypt password", err)
	}

	params := url.Values{}
	params.Set("account_name", details.AccountName)
	params.Set("encrypted_password", encrypted)
	params.Set("encryption_timestamp", key.Timestamp)
	params.Set("remember_login", "true")
	params.Set("platform_type", "2") // web browser
	params.Set("persistence", "1")
	params.Set("website_id", "Community")
	params.Set("device_friendly_name", c.deviceName)
	if len(details.TrustToken) > 0 {
		params.Set("guard_data", string(details.TrustToken))
	}

	var begin beginAuthResponse
	if err := c.callService(flowCtx, http.MethodPost, "BeginAuthSessionViaCredentials", params, &begin); err != nil {
		return err
	}

	flow := c.newFlow(begin.ClientID, begin.RequestID, begin.SteamID, begin.Interval, details.AccountName)

	c.logger.Debug().
		Str("steam_id", flow.steamID).
		Int("confirmations", len(begin.AllowedConfirmations)).
		Msg("Auth session started")

	guard, message := pickGuard(begin.AllowedConfirmations)
	switch guard {
	case guardDeviceCode:
		c.emit(flowCtx, c.challenge(flowCtx, flow, guardDeviceCode, "", false))
	case guardEmailCode:
		domain := message
		if domain == "" {
			domain = "unknown"
		}
		c.emit(flowCtx, c.challenge(flowCtx, flow, guardEmailCode, domain, false))
	default:
		if guard == guardDeviceConfirmation || guard == guardEmailConfirmation {
			c.logger.Info().Msg("Approve the login from the mobile app or e-mail link")
		}
		c.goFlow(flowCtx, "steam.poll", func() { c.poll(flowCtx, flow) })
	}

	return nil
}

// logOnQR starts a login approved by scanning the challenge URL in the
// mobile app. The URL is reported as a QRChallenge and polling starts at
// once; the steam id is only known once the session is approved.
func (c *Client) logOnQR(ctx context.Context, details models.LogOnDetails) error {
	params := url.Values{}
	params.Set("device_friendly_name", c.deviceName)
	params.Set("platform_type", "2") // web browser

	var begin beginQRResponse
	if err := c.callService(ctx, http.MethodPost, "BeginAuthSessionViaQR", params, &begin); err != nil {
		return err
	}
	if begin.ChallengeURL == "" {
		return models.NewError(models.KindTransport, "BeginAuthSessionViaQR returned no challenge URL", nil)
	}

	flow := c.newFlow(begin.ClientID, begin.RequestID, "", begin.Interval, details.AccountName)

	c.logger.Debug().Str("client_id", flow.clientID).Msg("QR auth session started")

	c.emit(ctx, models.QRChallenge{URL: begin.ChallengeURL})
	c.goFlow(ctx, "steam.poll", func() { c.poll(ctx, flow) })
	return nil
}

func (c *Client) newFlow(clientID, requestID, steamID string, interval float64, account string) *authFlow {
	flow := &authFlow{
		clientID:  clientID,
		requestID: requestID,
		steamID:   steamID,
		interval:  time.Duration(interval * float64(time.Second)),
		account:   account,
	}
	if c.pollInterval > 0 {
		flow.interval = c.pollInterval
	}
	if flow.interval <= 0 {
		flow.interval = 5 * time.Second
	}
	return flow
}

// goFlow runs part of a login flow in the background. A panic is reported
// as an AccountError so the controller reading Events does not wait forever.
func (c *Client) goFlow(ctx context.Context, name string, fn func()) {
	common.SafeGoWithRecovery(c.logger, name, fn, func(recovered interface{}) {
		c.emit(ctx, models.AccountError{Err: models.NewError(models.KindUnknown,
			fmt.Sprintf("%s panicked: %v", name, recovered), nil)})
	})
}

// resetFlow cancels the previous flow and derives a context for the new one.
func (c *Client) resetFlow(ctx context.Context) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flowCancel != nil {
		c.flowCancel()
	}
	flowCtx, cancel := context.WithCancel(ctx)
	c.flowCancel = cancel
	return flowCtx
}

// pickGuard chooses the code type to answer. Codes are preferred over
// out-of-band confirmations because they can be answered unattended.
func pickGuard(confirmations []confirmation) (int, string) {
	best, message := 0, ""
	rank := map[int]int{
		guardDeviceCode:         5,
		guardEmailCode:          4,
		guardNone:               3,
		guardMachineToken:       3,
		guardDeviceConfirmation: 2,
		guardEmailConfirmation:  1,
	}
	for _, conf := range confirmations {
		if rank[conf.Type] > rank[best] {
			best, message = conf.Type, conf.Message
		}
	}
	if best == 0 {
		return guardNone, ""
	}
	return best, message
}

// challenge builds a ChallengeRequired whose Respond submits the code in
// the background and either re-challenges or starts polling.
func (c *Client) challenge(ctx context.Context, flow *authFlow, guard int, domain string, wrong bool) models.ChallengeRequired {
	return models.ChallengeRequired{
		Domain:        domain,
		LastCodeWrong: wrong,
		Respond: func(code string) {
			c.goFlow(ctx, "steam.submitCode", func() { c.submitCode(ctx, flow, guard, domain, code) })
		},
	}
}

func (c *Client) submitCode(ctx context.Context, flow *authFlow, guard int, domain, code string) {
	params := url.Values{}
	params.Set("client_id", flow.clientID)
	params.Set("steamid", flow.steamID)
	params.Set("code", code)
	params.Set("code_type", strconv.Itoa(guard))

	err := c.callService(ctx, http.MethodPost, "UpdateAuthSessionWithSteamGuardCode", params, nil)
	if err != nil {
		var merr *models.Error
		if errors.As(err, &merr) && merr.Code == int(EResultDuplicateRequest) {
			// Code already accepted for this session
			err = nil
		}
	}

	switch {
	case err == nil:
		c.poll(ctx, flow)
	case models.IsKind(err, models.KindInvalidChallengeCode):
		c.emit(ctx, c.challenge(ctx, flow, guard, domain, true))
	default:
		c.emit(ctx, models.AccountError{Err: err})
	}
}

// poll waits for the session to be approved, then reports the new trust
// token and the logon.
func (c *Client) poll(ctx context.Context, flow *authFlow) {
	deadline := time.Now().Add(c.pollTimeout)

	for {
		params := url.Values{}
		params.Set("client_id", flow.clientID)
		params.Set("request_id", flow.requestID)

		var resp pollResponse
		if err := c.callService(ctx, http.MethodPost, "PollAuthSessionStatus", params, &resp); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.emit(ctx, models.AccountError{Err: err})
			return
		}

		if resp.NewClientID != "" {
			flow.clientID = resp.NewClientID
		}
		if resp.NewChallengeURL != "" {
			c.emit(ctx, models.QRChallenge{URL: resp.NewChallengeURL})
		}

		if resp.RefreshToken != "" {
			account := resp.AccountName
			if account == "" {
				account = flow.account
			}
			if flow.steamID == "" {
				flow.steamID = tokenSubject(resp.RefreshToken)
			}
			if flow.steamID == "" {
				c.emit(ctx, models.AccountError{Err: models.NewError(models.KindTransport,
					"approved session carries no steam id", nil)})
				return
			}

			c.mu.Lock()
			c.steamID = flow.steamID
			c.accountName = account
			c.refreshToken = resp.RefreshToken
			c.accessToken = resp.AccessToken
			c.mu.Unlock()

			if resp.NewGuardData != "" {
				c.emit(ctx, models.TokenIssued{Token: []byte(resp.NewGuardData)})
			}
			c.emit(ctx, models.LoggedOn{SteamID: flow.steamID, AccountName: account})
			return
		}

		if time.Now().After(deadline) {
			c.emit(ctx, models.AccountError{Err: models.NewError(models.KindTransport,
				fmt.Sprintf("auth session not approved within %s", c.pollTimeout), nil)})
			return
		}

		timer := time.NewTimer(flow.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// tokenSubject returns the sub claim of a JWT without verifying it. The
// refresh token of a QR login is the only place its steam id appears.
func tokenSubject(token string) string {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return ""
	}
	var claims struct {
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Subject
}

func (c *Client) passwordKey(ctx context.Context, accountName string) (*rsaKeyResponse, error) {
	params := url.Values{}
	params.Set("account_name", accountName)

	var key rsaKeyResponse
	if err := c.callService(ctx, http.MethodGet, "GetPasswordRSAPublicKey", params, &key); err != nil {
		return nil, err
	}
	if key.Modulus == "" || key.Exponent == "" {
		return nil, models.NewError(models.KindTransport, "GetPasswordRSAPublicKey returned no key", nil)
	}
	return &key, nil
}

// encryptPassword applies RSA PKCS#1 v1.5 with the hex-encoded key and
// returns the base64 ciphertext.
func encryptPassword(key *rsaKeyResponse, password string) (string, error) {
	n, ok := new(big.Int).SetString(key.Modulus, 16)
	if !ok {
		return "", fmt.Errorf("invalid key modulus")
	}
	e, ok := new(big.Int).SetString(key.Exponent, 16)
	if !ok || !e.IsInt64() {
		return "", fmt.Errorf("invalid key exponent")
	}

	pub := &rsa.PublicKey{N: n, E: int(e.Int64())}
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
