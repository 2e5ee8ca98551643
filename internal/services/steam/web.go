package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/ternarybob/steamanim/internal/models"
)

type transferInfo struct {
	URL    string            `json:"url"`
	Params map[string]string `json:"params"`
}

type finalizeResponse struct {
	SteamID      string         `json:"steamID"`
	Redirect     string         `json:"redir"`
	TransferInfo []transferInfo `json:"transfer_info"`
	Error        int            `json:"error"`
}

// WebLogOn exchanges the refresh token for community cookies and emits
// WebSessionReady. It runs synchronously; failures are returned.
func (c *Client) WebLogOn(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.refreshToken
	accessToken := c.accessToken
	steamID := c.steamID
	c.mu.Unlock()

	if refreshToken == "" {
		return models.NewError(models.KindTransport, "web logon requested before logon completed", nil)
	}

	sessionID := newSessionID()

	form := url.Values{}
	form.Set("nonce", refreshToken)
	form.Set("sessionid", sessionID)
	form.Set("redir", c.communityURL+"/login/home/?goto=")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL+"/jwt/finalizelogin", strings.NewReader(form.Encode()))
	if err != nil {
		return models.NewError(models.KindTransport, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, resp, err := c.do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return models.NewError(resultFromHeader(resp).Kind(), "finalizelogin failed", &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   "/jwt/finalizelogin",
		})
	}

	var finalized finalizeResponse
	if err := json.Unmarshal(body, &finalized); err != nil {
		return models.NewError(models.KindTransport, "failed to decode finalizelogin response", err)
	}
	if finalized.Error != 0 {
		return EResult(finalized.Error).Err("finalizelogin")
	}
	if finalized.SteamID != "" {
		steamID = finalized.SteamID
	}

	for _, transfer := range finalized.TransferInfo {
		if err := c.transfer(ctx, transfer, steamID); err != nil {
			return err
		}
	}

	community, err := url.Parse(c.communityURL)
	if err != nil {
		return models.NewError(models.KindConfiguration, "invalid community URL", err)
	}

	var cookies []*http.Cookie
	if c.httpClient.Jar != nil {
		for _, cookie := range c.httpClient.Jar.Cookies(community) {
			if cookie.Name == "sessionid" {
				continue
			}
			cookies = append(cookies, cookie)
		}
	}
	cookies = append(cookies, &http.Cookie{Name: "sessionid", Value: sessionID})

	if findCookie(cookies, "steamLoginSecure") == nil {
		return models.NewError(models.KindTransport, "web logon did not yield a steamLoginSecure cookie", nil)
	}

	c.logger.Debug().Int("cookies", len(cookies)).Int("transfers", len(finalized.TransferInfo)).Msg("Web logon complete")

	c.emit(ctx, models.WebSessionReady{
		SessionID:    sessionID,
		Cookies:      cookies,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
	return nil
}

// transfer posts the token to one of the domains that should receive cookies.
func (c *Client) transfer(ctx context.Context, info transferInfo, steamID string) error {
	form := url.Values{}
	for k, v := range info.Params {
		form.Set(k, v)
	}
	form.Set("steamID", steamID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, info.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return models.NewError(models.KindTransport, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, resp, err := c.do(req)
	if err != nil {
		return err
	}
	if eresult := resultFromHeader(resp); eresult != EResultOK {
		return eresult.Err(info.URL)
	}

	var result struct {
		Result int `json:"result"`
	}
	if json.Unmarshal(body, &result) == nil && result.Result != 0 && EResult(result.Result) != EResultOK {
		return EResult(result.Result).Err(fmt.Sprintf("transfer to %s", info.URL))
	}
	return nil
}

// newSessionID returns 24 hex characters, the format community pages use.
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
