package steam

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ternarybob/steamanim/internal/models"
)

// EResult is the service-wide result code returned in the X-eresult header.
type EResult int

const (
	EResultOK                    EResult = 1
	EResultFail                  EResult = 2
	EResultNoConnection          EResult = 3
	EResultInvalidPassword       EResult = 5
	EResultInvalidParam          EResult = 8
	EResultAccessDenied          EResult = 15
	EResultTimeout               EResult = 16
	EResultBanned                EResult = 17
	EResultAccountNotFound       EResult = 18
	EResultServiceUnavailable    EResult = 20
	EResultDuplicateRequest      EResult = 29
	EResultAccountDisabled       EResult = 43
	EResultTryAnotherCM          EResult = 48
	EResultInvalidLoginAuthCode  EResult = 65
	EResultRateLimitExceeded     EResult = 84
	EResultLoginDeniedThrottle   EResult = 87
	EResultTwoFactorCodeMismatch EResult = 88
)

var eresultNames = map[EResult]string{
	EResultOK:                    "OK",
	EResultFail:                  "Fail",
	EResultNoConnection:          "NoConnection",
	EResultInvalidPassword:       "InvalidPassword",
	EResultInvalidParam:          "InvalidParam",
	EResultAccessDenied:          "AccessDenied",
	EResultTimeout:               "Timeout",
	EResultBanned:                "Banned",
	EResultAccountNotFound:       "AccountNotFound",
	EResultServiceUnavailable:    "ServiceUnavailable",
	EResultDuplicateRequest:      "DuplicateRequest",
	EResultAccountDisabled:       "AccountDisabled",
	EResultTryAnotherCM:          "TryAnotherCM",
	EResultInvalidLoginAuthCode:  "InvalidLoginAuthCode",
	EResultRateLimitExceeded:     "RateLimitExceeded",
	EResultLoginDeniedThrottle:   "AccountLoginDeniedThrottle",
	EResultTwoFactorCodeMismatch: "TwoFactorCodeMismatch",
}

func (r EResult) String() string {
	if name, ok := eresultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("EResult(%d)", int(r))
}

// Kind maps a result code onto the application's error taxonomy.
func (r EResult) Kind() models.ErrorKind {
	switch r {
	case EResultInvalidPassword, EResultInvalidParam, EResultAccessDenied,
		EResultBanned, EResultAccountNotFound, EResultAccountDisabled:
		return models.KindTerminalAuth
	case EResultInvalidLoginAuthCode, EResultTwoFactorCodeMismatch:
		return models.KindInvalidChallengeCode
	case EResultRateLimitExceeded:
		return models.KindRateLimited
	case EResultLoginDeniedThrottle:
		return models.KindLoginThrottled
	default:
		return models.KindTransport
	}
}

// Err converts a non-OK result into a tagged error. OK yields nil.
func (r EResult) Err(endpoint string) error {
	if r == EResultOK {
		return nil
	}
	return &models.Error{
		Kind:    r.Kind(),
		Code:    int(r),
		Message: fmt.Sprintf("%s returned %s", endpoint, r),
	}
}

// resultFromHeader reads X-eresult. A missing header counts as OK for a 2xx
// response and Fail otherwise.
func resultFromHeader(resp *http.Response) EResult {
	if v := resp.Header.Get("X-eresult"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return EResult(n)
		}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return EResultOK
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return EResultRateLimitExceeded
	}
	return EResultFail
}
