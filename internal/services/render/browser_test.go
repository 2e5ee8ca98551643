package render

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/steamanim/internal/models"
)

func TestBrowserCookies(t *testing.T) {
	session := &models.SessionHandle{
		Cookies: []*http.Cookie{
			{Name: "steamLoginSecure", Value: "7656%7C%7Ctoken"},
			{Name: "sessionid", Value: "abc123"},
			nil,
			{Name: ""},
		},
	}

	cookies, err := browserCookies(session, "https://steamcommunity.com")
	require.NoError(t, err)
	require.Len(t, cookies, 2)
	assert.Equal(t, browserCookie{name: "steamLoginSecure", value: "7656%7C%7Ctoken", domain: "steamcommunity.com", secure: true}, cookies[0])
	assert.Equal(t, "sessionid", cookies[1].name)

	cookies, err = browserCookies(session, "http://127.0.0.1:8080")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cookies[0].domain)
	assert.False(t, cookies[0].secure)

	_, err = browserCookies(nil, "https://steamcommunity.com")
	assert.Error(t, err)
	_, err = browserCookies(session, "not a url")
	assert.Error(t, err)
}

func TestNewBrowser_Options(t *testing.T) {
	b := NewBrowser("https://steamcommunity.com/", arbor.NewLogger(),
		WithChromePath("/usr/bin/chromium"),
		WithUserAgent("steamanim-test"),
		WithTimeout(10*time.Second),
		WithSettle(time.Second),
	)

	assert.Equal(t, "https://steamcommunity.com", b.baseURL)
	assert.Equal(t, 10*time.Second, b.timeout)
	assert.Equal(t, time.Second, b.settle)
	assert.Len(t, b.allocatorOptions(), len(chromedp.DefaultExecAllocatorOptions)+6)
}

func TestRender_MissingSessionIsFetchError(t *testing.T) {
	b := NewBrowser("https://steamcommunity.com", arbor.NewLogger())

	_, err := b.Render(context.Background(), nil, "/profiles/1/edit/info")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindFetch))
}
