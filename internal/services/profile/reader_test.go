package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/steamanim/internal/models"
)

// MockFetcher is a mock implementation of DocumentFetcher
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, session *models.SessionHandle, path string) ([]byte, error) {
	args := m.Called(ctx, session, path)
	if body, ok := args.Get(0).([]byte); ok {
		return body, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRenderer is a mock implementation of PageRenderer
type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Render(ctx context.Context, session *models.SessionHandle, path string) ([]byte, error) {
	args := m.Called(ctx, session, path)
	if body, ok := args.Get(0).([]byte); ok {
		return body, args.Error(1)
	}
	return nil, args.Error(1)
}

var testSession = &models.SessionHandle{SteamID: "76561197960287930", SessionID: "abc"}

const editPage = `<html><body>
<form id="searchForm"><input name="q" value="ignored"></form>
<form id="editForm" method="post">
  <input type="hidden" name="sessionID" value="abc">
  <input type="text" name="personaName" value="Alice">
  <input type="text" value="no name">
  <input type="text" name="real_name">
  <textarea name="summary">line one
line two</textarea>
  <select name="country">
    <option value="">(none)</option>
    <option value="NZ" selected>New Zealand</option>
  </select>
  <select name="state"><option value="01">One</option><option value="02">Two</option></select>
  <input type="checkbox" name="hide_friends" value="1">
  <input type="checkbox" name="show_badge" value="1" checked>
  <input type="text" name="dup" value="first">
  <input type="text" name="dup" value="second">
</form>
</body></html>`

func TestParse_Form(t *testing.T) {
	snapshot, source, err := Parse([]byte(editPage))
	require.NoError(t, err)
	assert.Equal(t, "form", source)

	assert.Equal(t, models.FieldSnapshot{
		"sessionID":   "abc",
		"personaName": "Alice",
		"real_name":   "",
		"summary":     "line one\nline two",
		"country":     "NZ",
		"state":       "01",
		"show_badge":  "1",
		"dup":         "second",
	}, snapshot)
}

func TestParse_ConfigFallback(t *testing.T) {
	page := `<html><body><div id="profile_edit_config" data-profile-edit="{&quot;strPersonaName&quot;:&quot;Alice&quot;,&quot;strSummary&quot;:&quot;hi&quot;,&quot;strCustomURL&quot;:&quot;alice&quot;,&quot;LocationData&quot;:{&quot;locCountryCode&quot;:&quot;NZ&quot;,&quot;locStateCode&quot;:&quot;&quot;,&quot;locCityCode&quot;:42}}"></div></body></html>`

	snapshot, source, err := Parse([]byte(page))
	require.NoError(t, err)
	assert.Equal(t, "config", source)
	assert.Equal(t, "Alice", snapshot["personaName"])
	assert.Equal(t, "hi", snapshot["summary"])
	assert.Equal(t, "alice", snapshot["customURL"])
	assert.Equal(t, "NZ", snapshot["country"])
	assert.Equal(t, "", snapshot["state"])
	assert.Equal(t, "42", snapshot["city"])
}

func TestParse_ConfigMalformed(t *testing.T) {
	_, _, err := Parse([]byte(`<div id="profile_edit_config" data-profile-edit="{not json"></div>`))
	assert.Error(t, err)
}

func TestParse_NoForm(t *testing.T) {
	snapshot, source, err := Parse([]byte(`<html><body><p>nothing here</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "none", source)
	assert.Empty(t, snapshot)
	assert.NotNil(t, snapshot)
}

func TestReader_Read(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, testSession, "/profiles/76561197960287930/edit/info").
		Return([]byte(editPage), nil).Once()

	snapshot, err := NewReader(fetcher, arbor.NewLogger()).Read(context.Background(), testSession)
	require.NoError(t, err)
	assert.Equal(t, "Alice", snapshot["personaName"])
	fetcher.AssertExpectations(t)
}

func TestReader_FetchErrors(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, testSession, mock.Anything).
		Return(nil, errors.New("connection refused")).Once()
	fetcher.On("Fetch", mock.Anything, testSession, mock.Anything).
		Return(nil, models.NewError(models.KindSessionExpired, "redirected", nil)).Once()

	reader := NewReader(fetcher, arbor.NewLogger())

	_, err := reader.Read(context.Background(), testSession)
	assert.True(t, models.IsKind(err, models.KindFetch), "untagged errors become fetch errors")

	_, err = reader.Read(context.Background(), testSession)
	assert.True(t, models.IsKind(err, models.KindSessionExpired), "tagged errors pass through")

	fetcher.AssertNumberOfCalls(t, "Fetch", 2)
}

const scriptOnlyPage = `<html><body><div id="react_root"></div><script src="/edit.js"></script></body></html>`

func TestReader_RendersScriptOnlyPage(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, testSession, mock.Anything).Return([]byte(scriptOnlyPage), nil).Once()

	renderer := &MockRenderer{}
	renderer.On("Render", mock.Anything, testSession, "/profiles/76561197960287930/edit/info").
		Return([]byte(editPage), nil).Once()

	snapshot, err := NewReader(fetcher, arbor.NewLogger(), WithRenderer(renderer)).Read(context.Background(), testSession)
	require.NoError(t, err)
	assert.Equal(t, "Alice", snapshot["personaName"])
	renderer.AssertExpectations(t)
}

func TestReader_StaticFieldsSkipRender(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, testSession, mock.Anything).Return([]byte(editPage), nil).Once()
	renderer := &MockRenderer{}

	_, err := NewReader(fetcher, arbor.NewLogger(), WithRenderer(renderer)).Read(context.Background(), testSession)
	require.NoError(t, err)
	renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything, mock.Anything)
}

func TestReader_RenderFailureIsFetchError(t *testing.T) {
	fetcher := &MockFetcher{}
	fetcher.On("Fetch", mock.Anything, testSession, mock.Anything).Return([]byte(scriptOnlyPage), nil)

	renderer := &MockRenderer{}
	renderer.On("Render", mock.Anything, testSession, mock.Anything).
		Return(nil, errors.New("chrome not found")).Once()

	reader := NewReader(fetcher, arbor.NewLogger(), WithRenderer(renderer))
	_, err := reader.Read(context.Background(), testSession)
	assert.True(t, models.IsKind(err, models.KindFetch))

	snapshot, err := NewReader(fetcher, arbor.NewLogger()).Read(context.Background(), testSession)
	require.NoError(t, err, "without a renderer the empty page is left to the caller")
	assert.Empty(t, snapshot)
}
