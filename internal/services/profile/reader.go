// Package profile recovers the current values of the profile edit form.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/steamanim/internal/interfaces"
	"github.com/ternarybob/steamanim/internal/models"
)

// EditPath returns the profile edit page for a session.
func EditPath(session *models.SessionHandle) string {
	return fmt.Sprintf("/profiles/%s/edit/info", session.SteamID)
}

// Reader fetches the edit page and extracts the form fields.
type Reader struct {
	fetcher  interfaces.DocumentFetcher
	renderer interfaces.PageRenderer
	logger   arbor.ILogger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithRenderer adds a browser fallback for pages whose fields only exist
// once scripts have run.
func WithRenderer(renderer interfaces.PageRenderer) ReaderOption {
	return func(r *Reader) {
		r.renderer = renderer
	}
}

// NewReader creates a snapshot reader.
func NewReader(fetcher interfaces.DocumentFetcher, logger arbor.ILogger, opts ...ReaderOption) *Reader {
	r := &Reader{
		fetcher: fetcher,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read issues one fetch of the edit page and returns the field values.
// When the static page has neither the form nor the embedded config and a
// renderer is set, the page is rendered once and parsed again. A page
// without fields yields an empty snapshot and no error; the caller decides
// whether that is acceptable.
func (r *Reader) Read(ctx context.Context, session *models.SessionHandle) (models.FieldSnapshot, error) {
	body, err := r.fetcher.Fetch(ctx, session, EditPath(session))
	if err != nil {
		if models.KindOf(err) == models.KindUnknown {
			return nil, models.NewError(models.KindFetch, "failed to fetch profile edit page", err)
		}
		return nil, err
	}

	snapshot, source, err := Parse(body)
	if err != nil {
		return nil, models.NewError(models.KindFetch, "failed to parse profile edit page", err)
	}

	if source == "none" && r.renderer != nil {
		r.logger.Info().Msg("Edit page has no fields, rendering it in a browser")
		snapshot, source, err = r.render(ctx, session)
		if err != nil {
			return nil, err
		}
	}

	r.logger.Info().
		Int("fields", len(snapshot)).
		Str("source", source).
		Strs("names", snapshot.Names()).
		Msg("Read profile fields")

	return snapshot, nil
}

func (r *Reader) render(ctx context.Context, session *models.SessionHandle) (models.FieldSnapshot, string, error) {
	body, err := r.renderer.Render(ctx, session, EditPath(session))
	if err != nil {
		if models.KindOf(err) == models.KindUnknown {
			return nil, "", models.NewError(models.KindFetch, "failed to render profile edit page", err)
		}
		return nil, "", err
	}

	snapshot, source, err := Parse(body)
	if err != nil {
		return nil, "", models.NewError(models.KindFetch, "failed to parse rendered profile edit page", err)
	}
	return snapshot, "rendered " + source, nil
}

// Parse extracts the form fields from an edit page. source reports which
// representation was found: "form", "config" or "none".
func Parse(body []byte) (snapshot models.FieldSnapshot, source string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	form := doc.Find("form#editForm")
	if form.Length() > 0 {
		return formFields(form), "form", nil
	}

	// The React edit page embeds the values as JSON instead of a form
	if raw, ok := doc.Find("#profile_edit_config").Attr("data-profile-edit"); ok {
		snapshot, err := configFields(raw)
		if err != nil {
			return nil, "", err
		}
		return snapshot, "config", nil
	}

	return models.FieldSnapshot{}, "none", nil
}

// formFields maps every named control to its current value. Later controls
// with the same name win.
func formFields(form *goquery.Selection) models.FieldSnapshot {
	snapshot := models.FieldSnapshot{}

	form.Find("input, select, textarea").Each(func(i int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}

		switch goquery.NodeName(s) {
		case "textarea":
			snapshot[name] = s.Text()
		case "select":
			snapshot[name] = selectValue(s)
		default:
			inputType := strings.ToLower(s.AttrOr("type", "text"))
			if inputType == "checkbox" || inputType == "radio" {
				if _, checked := s.Attr("checked"); !checked {
					return
				}
			}
			snapshot[name] = s.AttrOr("value", "")
		}
	})

	return snapshot
}

// selectValue returns the selected option's value, or the first option's
// when none is marked.
func selectValue(s *goquery.Selection) string {
	option := s.Find("option[selected]").First()
	if option.Length() == 0 {
		option = s.Find("option").First()
	}
	if option.Length() == 0 {
		return ""
	}
	if v, ok := option.Attr("value"); ok {
		return v
	}
	return strings.TrimSpace(option.Text())
}

type editConfig struct {
	PersonaName  string `json:"strPersonaName"`
	RealName     string `json:"strRealName"`
	Summary      string `json:"strSummary"`
	CustomURL    string `json:"strCustomURL"`
	LocationData struct {
		Country flexString `json:"locCountryCode"`
		State   flexString `json:"locStateCode"`
		City    flexString `json:"locCityCode"`
	} `json:"LocationData"`
}

// flexString accepts a JSON string or number; city codes are numeric.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// configFields maps the embedded JSON onto the names the edit endpoint accepts.
func configFields(raw string) (models.FieldSnapshot, error) {
	var cfg editConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode profile edit config: %w", err)
	}

	return models.FieldSnapshot{
		"personaName": cfg.PersonaName,
		"real_name":   cfg.RealName,
		"summary":     cfg.Summary,
		"customURL":   cfg.CustomURL,
		"country":     string(cfg.LocationData.Country),
		"state":       string(cfg.LocationData.State),
		"city":        string(cfg.LocationData.City),
	}, nil
}
