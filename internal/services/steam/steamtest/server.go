// Package steamtest runs an in-process stand-in for the Steam login and
// community endpoints.
package steamtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

const (
	DefaultSteamID   = "76561197960287930"
	DefaultGuardData = "guard-data-1"
)

// Server is a lightweight mock of the Steam endpoints used for login and
// profile editing. One URL serves the API, login and community hosts.
type Server struct {
	*httptest.Server

	mu  sync.Mutex
	key *rsa.PrivateKey

	// Account configuration
	AccountName string
	Password    string
	SteamID     string
	GuardData   string // issued after a code is accepted
	EmailDomain string // non-empty switches to e-mail codes
	ValidCode   func(code string) bool
	QRPolls     int // polls before a QR session is approved; the first one rotates the URL

	// Failure injection
	BeginFailures  []int // eresults returned by the next Begin calls
	ExpireAfter    int   // submits accepted before the session is rejected, 0 = never
	OmitForm       bool  // serve the React page with only the JSON config
	ForbidSubmits  bool  // answer every profile submit with 403
	RejectSessions bool  // bounce every community request to the login page

	// Profile state
	Profile url.Values

	// Observations
	BeginCalls  int
	QRCalls     int
	CodeCalls   []string
	Submissions []url.Values
	LastGuard   string
	Rejected    int // submits answered with 403

	sessions map[string]*authSession
	nextID   int
	cookies  map[string]bool
}

type authSession struct {
	requestID string
	approved  bool
	issueNew  bool
	qr        bool
	polls     int
}

// NewServer starts a mock server. Close it with Close.
func NewServer() *Server {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		panic(fmt.Sprintf("steamtest: failed to generate key: %v", err))
	}

	s := &Server{
		key:         key,
		AccountName: "alice",
		Password:    "hunter2",
		SteamID:     DefaultSteamID,
		GuardData:   DefaultGuardData,
		ValidCode:   func(code string) bool { return code != "" },
		QRPolls:     2,
		Profile: url.Values{
			"personaName": {"Alice"},
			"real_name":   {"Alice Example"},
			"summary":     {"hello"},
			"customURL":   {"alice"},
			"country":     {"NZ"},
		},
		sessions: make(map[string]*authSession),
		cookies:  make(map[string]bool),
	}

	mux := http.NewServeMux()

	// Web API
	mux.HandleFunc("GET /IAuthenticationService/GetPasswordRSAPublicKey/v1", s.handleRSAKey)
	mux.HandleFunc("POST /IAuthenticationService/BeginAuthSessionViaCredentials/v1", s.handleBegin)
	mux.HandleFunc("POST /IAuthenticationService/BeginAuthSessionViaQR/v1", s.handleBeginQR)
	mux.HandleFunc("POST /IAuthenticationService/UpdateAuthSessionWithSteamGuardCode/v1", s.handleCode)
	mux.HandleFunc("POST /IAuthenticationService/PollAuthSessionStatus/v1", s.handlePoll)

	// Login host
	mux.HandleFunc("POST /jwt/finalizelogin", s.handleFinalize)
	mux.HandleFunc("POST /login/settoken", s.handleSetToken)

	// Community
	mux.HandleFunc("GET /profiles/{id}/edit/info", s.handleEditPage)
	mux.HandleFunc("POST /profiles/{id}/edit/", s.handleEditSubmit)
	mux.HandleFunc("GET /login/home/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.Server = httptest.NewServer(mux)
	return s
}

// Submitted returns a copy of the recorded profile submissions.
func (s *Server) Submitted() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.Submissions...)
}

// Summaries returns the summary field of every submission, in order.
func (s *Server) Summaries() []string {
	var out []string
	for _, v := range s.Submitted() {
		out = append(out, v.Get("summary"))
	}
	return out
}

// ExpireSessions invalidates every cookie issued so far.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = make(map[string]bool)
}

// FailBegin queues result codes for the next Begin calls.
func (s *Server) FailBegin(eresults ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BeginFailures = append(s.BeginFailures, eresults...)
}

// Codes returns the second-factor codes submitted so far.
func (s *Server) Codes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.CodeCalls...)
}

// Guard returns the guard data sent with the last Begin call.
func (s *Server) Guard() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastGuard
}

// SetForbidSubmits switches ForbidSubmits while the server is in use.
func (s *Server) SetForbidSubmits(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ForbidSubmits = on
}

// Rejections returns how many submits were answered with 403.
func (s *Server) Rejections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rejected
}

// Begins returns how many login sessions were started.
func (s *Server) Begins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.BeginCalls
}

// QRBegins returns how many QR login sessions were started.
func (s *Server) QRBegins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QRCalls
}

func (s *Server) handleRSAKey(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("account_name") == "" {
		respondResult(w, 8)
		return
	}
	respondJSON(w, map[string]interface{}{
		"response": map[string]string{
			"publickey_mod": s.key.N.Text(16),
			"publickey_exp": big.NewInt(int64(s.key.E)).Text(16),
			"timestamp":     "1700000000",
		},
	})
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.BeginCalls++
	if len(s.BeginFailures) > 0 {
		code := s.BeginFailures[0]
		s.BeginFailures = s.BeginFailures[1:]
		respondResult(w, code)
		return
	}

	if r.FormValue("account_name") != s.AccountName || s.decrypt(r.FormValue("encrypted_password")) != s.Password {
		respondResult(w, 5)
		return
	}

	s.nextID++
	clientID := strconv.Itoa(1000 + s.nextID)
	session := &authSession{requestID: base64.StdEncoding.EncodeToString([]byte(clientID))}
	s.sessions[clientID] = session

	guard := r.FormValue("guard_data")
	s.LastGuard = guard

	var confirmations []map[string]interface{}
	switch {
	case guard != "" && guard == s.GuardData:
		session.approved = true
		confirmations = []map[string]interface{}{{"confirmation_type": 1}}
	case s.EmailDomain != "":
		session.issueNew = true
		confirmations = []map[string]interface{}{{"confirmation_type": 2, "associated_message": s.EmailDomain}}
	default:
		session.issueNew = true
		confirmations = []map[string]interface{}{
			{"confirmation_type": 4},
			{"confirmation_type": 3},
		}
	}

	respondJSON(w, map[string]interface{}{
		"response": map[string]interface{}{
			"client_id":             clientID,
			"request_id":            session.requestID,
			"interval":              0.05,
			"allowed_confirmations": confirmations,
			"steamid":               s.SteamID,
		},
	})
}

func (s *Server) handleBeginQR(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.QRCalls++
	if r.FormValue("device_friendly_name") == "" {
		respondResult(w, 8)
		return
	}

	s.nextID++
	clientID := strconv.Itoa(1000 + s.nextID)
	session := &authSession{
		requestID: base64.StdEncoding.EncodeToString([]byte(clientID)),
		issueNew:  true,
		qr:        true,
	}
	s.sessions[clientID] = session

	respondJSON(w, map[string]interface{}{
		"response": map[string]interface{}{
			"client_id":     clientID,
			"request_id":    session.requestID,
			"interval":      0.05,
			"challenge_url": qrURL(clientID, 0),
		},
	})
}

func qrURL(clientID string, version int) string {
	return fmt.Sprintf("https://s.team/q/%d/%s", version, clientID)
}

func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := r.FormValue("code")
	s.CodeCalls = append(s.CodeCalls, code)

	session, ok := s.sessions[r.FormValue("client_id")]
	if !ok || r.FormValue("steamid") != s.SteamID {
		respondResult(w, 8)
		return
	}
	if !s.ValidCode(code) {
		respondResult(w, 88)
		return
	}
	session.approved = true
	respondJSON(w, map[string]interface{}{"response": map[string]interface{}{}})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[r.FormValue("client_id")]
	if !ok || r.FormValue("request_id") != session.requestID {
		respondResult(w, 9)
		return
	}

	resp := map[string]interface{}{}
	if session.qr {
		session.polls++
		if session.polls == 1 {
			resp["new_challenge_url"] = qrURL(r.FormValue("client_id"), 1)
		}
		if session.polls >= s.QRPolls {
			session.approved = true
		}
	}
	if session.approved {
		resp["refresh_token"] = "refresh-" + r.FormValue("client_id")
		if session.qr {
			// QR tokens carry the steam id in the sub claim only
			claims, _ := json.Marshal(map[string]string{"sub": s.SteamID})
			resp["refresh_token"] = "refresh-" + r.FormValue("client_id") + "." +
				base64.RawURLEncoding.EncodeToString(claims) + ".sig"
		}
		resp["access_token"] = "access-" + r.FormValue("client_id")
		resp["account_name"] = s.AccountName
		if session.issueNew {
			resp["new_guard_data"] = s.GuardData
		}
	}
	respondJSON(w, map[string]interface{}{"response": resp})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	nonce := r.FormValue("nonce")
	if !strings.HasPrefix(nonce, "refresh-") || r.FormValue("sessionid") == "" {
		respondJSON(w, map[string]interface{}{"error": 8})
		return
	}
	respondJSON(w, map[string]interface{}{
		"steamID": s.SteamID,
		"redir":   r.FormValue("redir"),
		"transfer_info": []map[string]interface{}{
			{
				"url":    s.URL + "/login/settoken",
				"params": map[string]string{"nonce": nonce, "auth": "transfer-auth"},
			},
		},
	})
}

func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	if r.FormValue("steamID") != s.SteamID || r.FormValue("auth") == "" {
		respondJSON(w, map[string]interface{}{"result": 8})
		return
	}

	s.mu.Lock()
	value := fmt.Sprintf("%s%%7C%%7C%s", s.SteamID, r.FormValue("nonce"))
	s.cookies[value] = true
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "steamLoginSecure", Value: value, Path: "/", HttpOnly: true})
	respondJSON(w, map[string]interface{}{"result": 1})
}

// authorized checks the login cookie against those issued.
func (s *Server) authorized(r *http.Request) bool {
	if s.RejectSessions {
		return false
	}
	c, err := r.Cookie("steamLoginSecure")
	if err != nil {
		return false
	}
	return s.cookies[c.Value]
}

func (s *Server) handleEditPage(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorized(r) {
		http.Redirect(w, r, "/login/home/?goto=", http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if s.OmitForm {
		config := map[string]interface{}{
			"strPersonaName": s.Profile.Get("personaName"),
			"strRealName":    s.Profile.Get("real_name"),
			"strSummary":     s.Profile.Get("summary"),
			"strCustomURL":   s.Profile.Get("customURL"),
			"LocationData": map[string]string{
				"locCountryCode": s.Profile.Get("country"),
			},
		}
		data, _ := json.Marshal(config)
		fmt.Fprintf(w, `<html><body><div id="profile_edit_config" data-profile-edit="%s"></div></body></html>`, html.EscapeString(string(data)))
		return
	}

	var b strings.Builder
	b.WriteString(`<html><body><form id="editForm" method="post">`)
	if sid, err := r.Cookie("sessionid"); err == nil {
		fmt.Fprintf(&b, `<input type="hidden" name="sessionID" value="%s">`, html.EscapeString(sid.Value))
	}
	fmt.Fprintf(&b, `<input type="text" name="personaName" value="%s">`, html.EscapeString(s.Profile.Get("personaName")))
	fmt.Fprintf(&b, `<input type="text" name="real_name" value="%s">`, html.EscapeString(s.Profile.Get("real_name")))
	fmt.Fprintf(&b, `<input type="text" name="customURL" value="%s">`, html.EscapeString(s.Profile.Get("customURL")))
	fmt.Fprintf(&b, `<textarea name="summary">%s</textarea>`, html.EscapeString(s.Profile.Get("summary")))
	b.WriteString(`<select name="country"><option value="">(none)</option>`)
	for _, cc := range []string{"AU", "NZ", "US"} {
		selected := ""
		if cc == s.Profile.Get("country") {
			selected = " selected"
		}
		fmt.Fprintf(&b, `<option value="%s"%s>%s</option>`, cc, selected, cc)
	}
	b.WriteString(`</select><button type="submit">Save</button></form></body></html>`)
	fmt.Fprint(w, b.String())
}

func (s *Server) handleEditSubmit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authorized(r) {
		http.Redirect(w, r, "/login/home/?goto=", http.StatusFound)
		return
	}
	if s.ForbidSubmits {
		s.Rejected++
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sid, err := r.Cookie("sessionid")
	if err != nil || sid.Value != r.PostForm.Get("sessionID") {
		respondJSON(w, map[string]interface{}{"success": 2, "errmsg": "sessionID mismatch"})
		return
	}
	if r.PostForm.Get("type") != "profileSave" {
		respondJSON(w, map[string]interface{}{"success": 8, "errmsg": "unexpected type"})
		return
	}

	s.Submissions = append(s.Submissions, r.PostForm)
	for k, v := range r.PostForm {
		switch k {
		case "sessionID", "type", "json":
		default:
			s.Profile[k] = v
		}
	}

	if s.ExpireAfter > 0 && len(s.Submissions) >= s.ExpireAfter {
		s.cookies = make(map[string]bool)
	}

	respondJSON(w, map[string]interface{}{"success": 1})
}

func (s *Server) decrypt(encoded string) string {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, s.key, ciphertext)
	if err != nil {
		return ""
	}
	return string(plain)
}

func respondResult(w http.ResponseWriter, eresult int) {
	w.Header().Set("X-eresult", strconv.Itoa(eresult))
	respondJSON(w, map[string]interface{}{"response": map[string]interface{}{}})
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}
