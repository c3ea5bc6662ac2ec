// Package session holds the mutable authentication state for one iCloud
// account: the server-issued tokens captured from response headers and the
// cookie jar. Both are persisted under a per-account directory so that a
// restart (or a crash) never loses a freshly issued trust token.
// This is a leaf package imported by both icloud/ and the CLI to avoid an
// import cycle between the transport and the authenticator.
package session

import "regexp"

// Session is the per-account authentication state. Fields are updated from
// response headers on every request (see HeaderFields) and persisted by the
// transport before the response is handed back to the caller.
type Session struct {
	AccountCountry string `json:"account_country,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	SessionToken   string `json:"session_token,omitempty"`
	TrustToken     string `json:"trust_token,omitempty"`
	TrustEligible  string `json:"trust_eligible,omitempty"`
	Scnt           string `json:"scnt,omitempty"`

	// ClientID is generated once per cookie jar file and stays stable for
	// its lifetime. Format: "auth-<uuid>".
	ClientID string `json:"client_id,omitempty"`
}

// HeaderFields maps tracked response headers to setters on Session. Any
// response carrying one of these headers mutates the session, and the
// mutation must be persisted before the caller observes the response body.
var HeaderFields = map[string]func(*Session, string){
	"X-Apple-ID-Account-Country":   func(s *Session, v string) { s.AccountCountry = v },
	"X-Apple-ID-Session-Id":        func(s *Session, v string) { s.SessionID = v },
	"X-Apple-Session-Token":        func(s *Session, v string) { s.SessionToken = v },
	"X-Apple-TwoSV-Trust-Token":    func(s *Session, v string) { s.TrustToken = v },
	"X-Apple-TwoSV-Trust-Eligible": func(s *Session, v string) { s.TrustEligible = v },
	"scnt":                         func(s *Session, v string) { s.Scnt = v },
}

// Apply copies any tracked header present in h into the session.
// Returns true if at least one field changed.
func (s *Session) Apply(get func(string) string) bool {
	changed := false

	for header, set := range HeaderFields {
		if v := get(header); v != "" {
			set(s, v)

			changed = true
		}
	}

	return changed
}

var nonWord = regexp.MustCompile(`[^0-9A-Za-z_]`)

// SanitizeAccountName strips every non-word character from an account name
// so it can be used as a filename ("user@example.com" -> "userexamplecom").
func SanitizeAccountName(account string) string {
	return nonWord.ReplaceAllString(account, "")
}
