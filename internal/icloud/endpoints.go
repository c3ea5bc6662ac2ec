package icloud

import "fmt"

// Endpoints is one endpoint group. All API base URLs except the per-session
// webservices map are derived from it.
type Endpoints struct {
	Auth  string // SRP and MFA endpoints
	Home  string // Origin/Referer for browser impersonation
	Setup string // account setup: accountLogin, validate, 2SA
}

// EndpointsForDomain returns the endpoint group for a top-level domain,
// "com" (global) or "cn" (mainland China).
func EndpointsForDomain(domain string) (Endpoints, error) {
	switch domain {
	case "com":
		return Endpoints{
			Auth:  "https://idmsa.apple.com/appleauth/auth",
			Home:  "https://www.icloud.com",
			Setup: "https://setup.icloud.com/setup/ws/1",
		}, nil
	case "cn":
		return Endpoints{
			Auth:  "https://idmsa.apple.com.cn/appleauth/auth",
			Home:  "https://www.icloud.com.cn",
			Setup: "https://setup.icloud.com.cn/setup/ws/1",
		}, nil
	default:
		return Endpoints{}, fmt.Errorf("icloud: unsupported domain %q (use com or cn)", domain)
	}
}

// oauthClientID doubles as the widget key. It identifies the first-party
// web client the auth endpoints expect to be talking to.
const oauthClientID = "d39ba9916b7251055b22c7f910e2ea796ee65e98b2ddecea8f5dde8d9d1a815d"

// userAgent impersonates a browser; the setup endpoints reject unknown agents.
const userAgent = "Opera/9.52 (X11; Linux i686; U; en)"
