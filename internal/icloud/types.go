package icloud

import "fmt"

// AccountInfo is the accountLogin / validate response body. Only the fields
// the login state machine and service discovery need are modeled.
type AccountInfo struct {
	DsInfo               DsInfo                `json:"dsInfo"`
	HsaChallengeRequired bool                  `json:"hsaChallengeRequired"`
	HsaTrustedBrowser    bool                  `json:"hsaTrustedBrowser"`
	Webservices          map[string]Webservice `json:"webservices"`
}

// DsInfo is the directory-services block of an account response.
type DsInfo struct {
	Dsid                      string `json:"dsid"`
	HsaVersion                int    `json:"hsaVersion"`
	HasICloudQualifyingDevice bool   `json:"hasICloudQualifyingDevice"`
	AppleID                   string `json:"appleId"`
	FullName                  string `json:"fullName"`
}

// Webservice is one entry of the per-session service catalog.
type Webservice struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Requires2FA reports whether the session still needs an interactive
// six-digit code from a trusted device.
func (a *AccountInfo) Requires2FA() bool {
	return a.DsInfo.HsaVersion == 2 &&
		(a.HsaChallengeRequired || !a.HsaTrustedBrowser) &&
		a.DsInfo.HasICloudQualifyingDevice
}

// Requires2SA reports whether the legacy two-step flow applies: the account
// has security version 1, or version 2 without a qualifying device.
func (a *AccountInfo) Requires2SA() bool {
	if a.Requires2FA() {
		return false
	}

	return a.DsInfo.HsaVersion >= 1 && (a.HsaChallengeRequired || !a.HsaTrustedBrowser)
}

// WebserviceURL resolves a service name ("ckdatabasews", "photosupload")
// from the session catalog.
func (a *AccountInfo) WebserviceURL(name string) (string, error) {
	ws, ok := a.Webservices[name]
	if !ok || ws.URL == "" {
		return "", fmt.Errorf("icloud: webservice %q not part of session catalog", name)
	}

	return ws.URL, nil
}
