package icloud

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

// PasswordFunc supplies the account password on demand. It is only called
// when a full login is needed; token validation alone never asks.
type PasswordFunc func(ctx context.Context) (string, error)

// Authenticator drives the login state machine: validate an existing
// session token, fall back to an SRP password proof (or the legacy raw
// password endpoint), exchange the resulting token for a service catalog,
// and clear MFA challenges when the trust token has expired.
type Authenticator struct {
	client   *Client
	account  string
	password PasswordFunc
	prompt   MFAPrompt
	logger   *slog.Logger
}

// NewAuthenticator wires an authenticator to its transport. prompt may be
// nil for unattended runs; an MFA challenge then fails with ErrMFARequired.
func NewAuthenticator(client *Client, account string, password PasswordFunc, prompt MFAPrompt, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Authenticator{
		client:   client,
		account:  account,
		password: password,
		prompt:   prompt,
		logger:   logger,
	}
}

// Authenticate establishes an authenticated session and returns the account
// envelope with the per-session webservice catalog. With forceRefresh the
// cached session token is ignored and a full password login is performed.
func (a *Authenticator) Authenticate(ctx context.Context, forceRefresh bool) (*AccountInfo, error) {
	sess := a.client.Session()

	if sess.SessionToken != "" && !forceRefresh {
		info, err := a.validateToken(ctx)
		if err == nil {
			a.logger.Debug("session token still valid", slog.String("account", a.account))
			return info, nil
		}

		a.logger.Debug("session token rejected, performing full login",
			slog.String("error", err.Error()),
		)
	}

	if err := a.login(ctx); err != nil {
		return nil, err
	}

	info, err := a.tokenExchange(ctx)
	if err != nil {
		return nil, err
	}

	if info.Requires2FA() {
		a.logger.Info("two-factor authentication required", slog.String("account", a.account))

		if err := a.resolve2FA(ctx); err != nil {
			return nil, err
		}

		// The trust call invalidates the catalog; exchange again.
		info, err = a.tokenExchange(ctx)
		if err != nil {
			return nil, err
		}
	} else if info.Requires2SA() {
		a.logger.Info("two-step authentication required", slog.String("account", a.account))

		if err := a.resolve2SA(ctx); err != nil {
			return nil, err
		}

		info, err = a.tokenExchange(ctx)
		if err != nil {
			return nil, err
		}
	}

	a.logger.Info("authentication completed", slog.String("account", a.account))

	return info, nil
}

// validateToken asks the setup endpoint whether the persisted session token
// is still good. The body is the literal string "null".
func (a *Authenticator) validateToken(ctx context.Context) (*AccountInfo, error) {
	resp, err := a.client.Do(ctx, request{
		method:  http.MethodPost,
		url:     a.client.Endpoints().Setup + "/validate",
		rawBody: []byte("null"),
	})
	if err != nil {
		return nil, err
	}

	var info AccountInfo
	if err := resp.JSON(&info); err != nil {
		return nil, err
	}

	return &info, nil
}

// login obtains a fresh session token via SRP, falling back to the legacy
// raw-password endpoint when the SRP handshake itself fails. Terminal
// classifications (bad password, wrong domain) and transport failures are
// not retried on the fallback path.
func (a *Authenticator) login(ctx context.Context) error {
	if a.password == nil {
		return errors.New("icloud: no password source configured")
	}

	password, err := a.password(ctx)
	if err != nil {
		return fmt.Errorf("icloud: obtaining password: %w", err)
	}

	err = a.srpLogin(ctx, password)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrFailedLogin) || errors.Is(err, ErrMFARequired) || IsConnectionError(err) {
		return err
	}

	a.logger.Warn("srp login failed, retrying with legacy endpoint",
		slog.String("error", err.Error()),
	)

	return a.rawLogin(ctx, password)
}

// srpInitResponse is the server half of the SRP handshake.
type srpInitResponse struct {
	Iteration int    `json:"iteration"`
	Salt      string `json:"salt"`
	B         string `json:"b"`
	C         string `json:"c"`
	Protocol  string `json:"protocol"`
}

// srpLogin performs the two-request SRP-6a password proof.
func (a *Authenticator) srpLogin(ctx context.Context, password string) error {
	srp, err := newSRPClient()
	if err != nil {
		return err
	}

	initResp, err := a.client.Do(ctx, request{
		method:  http.MethodPost,
		url:     a.client.Endpoints().Auth + "/signin/init",
		headers: a.client.AuthHeaders(nil),
		body: map[string]any{
			"a":           base64.StdEncoding.EncodeToString(srp.PublicKey()),
			"accountName": a.account,
			"protocols":   []string{"s2k", "s2k_fo"},
		},
	})
	if err != nil {
		return fmt.Errorf("icloud: srp handshake init: %w", err)
	}

	var init srpInitResponse
	if err := initResp.JSON(&init); err != nil {
		return err
	}

	salt, err := base64.StdEncoding.DecodeString(init.Salt)
	if err != nil {
		return fmt.Errorf("icloud: decoding srp salt: %w", err)
	}

	serverB, err := base64.StdEncoding.DecodeString(init.B)
	if err != nil {
		return fmt.Errorf("icloud: decoding srp ephemeral: %w", err)
	}

	key, err := derivePasswordKey(init.Protocol, password, salt, init.Iteration)
	if err != nil {
		return err
	}

	m1, m2, err := srp.ComputeProofs(a.account, key, salt, serverB)
	if err != nil {
		return err
	}

	sess := a.client.Session()

	trustTokens := []string{}
	if sess.TrustToken != "" {
		trustTokens = append(trustTokens, sess.TrustToken)
	}

	resp, err := a.client.Do(ctx, request{
		method:  http.MethodPost,
		url:     a.client.Endpoints().Auth + "/signin/complete",
		query:   url.Values{"isRememberMeEnabled": {"true"}},
		headers: a.client.AuthHeaders(nil),
		body: map[string]any{
			"accountName": a.account,
			"c":           init.C,
			"m1":          base64.StdEncoding.EncodeToString(m1),
			"m2":          base64.StdEncoding.EncodeToString(m2),
			"rememberMe":  true,
			"trustTokens": trustTokens,
		},
		allow: []int{http.StatusConflict, http.StatusPreconditionFailed},
	})
	if err != nil {
		return classifyLoginError(err)
	}

	return a.finishLogin(ctx, resp.StatusCode)
}

// classifyLoginError maps a signin rejection to ErrFailedLogin. Transport
// faults and already-classified API errors pass through unchanged so that
// a network blip during re-login stays retriable instead of reading as bad
// credentials.
func classifyLoginError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Err == nil {
		return &APIError{Code: apiErr.Code, Reason: "invalid email/password combination", Err: ErrFailedLogin}
	}

	return err
}

// rawLogin posts the password in the clear to the legacy signin endpoint.
func (a *Authenticator) rawLogin(ctx context.Context, password string) error {
	sess := a.client.Session()

	trustTokens := []string{}
	if sess.TrustToken != "" {
		trustTokens = append(trustTokens, sess.TrustToken)
	}

	resp, err := a.client.Do(ctx, request{
		method:  http.MethodPost,
		url:     a.client.Endpoints().Auth + "/signin",
		query:   url.Values{"isRememberMeEnabled": {"true"}},
		headers: a.client.AuthHeaders(nil),
		body: map[string]any{
			"accountName": a.account,
			"password":    password,
			"rememberMe":  true,
			"trustTokens": trustTokens,
		},
		allow: []int{http.StatusConflict, http.StatusPreconditionFailed},
	})
	if err != nil {
		return classifyLoginError(err)
	}

	return a.finishLogin(ctx, resp.StatusCode)
}

// finishLogin handles the shared status semantics of both signin variants.
// 409 means an MFA challenge follows; the session headers needed for it
// were already captured. 412 requires a repair round trip first.
func (a *Authenticator) finishLogin(ctx context.Context, status int) error {
	switch status {
	case http.StatusConflict:
		return nil
	case http.StatusPreconditionFailed:
		return a.repairComplete(ctx)
	default:
		return nil
	}
}

// repairComplete acknowledges an account-repair prompt so that login can
// proceed. Shown by the server to non-2FA accounts it wants upgraded.
func (a *Authenticator) repairComplete(ctx context.Context) error {
	_, err := a.client.Do(ctx, request{
		method:  http.MethodPost,
		url:     a.client.Endpoints().Auth + "/repair/complete",
		headers: a.client.AuthHeaders(nil),
		body:    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("icloud: completing account repair: %w", err)
	}

	return nil
}

// accountLoginResponse adds the redirect marker to the account envelope.
type accountLoginResponse struct {
	AccountInfo
	DomainToUse string `json:"domainToUse"`
}

// tokenExchange trades the auth session token for the per-session service
// catalog. A domainToUse in the response means the account lives on the
// other endpoint group; that is fatal rather than silently retried.
func (a *Authenticator) tokenExchange(ctx context.Context) (*AccountInfo, error) {
	sess := a.client.Session()

	if sess.SessionToken == "" {
		return nil, &APIError{Reason: "login did not produce a session token", Err: ErrFailedLogin}
	}

	body := map[string]any{
		"accountCountryCode": sess.AccountCountry,
		"dsWebAuthToken":     sess.SessionToken,
		"extended_login":     true,
	}

	if sess.TrustToken != "" {
		body["trustToken"] = sess.TrustToken
	}

	resp, err := a.client.Do(ctx, request{
		method: http.MethodPost,
		url:    a.client.Endpoints().Setup + "/accountLogin",
		body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("icloud: exchanging session token: %w", err)
	}

	var login accountLoginResponse
	if err := resp.JSON(&login); err != nil {
		return nil, err
	}

	if login.DomainToUse != "" {
		return nil, &APIError{
			Reason: fmt.Sprintf("account belongs to %s, try the other --domain value", login.DomainToUse),
			Err:    ErrDomainMismatch,
		}
	}

	return &login.AccountInfo, nil
}
