package icloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// maxCodeAttempts bounds how many wrong security codes are tolerated before
// the challenge is abandoned.
const maxCodeAttempts = 3

// TrustedPhone is one SMS-capable number on the account.
type TrustedPhone struct {
	ID               int    `json:"id"`
	ObfuscatedNumber string `json:"obfuscatedNumber"`
}

// MFAPrompt supplies security codes during an interactive challenge. The
// console prompt reads stdin; the web UI prompt blocks on its state
// exchange until an external submitter posts a code.
type MFAPrompt interface {
	// ChooseMethod selects how the code is delivered: return one of the
	// offered phones for SMS delivery, or nil to use a code already
	// showing on a trusted device. phones may be empty.
	ChooseMethod(ctx context.Context, phones []TrustedPhone) (*TrustedPhone, error)

	// SecurityCode returns the six-digit code. Called again after a
	// wrong-code response, up to the attempt limit.
	SecurityCode(ctx context.Context) (string, error)
}

// resolve2FA clears a two-factor challenge: pick a delivery method, submit
// codes until one validates, then trust the session so future logins skip
// the challenge.
func (a *Authenticator) resolve2FA(ctx context.Context) error {
	if a.prompt == nil {
		return &APIError{Reason: "two-factor authentication required but no code source configured", Err: ErrMFARequired}
	}

	phones, err := a.TrustedPhones(ctx)
	if err != nil {
		// Device-code entry still works without the phone list.
		a.logger.Warn("could not fetch trusted phone numbers", slog.String("error", err.Error()))
	}

	phone, err := a.prompt.ChooseMethod(ctx, phones)
	if err != nil {
		return fmt.Errorf("icloud: selecting verification method: %w", err)
	}

	if phone != nil {
		if err := a.requestSMSCode(ctx, phone.ID); err != nil {
			return err
		}

		a.logger.Info("verification code sent", slog.String("phone", phone.ObfuscatedNumber))
	}

	for attempt := 1; ; attempt++ {
		code, err := a.prompt.SecurityCode(ctx)
		if err != nil {
			return fmt.Errorf("icloud: obtaining security code: %w", err)
		}

		if phone != nil {
			err = a.validateSMSCode(ctx, phone.ID, code)
		} else {
			err = a.validateDeviceCode(ctx, code)
		}

		if err == nil {
			break
		}

		if !errors.Is(err, ErrMFAWrongCode) || attempt >= maxCodeAttempts {
			return err
		}

		a.logger.Warn("wrong verification code, try again",
			slog.Int("attempt", attempt),
			slog.Int("max", maxCodeAttempts),
		)
	}

	return a.trustSession(ctx)
}

// bootArgs is the fragment of the auth page's embedded JSON we care about.
type bootArgs struct {
	Direct struct {
		TwoSV struct {
			PhoneNumberVerification struct {
				TrustedPhoneNumbers []TrustedPhone `json:"trustedPhoneNumbers"`
			} `json:"phoneNumberVerification"`
		} `json:"twoSV"`
	} `json:"direct"`
}

// TrustedPhones fetches the SMS-capable numbers on the account. The auth
// service exposes them only inside the challenge page's boot_args script
// tag, so the HTML has to be parsed.
func (a *Authenticator) TrustedPhones(ctx context.Context) ([]TrustedPhone, error) {
	resp, err := a.client.Do(ctx, request{
		method:  http.MethodGet,
		url:     a.client.Endpoints().Auth,
		headers: a.client.AuthHeaders(map[string]string{"Accept": "text/html"}),
	})
	if err != nil {
		return nil, fmt.Errorf("icloud: fetching challenge page: %w", err)
	}

	raw, err := extractBootArgs(resp.Body)
	if err != nil {
		return nil, err
	}

	var args bootArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("icloud: decoding boot args: %w", err)
	}

	return args.Direct.TwoSV.PhoneNumberVerification.TrustedPhoneNumbers, nil
}

// extractBootArgs pulls the JSON payload of the <script class="boot_args">
// element out of the challenge page.
func extractBootArgs(page []byte) ([]byte, error) {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil, fmt.Errorf("icloud: parsing challenge page: %w", err)
	}

	var found []byte

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			for _, attr := range n.Attr {
				if attr.Key == "class" && strings.Contains(attr.Val, "boot_args") {
					if n.FirstChild != nil {
						found = []byte(n.FirstChild.Data)
					}

					return
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	walk(doc)

	if found == nil {
		return nil, errors.New("icloud: challenge page carries no boot args")
	}

	return found, nil
}

// requestSMSCode asks the auth service to text a code to the given phone.
func (a *Authenticator) requestSMSCode(ctx context.Context, phoneID int) error {
	_, err := a.client.Do(ctx, request{
		method:  http.MethodPut,
		url:     a.client.Endpoints().Auth + "/verify/phone",
		headers: a.client.AuthHeaders(nil),
		body: map[string]any{
			"phoneNumber": map[string]any{"id": phoneID},
			"mode":        "sms",
		},
	})
	if err != nil {
		return fmt.Errorf("icloud: requesting sms code: %w", err)
	}

	return nil
}

// validateDeviceCode submits a code displayed on a trusted device.
func (a *Authenticator) validateDeviceCode(ctx context.Context, code string) error {
	_, err := a.client.Do(ctx, request{
		method:  http.MethodPost,
		url:     a.client.Endpoints().Auth + "/verify/trusteddevice/securitycode",
		headers: a.client.AuthHeaders(nil),
		body: map[string]any{
			"securityCode": map[string]any{"code": code},
		},
	})

	return wrapCodeError(err)
}

// validateSMSCode submits a code delivered by text message.
func (a *Authenticator) validateSMSCode(ctx context.Context, phoneID int, code string) error {
	_, err := a.client.Do(ctx, request{
		method:  http.MethodPost,
		url:     a.client.Endpoints().Auth + "/verify/phone/securitycode",
		headers: a.client.AuthHeaders(nil),
		body: map[string]any{
			"phoneNumber":  map[string]any{"id": phoneID},
			"securityCode": map[string]any{"code": code},
			"mode":         "sms",
		},
	})

	return wrapCodeError(err)
}

// wrapCodeError maps the rejected-code response onto its sentinel.
func wrapCodeError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == wrongCodeResponseCode {
		return &APIError{Code: apiErr.Code, Reason: "wrong verification code", Err: ErrMFAWrongCode}
	}

	return err
}

// trustSession asks the auth service to mark this client as trusted. The
// response headers carry the trust token, captured into the session by the
// transport.
func (a *Authenticator) trustSession(ctx context.Context) error {
	_, err := a.client.Do(ctx, request{
		method:  http.MethodGet,
		url:     a.client.Endpoints().Auth + "/2sv/trust",
		headers: a.client.AuthHeaders(nil),
	})
	if err != nil {
		return fmt.Errorf("icloud: trusting session: %w", err)
	}

	a.logger.Info("session trusted, future logins will skip the challenge")

	return nil
}

// trustedDevice is one entry of the legacy two-step device list.
type trustedDevice struct {
	DeviceID    int    `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	PhoneNumber string `json:"phoneNumber"`
}

// resolve2SA clears a legacy two-step challenge via the setup endpoints.
func (a *Authenticator) resolve2SA(ctx context.Context) error {
	if a.prompt == nil {
		return &APIError{Reason: "two-step authentication required but no code source configured", Err: ErrMFARequired}
	}

	resp, err := a.client.Do(ctx, request{
		method: http.MethodGet,
		url:    a.client.Endpoints().Setup + "/listDevices",
	})
	if err != nil {
		return fmt.Errorf("icloud: listing trusted devices: %w", err)
	}

	var listing struct {
		Devices []trustedDevice `json:"devices"`
	}
	if err := resp.JSON(&listing); err != nil {
		return err
	}

	if len(listing.Devices) == 0 {
		return &APIError{Reason: "no trusted devices available for two-step verification", Err: ErrMFARequired}
	}

	phones := make([]TrustedPhone, 0, len(listing.Devices))
	for _, d := range listing.Devices {
		phones = append(phones, TrustedPhone{ID: d.DeviceID, ObfuscatedNumber: d.PhoneNumber})
	}

	choice, err := a.prompt.ChooseMethod(ctx, phones)
	if err != nil {
		return fmt.Errorf("icloud: selecting verification device: %w", err)
	}

	device := listing.Devices[0]
	if choice != nil {
		for _, d := range listing.Devices {
			if d.DeviceID == choice.ID {
				device = d
				break
			}
		}
	}

	if _, err := a.client.Do(ctx, request{
		method: http.MethodPost,
		url:    a.client.Endpoints().Setup + "/sendVerificationCode",
		body:   device,
	}); err != nil {
		return fmt.Errorf("icloud: sending verification code: %w", err)
	}

	for attempt := 1; ; attempt++ {
		code, err := a.prompt.SecurityCode(ctx)
		if err != nil {
			return fmt.Errorf("icloud: obtaining verification code: %w", err)
		}

		_, err = a.client.Do(ctx, request{
			method: http.MethodPost,
			url:    a.client.Endpoints().Setup + "/validateVerificationCode",
			body: map[string]any{
				"deviceId":         device.DeviceID,
				"deviceName":       device.DeviceName,
				"phoneNumber":      device.PhoneNumber,
				"verificationCode": code,
				"trustBrowser":     true,
			},
		})

		err = wrapCodeError(err)
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrMFAWrongCode) || attempt >= maxCodeAttempts {
			return err
		}

		a.logger.Warn("wrong verification code, try again", slog.Int("attempt", attempt))
	}
}
