package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/icloud-go/internal/icloud"
	"github.com/tonimelisma/icloud-go/internal/syncer"
)

// mfaDeadline bounds how long an unattended host waits for a code before
// giving up the pass; the watch loop retries on the next interval.
const mfaDeadline = 10 * time.Minute

// consolePrompt asks for MFA input on the terminal.
type consolePrompt struct {
	in     io.Reader
	logger *slog.Logger
}

func newConsolePrompt(logger *slog.Logger) *consolePrompt {
	return &consolePrompt{in: os.Stdin, logger: logger}
}

// ChooseMethod offers SMS delivery when trusted phones exist; entering
// nothing keeps the default trusted-device code.
func (p *consolePrompt) ChooseMethod(ctx context.Context, phones []icloud.TrustedPhone) (*icloud.TrustedPhone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(phones) == 0 {
		return nil, nil
	}

	fmt.Fprintln(os.Stderr, "Security code delivery:")
	fmt.Fprintln(os.Stderr, "  0: code showing on a trusted device")

	for i, phone := range phones {
		fmt.Fprintf(os.Stderr, "  %d: SMS to %s\n", i+1, phone.ObfuscatedNumber)
	}

	fmt.Fprint(os.Stderr, "Choice [0]: ")

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && strings.TrimSpace(line) == "" && err != io.EOF {
		return nil, fmt.Errorf("reading delivery choice: %w", err)
	}

	choice := strings.TrimSpace(line)
	if choice == "" || choice == "0" {
		return nil, nil
	}

	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(phones) {
		return nil, fmt.Errorf("invalid delivery choice %q", choice)
	}

	return &phones[n-1], nil
}

// SecurityCode reads the six-digit code from the terminal.
func (p *consolePrompt) SecurityCode(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprint(os.Stderr, "Enter two-factor authentication code: ")

	line, err := bufio.NewReader(p.in).ReadString('\n')

	code := strings.TrimSpace(line)
	if code == "" {
		if err != nil {
			return "", fmt.Errorf("reading security code: %w", err)
		}

		return "", fmt.Errorf("empty security code")
	}

	return code, nil
}

// exchangePrompt sources MFA codes from the status exchange, fed by the web
// UI or another controller. Trusted-device delivery only: nobody is at a
// terminal to pick a phone.
type exchangePrompt struct {
	exchange *syncer.StatusExchange
	logger   *slog.Logger
}

func newExchangePrompt(exchange *syncer.StatusExchange, logger *slog.Logger) *exchangePrompt {
	return &exchangePrompt{exchange: exchange, logger: logger}
}

func (p *exchangePrompt) ChooseMethod(ctx context.Context, _ []icloud.TrustedPhone) (*icloud.TrustedPhone, error) {
	return nil, ctx.Err()
}

func (p *exchangePrompt) SecurityCode(ctx context.Context) (string, error) {
	// Being asked again means the previous code was rejected.
	if p.exchange.Status() == syncer.StatusCheckingMFA {
		p.exchange.CodeChecked(false, "security code rejected")
	}

	p.logger.Info("waiting for security code via control plane")

	return p.exchange.WaitCode(ctx, time.Second, mfaDeadline)
}
