// Package password resolves the account password through a provider chain:
// an explicit parameter wins, then the system keyring, then an interactive
// console prompt. A password that authenticates successfully is written
// back to the keyring so later runs stay non-interactive.
package password

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService namespaces our entries in the system keyring.
const keyringService = "icloud-go"

// ErrNoPassword means every provider in the chain came up empty.
var ErrNoPassword = errors.New("password: no password available")

// Options select which providers participate.
type Options struct {
	// Parameter is a password given directly via flag or environment.
	Parameter string

	// Account keys the keyring entry and the console prompt.
	Account string

	// UseKeyring enables keyring lookup and confirmed-password writeback.
	UseKeyring bool

	// NonInteractive disables the console prompt for unattended hosts.
	NonInteractive bool
}

// Chain is the resolved provider sequence.
type Chain struct {
	opts   Options
	logger *slog.Logger

	// Injectable for tests; default to the real terminal and stdin.
	readSecret func() (string, error)
	stdin      io.Reader
	isTerminal func() bool
}

// NewChain builds the provider chain for one account.
func NewChain(opts Options, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}

	return &Chain{
		opts:   opts,
		logger: logger,
		readSecret: func() (string, error) {
			data, err := term.ReadPassword(int(os.Stdin.Fd()))
			return string(data), err
		},
		stdin:      os.Stdin,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
	}
}

// Password walks the chain and returns the first hit.
func (c *Chain) Password(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if c.opts.Parameter != "" {
		return c.opts.Parameter, nil
	}

	if c.opts.UseKeyring {
		secret, err := keyring.Get(keyringService, c.opts.Account)

		switch {
		case err == nil && secret != "":
			c.logger.Debug("password loaded from keyring",
				slog.String("account", c.opts.Account),
			)

			return secret, nil
		case err != nil && !errors.Is(err, keyring.ErrNotFound):
			c.logger.Warn("keyring lookup failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if c.opts.NonInteractive {
		return "", ErrNoPassword
	}

	return c.prompt()
}

// prompt reads the password from the console. A real terminal gets a hidden
// prompt; piped stdin reads one line so scripts can feed the password.
func (c *Chain) prompt() (string, error) {
	fmt.Fprintf(os.Stderr, "Enter iCloud password for %s: ", c.opts.Account)

	if c.isTerminal() {
		secret, err := c.readSecret()
		fmt.Fprintln(os.Stderr)

		if err != nil {
			return "", fmt.Errorf("password: reading from terminal: %w", err)
		}

		if secret == "" {
			return "", ErrNoPassword
		}

		return secret, nil
	}

	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("password: reading from stdin: %w", err)
	}

	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		return "", ErrNoPassword
	}

	return secret, nil
}

// Confirmed stores a password that authenticated successfully. Keyring
// failures are logged, not fatal: the sync already has what it needs.
func (c *Chain) Confirmed(password string) {
	if !c.opts.UseKeyring || password == "" {
		return
	}

	if err := keyring.Set(keyringService, c.opts.Account, password); err != nil {
		c.logger.Warn("could not store password in keyring",
			slog.String("error", err.Error()),
		)

		return
	}

	c.logger.Info("password stored in keyring",
		slog.String("account", c.opts.Account),
	)
}

// Delete removes the stored password, for explicit logout.
func (c *Chain) Delete() error {
	err := keyring.Delete(keyringService, c.opts.Account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("password: deleting keyring entry: %w", err)
	}

	return nil
}
