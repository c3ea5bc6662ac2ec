package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FilePerms restricts session and cookie files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the cookie directory.
const DirPerms = 0o700

// Store persists the Session and the cookie jar for one account under a
// cookie directory. One store per account.
type Store struct {
	dir     string
	account string
	logger  *slog.Logger
}

// NewStore creates a store rooted at dir for the given account name.
// The directory is created with owner-only permissions if missing.
func NewStore(dir, account string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return nil, fmt.Errorf("session: creating cookie directory %s: %w", dir, err)
	}

	return &Store{dir: dir, account: account, logger: logger}, nil
}

// SessionPath returns the path of the session JSON file.
func (st *Store) SessionPath() string {
	return filepath.Join(st.dir, SanitizeAccountName(st.account)+".session")
}

// CookiePath returns the path of the cookie jar file.
func (st *Store) CookiePath() string {
	return filepath.Join(st.dir, SanitizeAccountName(st.account))
}

// Load reads the session file and cookie jar from disk. A missing or
// unparseable file yields an empty session or jar rather than an error so
// that migration from older formats degrades to a fresh login.
func (st *Store) Load() (*Session, *Jar) {
	sess := &Session{}

	data, err := os.ReadFile(st.SessionPath())

	switch {
	case errors.Is(err, fs.ErrNotExist):
		st.logger.Debug("session file does not exist", slog.String("path", st.SessionPath()))
	case err != nil:
		st.logger.Warn("failed to read session file, starting empty",
			slog.String("path", st.SessionPath()),
			slog.String("error", err.Error()),
		)
	default:
		if jsonErr := json.Unmarshal(data, sess); jsonErr != nil {
			st.logger.Warn("failed to parse session file, starting empty",
				slog.String("path", st.SessionPath()),
				slog.String("error", jsonErr.Error()),
			)

			sess = &Session{}
		}
	}

	jar, err := LoadJar(st.CookiePath())
	if err != nil {
		// Most likely a jar written by an earlier version. It will be
		// replaced after the next successful authentication.
		st.logger.Warn("failed to read cookie jar, starting empty",
			slog.String("path", st.CookiePath()),
			slog.String("error", err.Error()),
		)

		jar = NewJar()
	}

	return sess, jar
}

// Save atomically persists the session and the cookie jar. Called by the
// transport after every response that carries a tracked header.
func (st *Store) Save(sess *Session, jar *Jar) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding session: %w", err)
	}

	if err := writeFileAtomic(st.SessionPath(), data); err != nil {
		return fmt.Errorf("session: writing session file: %w", err)
	}

	if jar != nil {
		if err := jar.Persist(st.CookiePath()); err != nil {
			return fmt.Errorf("session: writing cookie jar: %w", err)
		}
	}

	st.logger.Debug("saved session data", slog.String("path", st.SessionPath()))

	return nil
}

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by rename, so a crash never leaves a partial file at path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close
	// and rename cannot leave an empty session file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	success = true

	return nil
}
