package session

import (
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSanitizeAccountName(t *testing.T) {
	assert.Equal(t, "userexamplecom", SanitizeAccountName("user@example.com"))
	assert.Equal(t, "john_doe42", SanitizeAccountName("john_doe42"))
	assert.Equal(t, "", SanitizeAccountName("@.+-"))
}

func TestStorePaths(t *testing.T) {
	st, err := NewStore(t.TempDir(), "user@example.com", testLogger())
	require.NoError(t, err)

	assert.Equal(t, "userexamplecom.session", filepath.Base(st.SessionPath()))
	assert.Equal(t, "userexamplecom", filepath.Base(st.CookiePath()))
}

func TestStoreLoadMissingFilesReturnsEmpty(t *testing.T) {
	st, err := NewStore(t.TempDir(), "user@example.com", testLogger())
	require.NoError(t, err)

	sess, jar := st.Load()
	require.NotNil(t, sess)
	require.NotNil(t, jar)
	assert.Empty(t, sess.SessionToken)
	assert.Zero(t, jar.Len())
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, "user@example.com", testLogger())
	require.NoError(t, err)

	sess := &Session{
		AccountCountry: "USA",
		SessionID:      "sid-1",
		SessionToken:   "token-1",
		TrustToken:     "trust-1",
		Scnt:           "scnt-1",
		ClientID:       "auth-abc",
	}

	require.NoError(t, st.Save(sess, NewJar()))

	loaded, _ := st.Load()
	assert.Equal(t, sess, loaded)
}

func TestStoreSaveLoadSaveIsByteIdentical(t *testing.T) {
	st, err := NewStore(t.TempDir(), "user@example.com", testLogger())
	require.NoError(t, err)

	sess := &Session{SessionToken: "tok", ClientID: "auth-1"}
	require.NoError(t, st.Save(sess, nil))

	first, err := os.ReadFile(st.SessionPath())
	require.NoError(t, err)

	loaded, _ := st.Load()
	require.NoError(t, st.Save(loaded, nil))

	second, err := os.ReadFile(st.SessionPath())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStoreSessionFilePermissions(t *testing.T) {
	st, err := NewStore(t.TempDir(), "user@example.com", testLogger())
	require.NoError(t, err)

	require.NoError(t, st.Save(&Session{SessionToken: "tok"}, nil))

	info, err := os.Stat(st.SessionPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestStoreLoadCorruptSessionFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, "user@example.com", testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(st.SessionPath(), []byte("{not json"), FilePerms))

	sess, _ := st.Load()
	assert.Empty(t, sess.SessionToken)
}

func TestStoreLoadCorruptCookieJarStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, "user@example.com", testLogger())
	require.NoError(t, err)

	// Simulates a jar written by an earlier version in a different format.
	require.NoError(t, os.WriteFile(st.CookiePath(), []byte("#LWP-Cookies-2.0\n"), FilePerms))

	_, jar := st.Load()
	require.NotNil(t, jar)
	assert.Zero(t, jar.Len())
}

func TestSessionApply(t *testing.T) {
	headers := http.Header{}
	headers.Set("X-Apple-ID-Session-Id", "sid-2")
	headers.Set("X-Apple-Session-Token", "tok-2")
	headers.Set("scnt", "scnt-2")

	sess := &Session{SessionID: "sid-1"}
	changed := sess.Apply(headers.Get)

	assert.True(t, changed)
	assert.Equal(t, "sid-2", sess.SessionID)
	assert.Equal(t, "tok-2", sess.SessionToken)
	assert.Equal(t, "scnt-2", sess.Scnt)
}

func TestSessionApplyNoTrackedHeaders(t *testing.T) {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	sess := &Session{}
	assert.False(t, sess.Apply(headers.Get))
}

func TestJarPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies")

	jar := NewJar()
	u, _ := url.Parse("https://www.icloud.com/")
	jar.SetCookies(u, []*http.Cookie{
		{Name: "X-APPLE-WEBAUTH-TOKEN", Value: "v=2:t=abc", Path: "/", Secure: true},
	})

	require.NoError(t, jar.Persist(path))

	reloaded, err := LoadJar(path)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.Len())

	cookies := reloaded.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "X-APPLE-WEBAUTH-TOKEN", cookies[0].Name)
	assert.Equal(t, "v=2:t=abc", cookies[0].Value)
}

func TestJarPersistIsDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies")

	jar := NewJar()
	u, _ := url.Parse("https://www.icloud.com/")
	jar.SetCookies(u, []*http.Cookie{
		{Name: "b", Value: "2", Path: "/"},
		{Name: "a", Value: "1", Path: "/"},
		{Name: "c", Value: "3", Path: "/"},
	})

	require.NoError(t, jar.Persist(path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, jar.Persist(path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
