package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Jar is an http.CookieJar that can be persisted to a JSON file. It wraps
// the standard cookiejar for matching semantics and keeps its own record of
// every cookie it has seen so the jar survives process restarts (the
// standard jar has no export API).
type Jar struct {
	mu      sync.Mutex
	inner   http.CookieJar
	entries map[string]persistedCookie // keyed by domain+path+name
}

// persistedCookie is the on-disk form of a single cookie.
type persistedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// NewJar creates an empty persistent jar.
func NewJar() *Jar {
	inner, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	return &Jar{inner: inner, entries: make(map[string]persistedCookie)}
}

// LoadJar reads a jar previously written by Persist. A missing file yields
// an empty jar; a corrupt file is an error so the caller can log it.
func LoadJar(path string) (*Jar, error) {
	jar := NewJar()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return jar, nil
	}

	if err != nil {
		return nil, fmt.Errorf("session: reading cookie jar %s: %w", path, err)
	}

	var cookies []persistedCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("session: decoding cookie jar %s: %w", path, err)
	}

	now := time.Now()

	for _, pc := range cookies {
		if !pc.Expires.IsZero() && pc.Expires.Before(now) {
			continue
		}

		jar.restore(pc)
	}

	return jar, nil
}

// restore puts a persisted cookie back into the inner jar and the entry map.
func (j *Jar) restore(pc persistedCookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[pc.Domain+";"+pc.Path+";"+pc.Name] = pc

	scheme := "http"
	if pc.Secure {
		scheme = "https"
	}

	u := &url.URL{Scheme: scheme, Host: pc.Domain, Path: pc.Path}
	j.inner.SetCookies(u, []*http.Cookie{{
		Name:     pc.Name,
		Value:    pc.Value,
		Domain:   pc.Domain,
		Path:     pc.Path,
		Expires:  pc.Expires,
		Secure:   pc.Secure,
		HttpOnly: pc.HTTPOnly,
	}})
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()

	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = u.Hostname()
		}

		path := c.Path
		if path == "" {
			path = "/"
		}

		key := domain + ";" + path + ";" + c.Name

		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(j.entries, key)
			continue
		}

		j.entries[key] = persistedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
	}

	j.mu.Unlock()

	j.inner.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

// Persist writes the jar to path atomically with owner-only permissions.
// Session-only cookies (no expiry) are kept deliberately: the vendor's auth
// cookies carry no Expires but must survive between timer-driven runs.
func (j *Jar) Persist(path string) error {
	j.mu.Lock()

	keys := make([]string, 0, len(j.entries))
	for k := range j.entries {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	cookies := make([]persistedCookie, 0, len(keys))
	for _, k := range keys {
		cookies = append(cookies, j.entries[k])
	}

	j.mu.Unlock()

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encoding cookie jar: %w", err)
	}

	return writeFileAtomic(path, data)
}

// Len returns the number of stored cookies, for logging and tests.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	return len(j.entries)
}
