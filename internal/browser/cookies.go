package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cookie is the persisted form of one browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

func (c Cookie) key() string {
	return c.Name + "|" + c.Domain + "|" + c.Path
}

// CookieJar is a JSON array of cookies on disk shared by every session of a
// pool. Saves merge into the stored set, so one session's cookies never wipe
// out another's.
type CookieJar struct {
	path string
	mu   sync.Mutex
}

func NewCookieJar(path string) *CookieJar {
	return &CookieJar{path: path}
}

// Load returns an empty set when the file does not exist yet.
func (j *CookieJar) Load() ([]Cookie, error) {
	if j == nil || j.path == "" {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.read()
}

func (j *CookieJar) read() ([]Cookie, error) {
	b, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var out []Cookie
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode cookie jar: %w", err)
	}
	return out, nil
}

// Save merges cookies into the jar; incoming values win on (name, domain,
// path).
func (j *CookieJar) Save(cookies []Cookie) error {
	if j == nil || j.path == "" {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	existing, err := j.read()
	if err != nil {
		existing = nil
	}
	merged := make([]Cookie, 0, len(existing)+len(cookies))
	idx := make(map[string]int, len(existing)+len(cookies))
	for _, c := range append(existing, cookies...) {
		if i, ok := idx[c.key()]; ok {
			merged[i] = c
			continue
		}
		idx[c.key()] = len(merged)
		merged = append(merged, c)
	}

	b, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return err
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}
