package kartra

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Cookie is the browser export format (selenium get_cookies).
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HttpOnly bool   `json:"httpOnly,omitempty"`
	Expiry   int64  `json:"expiry,omitempty"`
}

func (c Cookie) http() *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	if out.Path == "" {
		out.Path = "/"
	}
	if c.Expiry > 0 {
		out.Expires = time.Unix(c.Expiry, 0)
	}
	return out
}

func fromHttpCookie(c *http.Cookie) Cookie {
	out := Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	if !c.Expires.IsZero() {
		out.Expiry = c.Expires.Unix()
	}
	return out
}

// LoadCookies reads either a cookie list or a devtools
// {"Request Cookies": {"name": "value"}} export. A missing file is no cookies.
func LoadCookies(path string) ([]Cookie, error) {
	contents, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(contents)) == "" {
		return nil, nil
	}

	var list []Cookie
	err = json.Unmarshal(contents, &list)
	if err == nil {
		return list, nil
	}

	var export struct {
		RequestCookies map[string]string `json:"Request Cookies"`
	}
	exportErr := json.Unmarshal(contents, &export)
	if exportErr != nil {
		return nil, fmt.Errorf("parse cookies %s: %w", path, errors.Join(err, exportErr))
	}
	for name, value := range export.RequestCookies {
		list = append(list, Cookie{Name: name, Value: value})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list, nil
}

func SaveCookies(path string, cookies []Cookie) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return err
	}
	serialized, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, serialized, 0600)
}

// ParseCookieHeader reads a "name=value; other=value" header as copied from
// a browser's request.
func ParseCookieHeader(header string) []Cookie {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "Cookie:")
	header = strings.TrimPrefix(header, "cookie:")

	var out []Cookie
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, Cookie{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return out
}
