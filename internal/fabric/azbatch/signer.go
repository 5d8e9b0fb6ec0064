package azbatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// signer authorises requests with the account Shared Key scheme.
type signer struct {
	account string
	key     []byte
	now     func() time.Time
}

func newSigner(account, key string) (*signer, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("batch account key is not base64: %w", err)
	}
	return &signer{account: account, key: raw, now: time.Now}, nil
}

// sign stamps ocp-date and sets the Authorization header.
func (s *signer) sign(req *http.Request) {
	req.Header.Set("ocp-date", s.now().UTC().Format(http.TimeFormat))
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(s.stringToSign(req)))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	req.Header.Set("Authorization", fmt.Sprintf("SharedKey %s:%s", s.account, sig))
}

func (s *signer) stringToSign(req *http.Request) string {
	h := req.Header
	length := ""
	if req.ContentLength > 0 {
		length = strconv.FormatInt(req.ContentLength, 10)
	}
	// Date stays empty because ocp-date is always sent.
	parts := []string{
		req.Method,
		h.Get("Content-Encoding"),
		h.Get("Content-Language"),
		length,
		h.Get("Content-MD5"),
		h.Get("Content-Type"),
		"",
		h.Get("If-Modified-Since"),
		h.Get("If-Match"),
		h.Get("If-None-Match"),
		h.Get("If-Unmodified-Since"),
		h.Get("Range"),
	}
	return strings.Join(parts, "\n") + "\n" + canonicalHeaders(h) + s.canonicalResource(req)
}

func canonicalHeaders(h http.Header) string {
	var names []string
	for name := range h {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "ocp-") {
			names = append(names, lower)
		}
	}
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.TrimSpace(h.Get(name)))
		b.WriteByte('\n')
	}
	return b.String()
}

func (s *signer) canonicalResource(req *http.Request) string {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(s.account)
	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	query := req.URL.Query()
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := append([]string(nil), query[name]...)
		sort.Strings(values)
		b.WriteByte('\n')
		b.WriteString(strings.ToLower(name))
		b.WriteByte(':')
		b.WriteString(strings.Join(values, ","))
	}
	return b.String()
}
