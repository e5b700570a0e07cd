// Package ice validates configured STUN/TURN servers and turns them into
// the list handed to each joining member.
//
// Entries that carry a shared secret get coturn-compatible TURN REST
// credentials:
//
//	username   = <unix_expiry>:<username>:<room>.<member>
//	credential = base64(hmac_sha1(secret, username))
package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/peercall/internal/domain"
)

var ErrMisconfiguredServer = errors.New("misconfigured ice server")

const (
	AuthSecret = "secret"
	DefaultTTL = 24 * time.Hour
)

// ServerEntry is one configured ICE server. Either Credential or
// Auth="secret" with Secret is used for TURN urls.
type ServerEntry struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
	Auth       string   `mapstructure:"auth" json:"auth,omitempty"`
	Secret     string   `mapstructure:"secret" json:"-"`
}

type Options struct {
	TTL time.Duration
}

type Resolver struct {
	entries []ServerEntry
	ttl     time.Duration
}

// NewResolver validates entries once; a bad entry is a startup error.
func NewResolver(entries []ServerEntry, opts Options) (*Resolver, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	out := make([]ServerEntry, 0, len(entries))
	for i, e := range entries {
		e, err := normalize(e)
		if err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, e)
	}
	return &Resolver{entries: out, ttl: opts.TTL}, nil
}

// Resolve returns the servers for member of room, in configured order.
func (r *Resolver) Resolve(room domain.RoomID, member domain.MemberID, now time.Time) []domain.ICEServer {
	out := make([]domain.ICEServer, 0, len(r.entries))
	for _, e := range r.entries {
		srv := domain.ICEServer{
			URLs:       append([]string(nil), e.URLs...),
			Username:   e.Username,
			Credential: e.Credential,
		}
		if e.Auth == AuthSecret {
			expiry := now.UTC().Add(r.ttl).Unix()
			srv.Username = fmt.Sprintf("%d:%s:%s.%s", expiry, stripColons(e.Username), stripColons(string(room)), stripColons(string(member)))
			srv.Credential = Sign(e.Secret, srv.Username)
		}
		out = append(out, srv)
	}
	return out
}

// Sign computes the TURN REST credential for username.
func Sign(secret, username string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func normalize(e ServerEntry) (ServerEntry, error) {
	urls := make([]string, 0, len(e.URLs))
	requiresTurnCreds := false
	for _, raw := range e.URLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if !isAllowedScheme(url) {
			return e, fmt.Errorf("%w: unsupported url scheme %q", ErrMisconfiguredServer, url)
		}
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			requiresTurnCreds = true
		}
		urls = append(urls, url)
	}
	if len(urls) == 0 {
		return e, fmt.Errorf("%w: missing urls", ErrMisconfiguredServer)
	}
	e.URLs = urls
	e.Username = strings.TrimSpace(e.Username)

	switch e.Auth {
	case "":
		if requiresTurnCreds && (e.Username == "" || strings.TrimSpace(e.Credential) == "") {
			return e, fmt.Errorf("%w: turn urls require username and credential", ErrMisconfiguredServer)
		}
	case AuthSecret:
		if e.Secret == "" {
			return e, fmt.Errorf("%w: auth %q requires secret", ErrMisconfiguredServer, AuthSecret)
		}
		e.Credential = ""
	default:
		return e, fmt.Errorf("%w: unknown auth %q", ErrMisconfiguredServer, e.Auth)
	}
	return e, nil
}

func isAllowedScheme(url string) bool {
	switch {
	case strings.HasPrefix(url, "stun:"),
		strings.HasPrefix(url, "stuns:"),
		strings.HasPrefix(url, "turn:"),
		strings.HasPrefix(url, "turns:"):
		return true
	default:
		return false
	}
}

func stripColons(s string) string {
	return strings.ReplaceAll(s, ":", "")
}
