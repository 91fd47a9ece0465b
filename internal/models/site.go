package models

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// API key prefixes. Public keys are shown to browsers; secret keys are
// server-to-server and skip origin validation.
const (
	PublicKeyPrefix = "tk_pub_"
	SecretKeyPrefix = "tk_sec_"
)

// Site is one tenant. Persisted as a JSON blob at site:{id}:config.
type Site struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Domain       string       `json:"domain"`
	APIKeyPublic string       `json:"api_key_public"`
	APIKeySecret string       `json:"api_key_secret"`
	Settings     SiteSettings `json:"settings"`
	CreatedAt    int64        `json:"created_at"`
}

// SiteSettings carries per-tenant policy knobs.
type SiteSettings struct {
	ModerationMode  ModerationMode `json:"moderation_mode"`
	AuthMethods     []string       `json:"auth_methods"`
	AllowedOrigins  []string       `json:"allowed_origins"`
	AllowAnonymous  bool           `json:"allow_anonymous"`
	PostingDisabled bool           `json:"posting_disabled"`
	TurnstileMode   TurnstileMode  `json:"turnstile_mode"`
	RateLimits      RateLimits     `json:"rate_limits,omitempty"`
	MaxCommentLen   int            `json:"max_comment_len,omitempty"`
}

// RateLimits overrides the process-wide sliding-window defaults for one
// site. Zero values mean "use the default".
type RateLimits struct {
	CommentsPerMinute int `json:"comments_per_minute,omitempty"`
	VotesPerMinute    int `json:"votes_per_minute,omitempty"`
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
}

// NewSite creates a site with freshly minted API keys and default settings.
func NewSite(name, domain string) *Site {
	return &Site{
		ID:           uuid.NewString(),
		Name:         name,
		Domain:       domain,
		APIKeyPublic: newAPIKey(PublicKeyPrefix),
		APIKeySecret: newAPIKey(SecretKeyPrefix),
		Settings: SiteSettings{
			ModerationMode: ModerationNone,
			AuthMethods:    []string{"password", "email_otp"},
			AllowAnonymous: false,
			TurnstileMode:  TurnstileOff,
		},
		CreatedAt: time.Now().UnixMilli(),
	}
}

func newAPIKey(prefix string) string {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is unusable anyway
		panic(err)
	}
	return prefix + hex.EncodeToString(buf)
}

// IsSecretKey reports whether the given API key is a secret key.
func IsSecretKey(key string) bool {
	return strings.HasPrefix(key, SecretKeyPrefix)
}

// IsPublicKey reports whether the given API key is a public key.
func IsPublicKey(key string) bool {
	return strings.HasPrefix(key, PublicKeyPrefix)
}

// EffectiveMaxCommentLen returns the site override or the given default.
func (s *Site) EffectiveMaxCommentLen(def int) int {
	if s.Settings.MaxCommentLen > 0 {
		return s.Settings.MaxCommentLen
	}
	return def
}

// OriginAllowed checks an Origin header against the site's allow list.
// An empty allow list admits only the site's own domain.
func (s *Site) OriginAllowed(origin string, allowLocalhost bool) bool {
	if origin == "" {
		return true // non-browser client
	}
	if allowLocalhost && isLocalhostOrigin(origin) {
		return true
	}
	if len(s.Settings.AllowedOrigins) == 0 {
		return originMatchesDomain(origin, s.Domain)
	}
	for _, allowed := range s.Settings.AllowedOrigins {
		if allowed == "*" || allowed == origin || originMatchesDomain(origin, allowed) {
			return true
		}
	}
	return false
}

func isLocalhostOrigin(origin string) bool {
	host := stripScheme(origin)
	for _, name := range []string{"localhost", "127.0.0.1", "[::1]"} {
		if host == name || strings.HasPrefix(host, name+":") {
			return true
		}
	}
	return false
}

func originMatchesDomain(origin, domain string) bool {
	if domain == "" {
		return false
	}
	host := stripScheme(origin)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host == stripScheme(domain)
}

func stripScheme(s string) string {
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	return s
}
