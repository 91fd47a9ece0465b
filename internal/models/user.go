package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is stored as a Redis hash at user:{id}. Field names below mirror
// the hash fields one to one. The password hash lives at a separate key so
// the record can be handed to clients without redaction.
type User struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	AvatarURL     string   `json:"avatar_url,omitempty"`
	Karma         int64    `json:"karma"`
	CreatedAt     int64    `json:"created_at"`
	EmailVerified bool     `json:"email_verified"`
	PhoneVerified bool     `json:"phone_verified"`
	ShadowBanned  bool     `json:"shadow_banned"`
	SocialLinks   []string `json:"social_links,omitempty"`
	TotalComments int64    `json:"total_comments"`
	// Identities lists the provider and wallet index entries pointing at
	// this user (see ProviderIdentity/WalletIdentity); erasure walks it.
	Identities []string `json:"identities,omitempty"`
}

// NewUser mints a user with a UUIDv7 id.
func NewUser(name string) *User {
	idStr := ""
	if id, err := uuid.NewV7(); err != nil {
		idStr = uuid.NewString()
	} else {
		idStr = id.String()
	}
	return &User{
		ID:        idStr,
		Name:      name,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// AddIdentity records a login identity if it is not already present;
// false means it was there before.
func (u *User) AddIdentity(identity string) bool {
	for _, id := range u.Identities {
		if id == identity {
			return false
		}
	}
	u.Identities = append(u.Identities, identity)
	return true
}

// Verified reports whether the user has confirmed an email or phone.
// Turnstile "unverified" mode keys off this.
func (u *User) Verified() bool {
	return u.EmailVerified || u.PhoneVerified
}

// ToHash flattens the user into Redis hash fields.
func (u *User) ToHash() map[string]any {
	h := map[string]any{
		"id":             u.ID,
		"name":           u.Name,
		"karma":          u.Karma,
		"created_at":     u.CreatedAt,
		"email_verified": boolField(u.EmailVerified),
		"phone_verified": boolField(u.PhoneVerified),
		"shadow_banned":  boolField(u.ShadowBanned),
		"total_comments": u.TotalComments,
	}
	if u.Email != "" {
		h["email"] = u.Email
	}
	if u.Phone != "" {
		h["phone"] = u.Phone
	}
	if u.AvatarURL != "" {
		h["avatar_url"] = u.AvatarURL
	}
	if len(u.SocialLinks) > 0 {
		h["social_links"] = strings.Join(u.SocialLinks, "\n")
	}
	if len(u.Identities) > 0 {
		h["identities"] = strings.Join(u.Identities, "\n")
	}
	return h
}

// UserFromHash rebuilds a user from HGETALL output. Returns nil for an
// empty hash (missing user).
func UserFromHash(fields map[string]string) *User {
	if len(fields) == 0 {
		return nil
	}
	u := &User{
		ID:        fields["id"],
		Name:      fields["name"],
		Email:     fields["email"],
		Phone:     fields["phone"],
		AvatarURL: fields["avatar_url"],
	}
	u.Karma, _ = strconv.ParseInt(fields["karma"], 10, 64)
	u.CreatedAt, _ = strconv.ParseInt(fields["created_at"], 10, 64)
	u.TotalComments, _ = strconv.ParseInt(fields["total_comments"], 10, 64)
	u.EmailVerified = fields["email_verified"] == "1"
	u.PhoneVerified = fields["phone_verified"] == "1"
	u.ShadowBanned = fields["shadow_banned"] == "1"
	if links := fields["social_links"]; links != "" {
		u.SocialLinks = strings.Split(links, "\n")
	}
	if ids := fields["identities"]; ids != "" {
		u.Identities = strings.Split(ids, "\n")
	}
	return u
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Session is stored as a Redis hash at session:{sid} with a TTL; deleting
// it revokes every token minted against it.
type Session struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	SiteID    string `json:"site_id"`
	CreatedAt int64  `json:"created_at"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ToHash flattens the session into Redis hash fields.
func (s *Session) ToHash() map[string]any {
	return map[string]any{
		"user_id":    s.UserID,
		"site_id":    s.SiteID,
		"created_at": s.CreatedAt,
		"ip":         s.IP,
		"user_agent": s.UserAgent,
	}
}

// SessionFromHash rebuilds a session; nil for a missing hash.
func SessionFromHash(id string, fields map[string]string) *Session {
	if len(fields) == 0 {
		return nil
	}
	s := &Session{
		ID:        id,
		UserID:    fields["user_id"],
		SiteID:    fields["site_id"],
		IP:        fields["ip"],
		UserAgent: fields["user_agent"],
	}
	s.CreatedAt, _ = strconv.ParseInt(fields["created_at"], 10, 64)
	return s
}

// Report is one abuse report, stored as JSON inside site:{id}:reports.
type Report struct {
	ID         string `json:"id"`
	ReporterID string `json:"reporter_id"`
	PageID     string `json:"page_id"`
	CommentID  string `json:"comment_id"`
	Path       Path   `json:"path"`
	Reason     string `json:"reason"`
	Details    string `json:"details,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}
