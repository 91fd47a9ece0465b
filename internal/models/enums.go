package models

// Role is a user's privilege level within one site. Roles are resolved by
// set membership, not stored on the user record.
type Role int

const (
	RoleBlocked Role = iota
	RoleUser
	RoleModerator
	RoleAdmin
)

// String returns the wire name for the role.
func (r Role) String() string {
	switch r {
	case RoleBlocked:
		return "blocked"
	case RoleModerator:
		return "moderator"
	case RoleAdmin:
		return "admin"
	default:
		return "user"
	}
}

// AtLeast reports whether the role grants at least the given level.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ModerationMode controls what happens to freshly posted comments.
type ModerationMode string

const (
	ModerationNone ModerationMode = "none"
	ModerationPre  ModerationMode = "pre"
	ModerationPost ModerationMode = "post"
)

// Valid reports whether the mode is one of the recognized values.
func (m ModerationMode) Valid() bool {
	return m == ModerationNone || m == ModerationPre || m == ModerationPost
}

// TurnstileMode controls which writers must present a bot-check token.
type TurnstileMode string

const (
	TurnstileOff        TurnstileMode = "none"
	TurnstileAnonymous  TurnstileMode = "anonymous"
	TurnstileUnverified TurnstileMode = "unverified"
	TurnstileAll        TurnstileMode = "all"
)

// VoteDirection is the client-requested vote.
type VoteDirection string

const (
	VoteUp   VoteDirection = "up"
	VoteDown VoteDirection = "down"
)

// Valid reports whether the direction is up or down.
func (v VoteDirection) Valid() bool {
	return v == VoteUp || v == VoteDown
}

// VoteState is the stored per-(user, comment) vote, including "none".
type VoteState string

const (
	VoteNone      VoteState = "none"
	VoteStateUp   VoteState = "up"
	VoteStateDown VoteState = "down"
)

// SortOrder selects the comment ordering for list endpoints.
type SortOrder string

const (
	SortNew SortOrder = "new"
	SortTop SortOrder = "top"
	SortHot SortOrder = "hot"
)

// ParseSortOrder maps a query value onto a SortOrder, defaulting to new.
func ParseSortOrder(s string) SortOrder {
	switch SortOrder(s) {
	case SortTop:
		return SortTop
	case SortHot:
		return SortHot
	default:
		return SortNew
	}
}

// CommentStatus is the moderation status carried in the tree document.
// An empty status means approved (the common case pays no payload cost).
type CommentStatus string

const (
	StatusApproved CommentStatus = ""
	StatusPending  CommentStatus = "pending"
	StatusRejected CommentStatus = "rejected"
)

// AuthProvider identifies how a user identity was established.
type AuthProvider string

const (
	ProviderPassword AuthProvider = "password"
	ProviderEmailOTP AuthProvider = "email_otp"
	ProviderGoogle   AuthProvider = "google"
	ProviderGitHub   AuthProvider = "github"
	ProviderDiscord  AuthProvider = "discord"
	ProviderEthereum AuthProvider = "ethereum"
	ProviderSolana   AuthProvider = "solana"
)
