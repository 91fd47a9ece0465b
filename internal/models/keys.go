package models

import (
	"fmt"
	"strings"
	"time"
)

// Redis key schema. Every key the system writes is built here so the
// namespace can be audited in one place.

func KeySiteConfig(siteID string) string  { return "site:" + siteID + ":config" }
func KeyAPIKeySite(apiKey string) string  { return "apikey:" + apiKey + ":site" }
func KeyPageTree(pageID string) string    { return "page:" + pageID + ":tree" }
func KeyPageViews(pageID string) string   { return "page:" + pageID + ":views" }
func KeyPageLock(pageID string) string    { return "lock:page:" + pageID }
func KeyPagePresence(pageID string) string { return "page:" + pageID + ":presence" }
func KeyPageTyping(pageID string) string  { return "page:" + pageID + ":typing" }

func KeyUser(userID string) string         { return "user:" + userID }
func KeyUserPassword(userID string) string { return "user:" + userID + ":password" }
func KeyUserComments(userID string) string { return "user:" + userID + ":comments" }
func KeyUserVotes(userID string) string    { return "user:" + userID + ":votes" }
func KeyUserBlocked(userID string) string  { return "user:" + userID + ":blocked" }
func KeyUserNotifications(userID string) string { return "user:" + userID + ":notifications" }
func KeyUserBlockedBy(userID string) string { return "user:" + userID + ":blocked_by" }

// Identity indexes: value is the user id.
func KeyEmailIndex(email string) string   { return "email:" + email + ":user" }
func KeyPhoneIndex(phone string) string   { return "phone:" + phone + ":user" }
func KeyNameIndex(name string) string     { return "username:" + name + ":user" }
func KeyProviderIndex(provider AuthProvider, providerID string) string {
	return fmt.Sprintf("provider:%s:%s:user", provider, providerID)
}
func KeyWalletIndex(chain, addr string) string { return fmt.Sprintf("wallet:%s:%s:user", chain, addr) }

// Identity strings record on the user hash which provider and wallet
// indexes point at it, so erasure can delete them without a scan.

func ProviderIdentity(provider AuthProvider, providerID string) string {
	return fmt.Sprintf("provider:%s:%s", provider, providerID)
}

func WalletIdentity(chain, addr string) string {
	return fmt.Sprintf("wallet:%s:%s", chain, addr)
}

// IdentityIndexKey maps a recorded identity back to its index key; false
// for identities in no recognized format.
func IdentityIndexKey(identity string) (string, bool) {
	parts := strings.SplitN(identity, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", false
	}
	switch parts[0] {
	case "provider":
		return KeyProviderIndex(AuthProvider(parts[1]), parts[2]), true
	case "wallet":
		return KeyWalletIndex(parts[1], parts[2]), true
	}
	return "", false
}

func KeyVote(userID, commentID string) string { return "vote:" + userID + ":" + commentID }

// CommentPage maps a comment id back to its page so per-user comment sets
// can be walked without knowing the page URL (GDPR erasure needs this).
func KeyCommentPage(commentID string) string { return "comment:" + commentID + ":page" }

func KeySiteAdmins(siteID string) string       { return "site:" + siteID + ":admins" }
func KeySiteModerators(siteID string) string   { return "site:" + siteID + ":moderators" }
func KeySiteBlocked(siteID string) string      { return "site:" + siteID + ":blocked" }
func KeySiteShadowbanned(siteID string) string { return "site:" + siteID + ":shadowbanned" }
func KeySiteLockedPages(siteID string) string  { return "site:" + siteID + ":locked_pages" }
func KeySiteModqueue(siteID string) string     { return "site:" + siteID + ":modqueue" }
func KeySiteReports(siteID string) string      { return "site:" + siteID + ":reports" }

func KeySession(sessionID string) string { return "session:" + sessionID }
func KeyVerify(key string) string        { return "verify:" + key }
func KeyWeb3Nonce(chain, addr string) string { return fmt.Sprintf("web3nonce:%s:%s", chain, addr) }

func KeyRateLimit(scope, id, bucket string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", scope, id, bucket)
}

// Analytics counters, bucketed by hour.
func KeySiteViews(siteID, hourBucket string) string {
	return fmt.Sprintf("analytics:%s:%s:views", siteID, hourBucket)
}
func KeySiteVisitors(siteID, hourBucket string) string {
	return fmt.Sprintf("analytics:%s:%s:visitors", siteID, hourBucket)
}

// HourBucket formats the analytics bucket for a point in time.
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

// EventChannel is the pub/sub channel for one page's domain events.
func EventChannel(pageID string) string { return "threadkit:page:" + pageID + ":events" }

// EventChannelPattern matches every page event channel.
const EventChannelPattern = "threadkit:page:*:events"
