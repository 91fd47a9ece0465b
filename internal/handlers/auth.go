package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/util"
)

// AuthMethods tells the embed which sign-in options this site offers.
func (h *Handlers) AuthMethods(c *gin.Context) {
	site, _ := util.SiteFromContext(c)
	c.JSON(http.StatusOK, gin.H{
		"methods":         site.Settings.AuthMethods,
		"allow_anonymous": site.Settings.AllowAnonymous,
		"turnstile_mode":  site.Settings.TurnstileMode,
	})
}

func (h *Handlers) issueSession(c *gin.Context, user *models.User) {
	site, _ := util.SiteFromContext(c)
	token, _, err := h.Auth.CreateSession(c.Request.Context(), user, site.ID, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

type sendOTPRequest struct {
	Email string `json:"email" binding:"required"`
}

// SendOTP mails a one-time sign-in code.
func (h *Handlers) SendOTP(c *gin.Context) {
	if h.Mailer == nil {
		util.RespondError(c, apperrors.ServiceUnavailable("email delivery"))
		return
	}
	var req sendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	if err := h.Auth.RequestEmailOTP(c.Request.Context(), req.Email, h.Mailer); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// VerifyOTP redeems a code and signs the user in.
func (h *Handlers) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	user, err := h.Auth.VerifyEmailOTP(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	h.issueSession(c, user)
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Password string `json:"password" binding:"required"`
}

// Register creates a password account and signs it in.
func (h *Handlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	user, err := h.Auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	h.issueSession(c, user)
}

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// Login authenticates by username or email plus password.
func (h *Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body")
		return
	}
	user, err := h.Auth.LoginPassword(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	h.issueSession(c, user)
}

// Refresh extends the caller's session and returns a fresh token.
func (h *Handlers) Refresh(c *gin.Context) {
	sess, ok := util.SessionFromContext(c)
	if !ok {
		util.RespondUnauthorized(c)
		return
	}
	token, err := h.Auth.Refresh(c.Request.Context(), sess)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	user, _ := util.UserFromContext(c)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Logout revokes the caller's session.
func (h *Handlers) Logout(c *gin.Context) {
	sess, ok := util.SessionFromContext(c)
	if !ok {
		util.RespondUnauthorized(c)
		return
	}
	if err := h.Auth.Logout(c.Request.Context(), sess.ID); err != nil {
		util.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}

// Web3Nonce issues a signing challenge for a wallet address.
func (h *Handlers) Web3Nonce(chain string) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.Query("address")
		nonce, message, err := h.Auth.Web3Nonce(c.Request.Context(), chain, addr)
		if err != nil {
			util.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"nonce": nonce, "message": message})
	}
}

type web3VerifyRequest struct {
	Address   string `json:"address" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// Web3Verify redeems a signed challenge and signs the wallet in.
func (h *Handlers) Web3Verify(chain string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req web3VerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			util.RespondBadRequest(c, "invalid request body")
			return
		}
		user, err := h.Auth.Web3Login(c.Request.Context(), chain, req.Address, req.Signature)
		if err != nil {
			util.RespondError(c, err)
			return
		}
		h.issueSession(c, user)
	}
}

func providerFromParam(p string) (models.AuthProvider, bool) {
	switch models.AuthProvider(p) {
	case models.ProviderGoogle, models.ProviderGitHub, models.ProviderDiscord:
		return models.AuthProvider(p), true
	default:
		return "", false
	}
}

// OAuthStart redirects the browser to the provider's consent screen.
func (h *Handlers) OAuthStart(c *gin.Context) {
	provider, ok := providerFromParam(c.Param("provider"))
	if !ok {
		util.RespondBadRequest(c, "unknown provider")
		return
	}
	url, err := h.Auth.OAuthStart(c.Request.Context(), h.OAuth, provider)
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.Redirect(http.StatusTemporaryRedirect, url)
}

// OAuthCallback completes the provider flow. The token is handed to the
// opener window; the embed picks it up with postMessage.
func (h *Handlers) OAuthCallback(c *gin.Context) {
	provider, ok := providerFromParam(c.Param("provider"))
	if !ok {
		util.RespondBadRequest(c, "unknown provider")
		return
	}
	user, err := h.Auth.OAuthCallback(c.Request.Context(), h.OAuth, provider, c.Query("state"), c.Query("code"))
	if err != nil {
		util.RespondError(c, err)
		return
	}

	// Callbacks arrive without a projectid header; sessions minted here
	// are site-agnostic until the embed exchanges them.
	token, _, err := h.Auth.CreateSession(c.Request.Context(), user, "", c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		util.RespondError(c, err)
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, oauthResultPage(token))
}

func oauthResultPage(token string) string {
	return `<!doctype html><html><body><script>
if (window.opener) {
  window.opener.postMessage({type: "threadkit:auth", token: ` + jsString(token) + `}, "*");
  window.close();
}
</script>Signed in. You can close this window.</body></html>`
}

func jsString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}
