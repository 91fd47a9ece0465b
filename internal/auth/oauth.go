package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// discordEndpoint is not shipped with x/oauth2.
var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

// OAuthCredentials configures one provider.
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
}

// OAuthProviders holds the configured OAuth flows. Providers without
// credentials are absent and their login routes 400.
type OAuthProviders struct {
	configs map[models.AuthProvider]*oauth2.Config
}

func NewOAuthProviders(baseURL string, googleCreds, githubCreds, discordCreds OAuthCredentials) *OAuthProviders {
	p := &OAuthProviders{configs: make(map[models.AuthProvider]*oauth2.Config)}
	if googleCreds.ClientID != "" {
		p.configs[models.ProviderGoogle] = &oauth2.Config{
			ClientID:     googleCreds.ClientID,
			ClientSecret: googleCreds.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  baseURL + "/auth/google/callback",
			Scopes:       []string{"openid", "email", "profile"},
		}
	}
	if githubCreds.ClientID != "" {
		p.configs[models.ProviderGitHub] = &oauth2.Config{
			ClientID:     githubCreds.ClientID,
			ClientSecret: githubCreds.ClientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  baseURL + "/auth/github/callback",
			Scopes:       []string{"read:user", "user:email"},
		}
	}
	if discordCreds.ClientID != "" {
		p.configs[models.ProviderDiscord] = &oauth2.Config{
			ClientID:     discordCreds.ClientID,
			ClientSecret: discordCreds.ClientSecret,
			Endpoint:     discordEndpoint,
			RedirectURL:  baseURL + "/auth/discord/callback",
			Scopes:       []string{"identify", "email"},
		}
	}
	return p
}

func (p *OAuthProviders) config(provider models.AuthProvider) (*oauth2.Config, error) {
	cfg, ok := p.configs[provider]
	if !ok {
		return nil, apperrors.BadRequest("oauth provider not configured")
	}
	return cfg, nil
}

// OAuthProfile is the provider-neutral identity a callback resolves to.
type OAuthProfile struct {
	Provider  models.AuthProvider
	ID        string
	Name      string
	Email     string
	AvatarURL string
}

// OAuthStart stores a CSRF state and returns the provider redirect URL.
func (s *Service) OAuthStart(ctx context.Context, p *OAuthProviders, provider models.AuthProvider) (string, error) {
	cfg, err := p.config(provider)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", apperrors.InternalError("generate state").WithCause(err)
	}
	state := hex.EncodeToString(buf)
	if err := s.rdb.SetEx(ctx, models.KeyVerify("oauth:"+state), string(provider), 10*time.Minute); err != nil {
		return "", apperrors.ServiceUnavailable("verify store").WithCause(err)
	}
	return cfg.AuthCodeURL(state), nil
}

// OAuthCallback validates the state, exchanges the code, fetches the
// provider profile, and returns the matching user (created on first login).
func (s *Service) OAuthCallback(ctx context.Context, p *OAuthProviders, provider models.AuthProvider, state, code string) (*models.User, error) {
	stored, found, err := s.rdb.GetDel(ctx, models.KeyVerify("oauth:"+state))
	if err != nil {
		return nil, apperrors.ServiceUnavailable("verify store").WithCause(err)
	}
	if !found || stored != string(provider) {
		return nil, apperrors.Unauthorized("invalid oauth state")
	}

	cfg, err := p.config(provider)
	if err != nil {
		return nil, err
	}
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, apperrors.Unauthorized("oauth exchange failed")
	}
	profile, err := fetchProfile(ctx, cfg, provider, token)
	if err != nil {
		return nil, err
	}
	return s.loginWithProfile(ctx, profile)
}

func (s *Service) loginWithProfile(ctx context.Context, profile *OAuthProfile) (*models.User, error) {
	user, err := s.users.ByProvider(ctx, profile.Provider, profile.ID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	// Link to an existing account by verified email before creating one.
	if profile.Email != "" {
		user, err = s.users.ByEmail(ctx, profile.Email)
		if err != nil {
			return nil, err
		}
	}
	if user == nil {
		name := profile.Name
		if name == "" {
			name = string(profile.Provider) + "-" + profile.ID
		}
		user = models.NewUser(name)
		user.Email = profile.Email
		user.AvatarURL = profile.AvatarURL
		user.EmailVerified = profile.Email != ""
		if err := s.users.Save(ctx, user); err != nil {
			return nil, err
		}
		if profile.Email != "" {
			if err := s.users.IndexEmail(ctx, profile.Email, user.ID); err != nil {
				return nil, err
			}
		}
	}
	if err := s.users.IndexProvider(ctx, profile.Provider, profile.ID, user.ID); err != nil {
		return nil, err
	}
	if user.AddIdentity(models.ProviderIdentity(profile.Provider, profile.ID)) {
		if err := s.users.Save(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

func fetchProfile(ctx context.Context, cfg *oauth2.Config, provider models.AuthProvider, token *oauth2.Token) (*OAuthProfile, error) {
	client := cfg.Client(ctx, token)
	client.Timeout = 10 * time.Second

	var url string
	switch provider {
	case models.ProviderGoogle:
		url = "https://www.googleapis.com/oauth2/v2/userinfo"
	case models.ProviderGitHub:
		url = "https://api.github.com/user"
	case models.ProviderDiscord:
		url = "https://discord.com/api/users/@me"
	default:
		return nil, apperrors.BadRequest("oauth provider not configured")
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("oauth provider").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Unauthorized(fmt.Sprintf("oauth profile fetch returned %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.ServiceUnavailable("oauth provider").WithCause(err)
	}

	profile := &OAuthProfile{Provider: provider}
	switch provider {
	case models.ProviderGoogle:
		var raw struct {
			ID      string `json:"id"`
			Email   string `json:"email"`
			Name    string `json:"name"`
			Picture string `json:"picture"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, apperrors.InternalError("decode oauth profile").WithCause(err)
		}
		profile.ID, profile.Email, profile.Name, profile.AvatarURL = raw.ID, raw.Email, raw.Name, raw.Picture
	case models.ProviderGitHub:
		var raw struct {
			ID        int64  `json:"id"`
			Login     string `json:"login"`
			Name      string `json:"name"`
			Email     string `json:"email"`
			AvatarURL string `json:"avatar_url"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, apperrors.InternalError("decode oauth profile").WithCause(err)
		}
		profile.ID = strconv.FormatInt(raw.ID, 10)
		profile.Name = raw.Name
		if profile.Name == "" {
			profile.Name = raw.Login
		}
		profile.Email, profile.AvatarURL = raw.Email, raw.AvatarURL
	case models.ProviderDiscord:
		var raw struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Email    string `json:"email"`
			Avatar   string `json:"avatar"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, apperrors.InternalError("decode oauth profile").WithCause(err)
		}
		profile.ID, profile.Name, profile.Email = raw.ID, raw.Username, raw.Email
		if raw.Avatar != "" {
			profile.AvatarURL = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", raw.ID, raw.Avatar)
		}
	}
	if profile.ID == "" {
		return nil, apperrors.Unauthorized("oauth profile missing id")
	}
	return profile, nil
}
