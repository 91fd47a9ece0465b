// Package auth establishes identity: password and OTP login, OAuth and
// web3 flows, JWT minting, and Redis-backed sessions that make tokens
// revocable.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/threadkit/threadkit/internal/apperrors"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/logger"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/users"
	"golang.org/x/crypto/bcrypt"
)

// Claims is the JWT payload. The session id makes tokens revocable: a
// token is only as alive as its session hash.
type Claims struct {
	jwt.RegisteredClaims
	SiteID    string `json:"site_id"`
	SessionID string `json:"sid"`
}

type Service struct {
	rdb      *cache.RedisClient
	users    *users.Store
	secret   []byte
	tokenTTL time.Duration
}

func NewService(rdb *cache.RedisClient, userStore *users.Store, secret []byte, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{rdb: rdb, users: userStore, secret: secret, tokenTTL: tokenTTL}
}

// Users exposes the user store for flows that create accounts.
func (s *Service) Users() *users.Store {
	return s.users
}

// CreateSession opens a session for the user and mints its token.
func (s *Service) CreateSession(ctx context.Context, user *models.User, siteID, ip, userAgent string) (string, *models.Session, error) {
	sess := &models.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		SiteID:    siteID,
		CreatedAt: time.Now().UnixMilli(),
		IP:        ip,
		UserAgent: userAgent,
	}
	key := models.KeySession(sess.ID)
	if err := s.rdb.HSet(ctx, key, sess.ToHash()); err != nil {
		return "", nil, apperrors.ServiceUnavailable("session store").WithCause(err)
	}
	if err := s.rdb.Expire(ctx, key, s.tokenTTL); err != nil {
		return "", nil, apperrors.ServiceUnavailable("session store").WithCause(err)
	}

	token, err := s.mintToken(user.ID, siteID, sess.ID)
	if err != nil {
		return "", nil, err
	}

	logger.Log.Info("session created",
		logger.WithUserID(user.ID),
		logger.WithSiteID(siteID),
	)
	return token, sess, nil
}

func (s *Service) mintToken(userID, siteID, sessionID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
		SiteID:    siteID,
		SessionID: sessionID,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", apperrors.InternalError("sign token").WithCause(err)
	}
	return token, nil
}

// ParseToken verifies a JWT's signature and expiry and returns its
// subject and session id without touching Redis. Callers that need the
// session checked use VerifyToken or load the session hash themselves.
func (s *Service) ParseToken(tokenString string) (string, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", apperrors.Unauthorized("invalid token")
	}
	return claims.Subject, claims.SessionID, nil
}

// VerifyToken validates a JWT and checks its session is still alive.
func (s *Service) VerifyToken(ctx context.Context, tokenString string) (*models.User, *models.Session, error) {
	userID, sessionID, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, nil, err
	}

	fields, err := s.rdb.HGetAll(ctx, models.KeySession(sessionID))
	if err != nil {
		return nil, nil, apperrors.ServiceUnavailable("session store").WithCause(err)
	}
	sess := models.SessionFromHash(sessionID, fields)
	if sess == nil || sess.UserID != userID {
		return nil, nil, apperrors.Unauthorized("session expired")
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, apperrors.Unauthorized("account no longer exists")
	}
	return user, sess, nil
}

// Refresh extends the session TTL and mints a fresh token against it.
func (s *Service) Refresh(ctx context.Context, sess *models.Session) (string, error) {
	if err := s.rdb.Expire(ctx, models.KeySession(sess.ID), s.tokenTTL); err != nil {
		return "", apperrors.ServiceUnavailable("session store").WithCause(err)
	}
	return s.mintToken(sess.UserID, sess.SiteID, sess.ID)
}

// Logout deletes the session; every token minted against it dies with it.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, models.KeySession(sessionID)); err != nil {
		return apperrors.ServiceUnavailable("session store").WithCause(err)
	}
	return nil
}

// Password flows

const bcryptCost = 12

// Register creates a password account. Usernames and emails are unique
// per deployment, enforced through the identity indexes.
func (s *Service) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	if len(password) < 8 {
		return nil, apperrors.ValidationError("password", "must be at least 8 characters")
	}
	if name == "" {
		return nil, apperrors.ValidationError("name", "required")
	}
	if existing, err := s.users.ByName(ctx, name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, apperrors.ValidationError("name", "already taken")
	}
	if email != "" {
		if existing, err := s.users.ByEmail(ctx, email); err != nil {
			return nil, err
		} else if existing != nil {
			return nil, apperrors.ValidationError("email", "already registered")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, apperrors.InternalError("hash password").WithCause(err)
	}

	user := models.NewUser(name)
	user.Email = email
	if err := s.users.Save(ctx, user); err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, models.KeyUserPassword(user.ID), string(hash)); err != nil {
		return nil, apperrors.ServiceUnavailable("user store").WithCause(err)
	}
	if err := s.users.IndexName(ctx, name, user.ID); err != nil {
		return nil, err
	}
	if email != "" {
		if err := s.users.IndexEmail(ctx, email, user.ID); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// LoginPassword authenticates by username or email plus password.
func (s *Service) LoginPassword(ctx context.Context, identifier, password string) (*models.User, error) {
	user, err := s.users.ByName(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user, err = s.users.ByEmail(ctx, identifier)
		if err != nil {
			return nil, err
		}
	}
	if user == nil {
		// Burn a comparison anyway so lookups and misses take similar time.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$12$invalidinvalidinvalidinvalidinvalid"), []byte(password))
		return nil, apperrors.Unauthorized("invalid credentials")
	}

	hash, found, err := s.rdb.Get(ctx, models.KeyUserPassword(user.ID))
	if err != nil {
		return nil, apperrors.ServiceUnavailable("user store").WithCause(err)
	}
	if !found {
		return nil, apperrors.Unauthorized("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, apperrors.Unauthorized("invalid credentials")
	}
	return user, nil
}
