package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"taskline/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowActorHeader trusts X-Actor-Id without credentials. Local use only.
	AllowActorHeader bool
	// DevLogin exposes POST /auth/dev/login for minting test tokens.
	DevLogin bool
	Logger   *zap.Logger
}

// Principal is the actor a request runs as and how it was established.
type Principal struct {
	ActorID string
	Source  string
}

const (
	sourceJWT         = "jwt"
	sourceAPIKey      = "api_key"
	sourceActorHeader = "actor_header"

	devTokenTTL    = 12 * time.Hour
	devTokenIssuer = "taskline-dev"
)

var (
	errNoCredentials = errors.New("no credentials")
	errNoJWTSecret   = errors.New("jwt secret not configured")
)

type ctxKey int

const principalCtx ctxKey = iota

// caller returns the principal attached by the auth middleware.
func caller(ctx context.Context) (Principal, huma.StatusError) {
	p, ok := ctx.Value(principalCtx).(Principal)
	if !ok || p.ActorID == "" {
		return Principal{}, unauthenticated()
	}
	return p, nil
}

// authenticator guards every route under basePath except the public ones.
// Credentials are tried in order: bearer JWT, X-Api-Key, then X-Actor-Id
// when the config trusts it.
type authenticator struct {
	cfg      AuthConfig
	keys     repo.Repo
	basePath string
	public   map[string]bool
	log      *zap.Logger
}

func newAuthenticator(basePath string, cfg AuthConfig, keys repo.Repo) authenticator {
	public := map[string]bool{}
	for _, p := range []string{"health", "auth/dev/login", "openapi.json", "openapi.yaml", "docs"} {
		public[path.Join(basePath, p)] = true
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return authenticator{cfg: cfg, keys: keys, basePath: basePath, public: public, log: log}
}

func (a authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, a.basePath) || a.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		p, err := a.identify(r)
		if errors.Is(err, errNoCredentials) {
			writeFailure(w, unauthenticated())
			return
		}
		if err != nil {
			a.log.Info("authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
			writeFailure(w, failure(http.StatusUnauthorized, "invalid_credentials", "invalid credentials"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalCtx, p)))
	})
}

func (a authenticator) identify(r *http.Request) (Principal, error) {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return Principal{}, errors.New("malformed authorization header")
		}
		return verifyToken(a.cfg.JWTSecret, token)
	}
	if key := strings.TrimSpace(r.Header.Get("X-Api-Key")); key != "" {
		return a.lookupKey(r.Context(), key)
	}
	if actor := strings.TrimSpace(r.Header.Get("X-Actor-Id")); actor != "" && a.cfg.AllowActorHeader {
		a.log.Warn("trusting unauthenticated X-Actor-Id header", zap.String("actor_id", actor))
		return Principal{ActorID: actor, Source: sourceActorHeader}, nil
	}
	return Principal{}, errNoCredentials
}

func (a authenticator) lookupKey(ctx context.Context, key string) (Principal, error) {
	if a.keys.DB == nil {
		return Principal{}, errors.New("api keys need the audit store")
	}
	stored, err := a.keys.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, fmt.Errorf("lookup api key: %w", err)
	}
	return Principal{ActorID: stored.ActorID, Source: sourceAPIKey}, nil
}

// verifyToken accepts HS256 tokens carrying a subject and an expiry.
func verifyToken(secret, raw string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errNoJWTSecret
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("verify token: %w", err)
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{ActorID: claims.Subject, Source: sourceJWT}, nil
}

func mintDevToken(secret, actorID string, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errNoJWTSecret
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   actorID,
		Issuer:    devTokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(devTokenTTL)),
	}).SignedString([]byte(secret))
}
