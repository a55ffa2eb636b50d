// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// CodeUnauthenticated is returned when a request carries no valid bearer token.
const CodeUnauthenticated = "UNAUTHENTICATED"

// Caller identifies the authenticated member a request acts for.
type Caller struct {
	MemberID string
	GuildID  string
}

type callerKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored by the auth middleware.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Claims is the token payload: the subject is the member id and guild names
// the guild the token was issued for.
type Claims struct {
	Guild string `json:"guild"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens.
type TokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewTokenVerifier creates a verifier. Empty issuer or audience skip the
// corresponding claim check.
func NewTokenVerifier(secret, issuer, audience string) (*TokenVerifier, error) {
	if secret == "" {
		return nil, oops.Code(CodeUnauthenticated).Errorf("JWT secret is required")
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, audience: audience}, nil
}

// Verify parses a token and returns the caller it names.
func (v *TokenVerifier) Verify(token string) (Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...); err != nil {
		return Caller{}, oops.Code(CodeUnauthenticated).Wrapf(err, "token verification failed")
	}
	if claims.Subject == "" || claims.Guild == "" {
		return Caller{}, oops.Code(CodeUnauthenticated).Errorf("token lacks subject or guild")
	}
	return Caller{MemberID: claims.Subject, GuildID: claims.Guild}, nil
}

// Sign issues a token for c that expires with the registered claims given.
// It backs the CLI's token command and tests.
func (v *TokenVerifier) Sign(c Caller, registered jwt.RegisteredClaims) (string, error) {
	registered.Subject = c.MemberID
	if v.issuer != "" && registered.Issuer == "" {
		registered.Issuer = v.issuer
	}
	if v.audience != "" && len(registered.Audience) == 0 {
		registered.Audience = jwt.ClaimStrings{v.audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Guild: c.GuildID, RegisteredClaims: registered})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", oops.Wrapf(err, "signing token")
	}
	return signed, nil
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller in the request context.
func Authenticate(v *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, r, oops.Code(CodeUnauthenticated).Errorf("missing bearer token"))
				return
			}
			caller, err := v.Verify(token)
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// bearerToken extracts the token of a Bearer authorization header. The scheme
// name is case-insensitive (RFC 9110).
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
