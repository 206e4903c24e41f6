// ABOUTME: JWT bearer-token authentication for relay streams
// ABOUTME: HS256 tokens scoped by iss/aud to the relay carry the peer's principal in sub

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier validates a bearer token and returns its principal.
type TokenVerifier interface {
	Verify(tokenString string) (principal string, err error)
}

// Tokens are minted for, and only accepted by, redub relays.
const (
	TokenIssuer   = "redub"
	TokenAudience = "redub-relay"
)

// relayClaims is the claim set of a relay access token. Subject carries the
// principal; the relay requires exp, iss and aud as well.
type relayClaims struct {
	jwt.RegisteredClaims
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs scoped to the
// relay audience.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier creates a new JWT verifier with the given secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(TokenIssuer),
			jwt.WithAudience(TokenAudience),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify validates the token and returns the principal in its subject.
// Tokens issued for another audience are rejected as invalid.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims relayClaims
	_, err := v.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrExpiredToken
	case err != nil:
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate mints a relay token for principal that expires after expiresIn.
func (v *JWTVerifier) Generate(principal string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := relayClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   principal,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type principalKey struct{}

// PrincipalFromContext returns the authenticated principal of a stream,
// or "anonymous" when authentication is disabled.
func PrincipalFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey{}).(string); ok {
		return p
	}
	return "anonymous"
}

// StreamInterceptor rejects streams without a valid "authorization: Bearer" header.
func StreamInterceptor(tokens TokenVerifier, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		principal, err := authenticate(ss.Context(), tokens)
		if err != nil {
			logAuthFailure(logger, ss.Context(), err)
			return err
		}

		return handler(srv, &wrappedServerStream{
			ServerStream: ss,
			ctx:          context.WithValue(ss.Context(), principalKey{}, principal),
		})
	}
}

func authenticate(ctx context.Context, tokens TokenVerifier) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}

	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}

	authHeader := authHeaders[0]
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", status.Error(codes.Unauthenticated, "invalid authorization header format")
	}

	principal, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return "", status.Error(codes.Unauthenticated, "token expired")
		}
		return "", status.Error(codes.Unauthenticated, "invalid token")
	}
	return principal, nil
}

func logAuthFailure(logger *slog.Logger, ctx context.Context, err error) {
	if logger == nil {
		return
	}
	attrs := []any{"error", err}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	logger.Warn("relay auth failure", attrs...)
}

// wrappedServerStream overrides Context to carry the principal.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
