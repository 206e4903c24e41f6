// ABOUTME: Unit tests for relay JWT verification and the stream auth interceptor
// ABOUTME: Covers valid, invalid, expired and missing tokens

package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var testSecret = []byte("test-secret-key-for-jwt-signing")

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("node-a", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != "node-a" {
		t.Errorf("Verify() = %q, want %q", got, "node-a")
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	otherToken, err := NewJWTVerifier([]byte("different-secret")).Generate("node-a", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: otherToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("node-a", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": TokenIssuer,
		"aud": TokenAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := NewJWTVerifier(testSecret).Verify(token); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}

func TestJWTVerifier_RequiresRelayScope(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{name: "no issuer or audience", claims: jwt.MapClaims{"sub": "node-a", "exp": exp}},
		{name: "other audience", claims: jwt.MapClaims{"sub": "node-a", "exp": exp, "iss": TokenIssuer, "aud": "some-gateway"}},
		{name: "other issuer", claims: jwt.MapClaims{"sub": "node-a", "exp": exp, "iss": "elsewhere", "aud": TokenAudience}},
		{name: "no expiry", claims: jwt.MapClaims{"sub": "node-a", "iss": TokenIssuer, "aud": TokenAudience}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tt.claims).SignedString(testSecret)
			if err != nil {
				t.Fatalf("SignedString() error = %v", err)
			}
			if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_GenerateSetsRelayScope(t *testing.T) {
	token, err := NewJWTVerifier(testSecret).Generate("node-a", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("ParseUnverified() error = %v", err)
	}
	if claims["iss"] != TokenIssuer {
		t.Errorf("iss = %v, want %q", claims["iss"], TokenIssuer)
	}
	aud, err := claims.GetAudience()
	if err != nil || len(aud) != 1 || aud[0] != TokenAudience {
		t.Errorf("aud = %v (err %v), want [%q]", aud, err, TokenAudience)
	}
}

// fakeStream is a grpc.ServerStream carrying only a context.
type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func TestStreamInterceptor(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	valid, err := verifier.Generate("node-a", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	expired, err := verifier.Generate("node-a", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	tests := []struct {
		name      string
		md        metadata.MD
		wantCode  codes.Code
		wantPrinc string
	}{
		{name: "no metadata", md: nil, wantCode: codes.Unauthenticated},
		{name: "no header", md: metadata.Pairs("x-other", "1"), wantCode: codes.Unauthenticated},
		{name: "not bearer", md: metadata.Pairs("authorization", "Basic abc"), wantCode: codes.Unauthenticated},
		{name: "expired", md: metadata.Pairs("authorization", "Bearer "+expired), wantCode: codes.Unauthenticated},
		{name: "valid", md: metadata.Pairs("authorization", "Bearer "+valid), wantCode: codes.OK, wantPrinc: "node-a"},
	}

	interceptor := StreamInterceptor(verifier, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}

			var gotPrincipal string
			err := interceptor(nil, &fakeStream{ctx: ctx}, &grpc.StreamServerInfo{FullMethod: streamMethod},
				func(srv any, ss grpc.ServerStream) error {
					gotPrincipal = PrincipalFromContext(ss.Context())
					return nil
				})

			if code := status.Code(err); code != tt.wantCode {
				t.Fatalf("code = %v, want %v (err %v)", code, tt.wantCode, err)
			}
			if gotPrincipal != tt.wantPrinc {
				t.Errorf("principal = %q, want %q", gotPrincipal, tt.wantPrinc)
			}
		})
	}
}

func TestPrincipalFromContext_Anonymous(t *testing.T) {
	if got := PrincipalFromContext(context.Background()); got != "anonymous" {
		t.Errorf("PrincipalFromContext() = %q, want anonymous", got)
	}
}
