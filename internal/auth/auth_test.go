package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/umar/roomchat/internal/models"
)

const secret = "test-secret"

var alice = models.Principal{ID: "u-1", Username: "alice", DisplayName: "Alice", Role: "admin", RoleIcon: "crown"}

func TestValidateToken(t *testing.T) {
	valid, err := GenerateToken(alice, secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, _ := GenerateToken(alice, secret, -time.Minute)
	noSubject, _ := GenerateToken(models.Principal{Username: "ghost"}, secret, time.Hour)
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(secret))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"},
	}).SignedString([]byte(secret))

	tests := []struct {
		name    string
		token   string
		secret  string
		wantErr bool
	}{
		{name: "Valid", token: valid, secret: secret},
		{name: "WrongSecret", token: valid, secret: "other", wantErr: true},
		{name: "Expired", token: expired, secret: secret, wantErr: true},
		{name: "NoSubject", token: noSubject, secret: secret, wantErr: true},
		{name: "WrongAlgorithm", token: wrongAlg, secret: secret, wantErr: true},
		{name: "NoExpiry", token: noExpiry, secret: secret, wantErr: true},
		{name: "Garbage", token: "not.a.token", secret: secret, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ValidateToken(tt.token, tt.secret)
			if tt.wantErr {
				if !errors.Is(err, ErrUnauthenticated) {
					t.Errorf("ValidateToken() error = %v, want ErrUnauthenticated", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if diff := cmp.Diff(alice, p); diff != "" {
				t.Errorf("principal mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		header, query, want string
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer  abc ", want: "abc"},
		{header: "Basic abc", query: "q", want: ""},
		{query: "q", want: "q"},
		{want: ""},
	}
	for _, tt := range tests {
		if got := TokenFromRequest(tt.header, tt.query); got != tt.want {
			t.Errorf("TokenFromRequest(%q, %q) = %q, want %q", tt.header, tt.query, got, tt.want)
		}
	}
}

func TestJWTMiddleware(t *testing.T) {
	token, _ := GenerateToken(alice, secret, time.Hour)
	var got models.Principal
	h := JWTMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("with token: status = %d, want 204", rec.Code)
	}
	if got.Username != "alice" {
		t.Errorf("principal username = %q, want alice", got.Username)
	}
}
