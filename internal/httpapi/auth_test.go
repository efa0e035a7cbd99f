package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/store/memory"
)

const testSecret = "test-secret-key-0123456789abcdef"

func TestAuthManagerSignupThenLogin(t *testing.T) {
	repo := memory.New()
	auth := NewAuthManager(testSecret, time.Hour, repo)
	ctx := context.Background()

	signed, err := auth.Signup(ctx, domain.SignupRequest{Name: "Sara", Email: " Sara@Shop.test ", Password: "secret123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	stored, err := repo.GetUserByEmail(ctx, "sara@shop.test")
	if err != nil {
		t.Fatalf("expected stored user: %v", err)
	}
	if !isPasswordHash(stored.Password) {
		t.Fatalf("expected bcrypt hash to be stored")
	}

	logged, err := auth.Login(ctx, domain.LoginRequest{Email: "SARA@shop.test", Password: "secret123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.User.ID != signed.User.ID || logged.User.Name != "Sara" {
		t.Fatalf("expected same owner, got %+v and %+v", signed.User, logged.User)
	}

	actor, err := auth.ParseToken(logged.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.OwnerID != stored.ID || actor.Email != "sara@shop.test" || actor.Role != domain.RoleOwner {
		t.Fatalf("unexpected actor %+v", actor)
	}

	if _, err := auth.Login(ctx, domain.LoginRequest{Email: "sara@shop.test", Password: "nope"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := auth.Login(ctx, domain.LoginRequest{Email: "ghost@shop.test", Password: "secret123"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestAuthManagerSignupRejectsDuplicatesAndWeakInput(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, memory.New())
	ctx := context.Background()

	if _, err := auth.Signup(ctx, domain.SignupRequest{Email: "a@shop.test", Password: "secret123"}); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	if _, err := auth.Signup(ctx, domain.SignupRequest{Email: "A@shop.test", Password: "secret456"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}

	_, err := auth.Signup(ctx, domain.SignupRequest{Email: "b@shop.test", Password: "123"})
	var verr *service.ValidationError
	if !errors.As(err, &verr) || verr.Fields["password"] == "" {
		t.Fatalf("expected password validation error, got %v", err)
	}
}

func TestParseTokenRejectsExpiredAndForeignTokens(t *testing.T) {
	repo := memory.New()
	auth := NewAuthManager(testSecret, time.Minute, repo)
	resp, err := auth.Signup(context.Background(), domain.SignupRequest{Email: "a@shop.test", Password: "secret123"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	auth.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	other := NewAuthManager("another-secret-0123456789abcdef!", time.Hour, repo)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: resp.User.ID})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := auth.ParseToken(unsigned); err == nil {
		t.Fatalf("expected unsigned token to be rejected")
	}
}
