package auth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Winger29/FSDP-Assignment2/internal/db"
	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

const testSecret = "t3st-signing-key-0123456789-abcdefghij"

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	database, err := db.NewTestDatabase()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return NewAuthService(database.DB, testSecret, Options{BcryptCost: 4})
}

func TestHashAndCheckPassword(t *testing.T) {
	svc := newTestService(t)

	hash, err := svc.HashPassword("SecurePassword123!")
	require.NoError(t, err)
	assert.NotEqual(t, "SecurePassword123!", hash)

	assert.NoError(t, svc.CheckPassword("SecurePassword123!", hash))
	assert.ErrorIs(t, svc.CheckPassword("wrong", hash), ErrInvalidCredentials)
	assert.ErrorIs(t, svc.CheckPassword("anything", ""), ErrInvalidCredentials)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, tokens, err := svc.Register(ctx, &RegisterRequest{
		Username: "alice",
		Email:    "Alice@Example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.Equal(t, "Bearer", tokens.TokenType)

	_, _, err = svc.Register(ctx, &RegisterRequest{Username: "alice", Email: "other@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrUserExists)

	t.Run("by username", func(t *testing.T) {
		got, _, err := svc.Login(ctx, &LoginRequest{Username: "alice", Password: "password123"})
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.NotNil(t, got.LastLoginAt)
	})

	t.Run("by email", func(t *testing.T) {
		_, _, err := svc.Login(ctx, &LoginRequest{Username: "alice@example.com", Password: "password123"})
		assert.NoError(t, err)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, &LoginRequest{Username: "alice", Password: "nope"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, _, err := svc.Login(ctx, &LoginRequest{Username: "bob", Password: "password123"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestValidateToken(t *testing.T) {
	svc := newTestService(t)
	user := &models.User{ID: 7, Username: "carol", Email: "carol@example.com"}

	tokens, err := svc.GenerateTokens(user)
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "carol", claims.Username)
	assert.Equal(t, "user", claims.Role)

	_, err = svc.ValidateAccessToken(tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "refresh tokens cannot authenticate requests")

	other := NewAuthService(nil, "a-different-key-0123456789-abcdefghij", Options{BcryptCost: 4})
	_, err = other.ValidateToken(tokens.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	svc := newTestService(t)
	svc.tokenExpiry = -time.Minute

	tokens, err := svc.GenerateTokens(&models.User{ID: 1, Username: "dave"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(tokens.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRefresh(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, tokens, err := svc.Register(ctx, &RegisterRequest{Username: "erin", Email: "erin@example.com", Password: "password123"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	_, err = svc.Refresh(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type fakeProvider struct {
	info *OAuthUserInfo
}

func (f *fakeProvider) GetAuthURL(state string) string {
	return "https://provider.test/auth?state=" + url.QueryEscape(state)
}

func (f *fakeProvider) ExchangeCode(_ context.Context, code string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "tok-" + code}, nil
}

func (f *fakeProvider) GetUserInfo(_ context.Context, _ *oauth2.Token) (*OAuthUserInfo, error) {
	return f.info, nil
}

func TestOAuthCallbackLinksUsers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	existing, _, err := svc.Register(ctx, &RegisterRequest{Username: "frank", Email: "frank@example.com", Password: "password123"})
	require.NoError(t, err)

	oauth := NewOAuthService(svc)
	oauth.RegisterProvider("github", &fakeProvider{info: &OAuthUserInfo{
		ID: "42", Email: "frank@example.com", Login: "frank", Provider: "github",
	}})

	authURL, err := oauth.AuthURL("github")
	require.NoError(t, err)
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	user, tokens, err := oauth.Callback(ctx, "github", "code", state)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, user.ID, "matching email links to the existing account")
	assert.Equal(t, "github", user.OAuthProvider)
	assert.NotEmpty(t, tokens.AccessToken)

	_, _, err = oauth.Callback(ctx, "github", "code", "forged")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, _, err = oauth.Callback(ctx, "gitlab", "code", state)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestOAuthCallbackCreatesUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	oauth := NewOAuthService(svc)
	oauth.RegisterProvider("google", &fakeProvider{info: &OAuthUserInfo{
		ID: "g-1", Email: "grace@example.com", Name: "Grace", Login: "grace", Provider: "google",
	}})

	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "oauth:google",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	user, _, err := oauth.Callback(ctx, "google", "code", state)
	require.NoError(t, err)
	assert.Equal(t, "grace", user.Username)
	assert.Equal(t, "Grace", user.FullName)

	again, _, err := oauth.Callback(ctx, "google", "code", state)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
}

func TestUpdateProfile(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	alice, _, err := svc.Register(ctx, &RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)
	_, _, err = svc.Register(ctx, &RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "password123"})
	require.NoError(t, err)

	name := "Alice Liddell"
	updated, err := svc.UpdateProfile(ctx, alice.ID, &UpdateProfileRequest{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", updated.FullName)
	assert.Equal(t, "alice@example.com", updated.Email)

	taken := "BOB@example.com"
	_, err = svc.UpdateProfile(ctx, alice.ID, &UpdateProfileRequest{Email: &taken})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = svc.UpdateProfile(ctx, 999, &UpdateProfileRequest{FullName: &name})
	assert.ErrorIs(t, err, ErrUserNotFound)
}
