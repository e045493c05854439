package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/Winger29/FSDP-Assignment2/pkg/models"
)

var (
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrInvalidState    = errors.New("invalid oauth state")
	ErrNoEmail         = errors.New("oauth provider did not return an email")
)

type OAuthProvider interface {
	GetAuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	GetUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

type OAuthUserInfo struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Login    string `json:"login"`
	Picture  string `json:"picture"`
	Provider string `json:"provider"`
}

type GoogleOAuth struct {
	config *oauth2.Config
}

type GitHubOAuth struct {
	config *oauth2.Config
}

func NewGoogleOAuth(clientID, clientSecret, redirectURL string) *GoogleOAuth {
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
	}
}

func NewGitHubOAuth(clientID, clientSecret, redirectURL string) *GitHubOAuth {
	return &GitHubOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
	}
}

func (g *GoogleOAuth) GetAuthURL(state string) string {
	return g.config.AuthCodeURL(state)
}

func (g *GoogleOAuth) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.config.Exchange(ctx, code)
}

func (g *GoogleOAuth) GetUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	client := g.config.Client(ctx, token)

	var googleUser struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := getJSON(client, "https://www.googleapis.com/oauth2/v2/userinfo", &googleUser); err != nil {
		return nil, err
	}

	return &OAuthUserInfo{
		ID:       googleUser.ID,
		Email:    googleUser.Email,
		Name:     googleUser.Name,
		Login:    strings.Split(googleUser.Email, "@")[0],
		Picture:  googleUser.Picture,
		Provider: "google",
	}, nil
}

func (gh *GitHubOAuth) GetAuthURL(state string) string {
	return gh.config.AuthCodeURL(state)
}

func (gh *GitHubOAuth) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return gh.config.Exchange(ctx, code)
}

func (gh *GitHubOAuth) GetUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	client := gh.config.Client(ctx, token)

	var githubUser struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(client, "https://api.github.com/user", &githubUser); err != nil {
		return nil, err
	}

	// Private emails are only available from the emails endpoint
	if githubUser.Email == "" {
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(client, "https://api.github.com/user/emails", &emails); err == nil {
			for _, email := range emails {
				if email.Primary && email.Verified {
					githubUser.Email = email.Email
					break
				}
			}
		}
	}

	return &OAuthUserInfo{
		ID:       fmt.Sprintf("%d", githubUser.ID),
		Email:    githubUser.Email,
		Name:     githubUser.Name,
		Login:    githubUser.Login,
		Picture:  githubUser.AvatarURL,
		Provider: "github",
	}, nil
}

func getJSON(client *http.Client, url string, dest interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// OAuthService keeps the configured providers and links external identities
// to local users.
type OAuthService struct {
	providers map[string]OAuthProvider
	auth      *AuthService
	stateTTL  time.Duration
}

func NewOAuthService(auth *AuthService) *OAuthService {
	return &OAuthService{
		providers: make(map[string]OAuthProvider),
		auth:      auth,
		stateTTL:  10 * time.Minute,
	}
}

func (o *OAuthService) RegisterProvider(name string, provider OAuthProvider) {
	o.providers[name] = provider
}

func (o *OAuthService) GetProvider(name string) (OAuthProvider, bool) {
	provider, exists := o.providers[name]
	return provider, exists
}

// Providers lists the registered provider names
func (o *OAuthService) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for name := range o.providers {
		names = append(names, name)
	}
	return names
}

// AuthURL returns the provider consent URL with a signed, short-lived state
func (o *OAuthService) AuthURL(name string) (string, error) {
	provider, ok := o.providers[name]
	if !ok {
		return "", ErrUnknownProvider
	}

	now := time.Now()
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "oauth:" + name,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(o.stateTTL)),
	}).SignedString(o.auth.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign oauth state: %w", err)
	}
	return provider.GetAuthURL(state), nil
}

func (o *OAuthService) verifyState(name, state string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return o.auth.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithSubject("oauth:"+name))
	if err != nil {
		return ErrInvalidState
	}
	return nil
}

// Callback completes the authorization code flow and returns a token pair
// for the linked (or newly created) local user.
func (o *OAuthService) Callback(ctx context.Context, name, code, state string) (*models.User, *TokenPair, error) {
	provider, ok := o.providers[name]
	if !ok {
		return nil, nil, ErrUnknownProvider
	}
	if err := o.verifyState(name, state); err != nil {
		return nil, nil, err
	}

	token, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("code exchange failed: %w", err)
	}
	info, err := provider.GetUserInfo(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	user, err := o.linkUser(ctx, info)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := o.auth.GenerateTokens(user)
	if err != nil {
		return nil, nil, err
	}
	return user, tokens, nil
}

// linkUser finds the user by provider subject, then by email, creating one if needed
func (o *OAuthService) linkUser(ctx context.Context, info *OAuthUserInfo) (*models.User, error) {
	if info.Email == "" {
		return nil, ErrNoEmail
	}
	db := o.auth.db.WithContext(ctx)
	email := strings.ToLower(info.Email)

	var user models.User
	err := db.Where("oauth_provider = ? AND oauth_subject = ?", info.Provider, info.ID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = db.Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		user.OAuthProvider = info.Provider
		user.OAuthSubject = info.ID
		if user.AvatarURL == "" {
			user.AvatarURL = info.Picture
		}
		if err := db.Save(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	user = models.User{
		Username:      o.uniqueUsername(ctx, info.Login),
		Email:         email,
		FullName:      info.Name,
		AvatarURL:     info.Picture,
		OAuthProvider: info.Provider,
		OAuthSubject:  info.ID,
		IsActive:      true,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (o *OAuthService) uniqueUsername(ctx context.Context, base string) string {
	if base == "" {
		base = "user"
	}
	candidate := base
	for i := 1; i < 100; i++ {
		var count int64
		o.auth.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", candidate).Count(&count)
		if count == 0 {
			return candidate
		}
		candidate = fmt.Sprintf("%s%d", base, i)
	}
	return base + "-" + uuid.NewString()[:8]
}
