package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Google authenticates through Google's OAuth2 consent screen.
type Google struct {
	base
	oauth       *oauth2.Config
	userinfoURL string
	client      *http.Client
	log         *zap.Logger
}

// NewGoogle constructs the google family adapter.
func NewGoogle(_ context.Context, cfg ProviderConfig, env Env) (FederatedAdapter, error) {
	if env.BaseURL == "" {
		return nil, fmt.Errorf("google: base URL is required to build the redirect URL")
	}
	endpoint := google.Endpoint
	if u := cfg.String("authURL"); u != "" {
		endpoint.AuthURL = u
	}
	if u := cfg.String("tokenURL"); u != "" {
		endpoint.TokenURL = u
	}
	scopes := cfg.Strings("scope")
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &Google{
		base: newBase(cfg),
		oauth: &oauth2.Config{
			ClientID:     cfg.String("clientID"),
			ClientSecret: cfg.String("clientSecret"),
			RedirectURL:  strings.TrimRight(env.BaseURL, "/") + cfg.CallbackPath,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userinfoURL: stringOr(cfg.String("userinfoURL"), googleUserInfoURL),
		client:      env.httpClient(),
		log:         env.logger(),
	}, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Begin                                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

func (g *Google) Begin(_ context.Context, state string) (Begin, error) {
	url := g.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
	return Begin{RedirectURL: url}, nil
}

/*─────────────────────────────────────────────────────────────────────────────*
| Verify                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// googleUserInfo represents user info returned from Google.
type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

func (g *Google) Verify(ctx context.Context, r *http.Request, _ Pending) (*Assertion, error) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		g.log.Warn("google: provider returned error",
			zap.String("provider", g.id),
			zap.String("error", errParam),
			zap.String("description", q.Get("error_description")))
		return nil, ErrProviderDenied
	}
	code := q.Get("code")
	if code == "" {
		return nil, ErrMissingCode
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google: exchange code: %w", err)
	}

	info, err := g.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	a := &Assertion{
		Provider: g.id,
		Family:   FamilyGoogle,
		Subject:  info.ID,
		Name:     info.Name,
		Profile: map[string]any{
			"id":      info.ID,
			"email":   info.Email,
			"name":    info.Name,
			"picture": info.Picture,
		},
	}
	if info.Email != "" {
		a.Emails = append(a.Emails, AssertedEmail{Address: info.Email, Verified: info.VerifiedEmail})
	}
	return a, nil
}

func (g *Google) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	client := g.oauth.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userinfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google: user info status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("google: decode user info: %w", err)
	}
	return &info, nil
}
