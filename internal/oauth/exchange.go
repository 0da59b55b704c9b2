// internal/oauth/exchange.go
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"shopauth/internal/apiclient"
	"shopauth/internal/session"
	"shopauth/pkg/shop"
)

// AccessToken is the decoded result of a code exchange.
type AccessToken struct {
	Token   string
	Scopes  session.Scopes
	Expires *time.Time
	User    *session.AssociatedUser
}

// Exchanger trades an authorization code for an access credential at the
// platform token endpoint. The wire shape is the platform's contract and is
// isolated here so tests can stub it.
type Exchanger interface {
	Exchange(ctx context.Context, d shop.Domain, code string) (*AccessToken, error)
}

type httpExchanger struct {
	apiKey    string
	apiSecret string
	httpc     *http.Client
}

func NewHTTPExchanger(apiKey, apiSecret string) Exchanger {
	return &httpExchanger{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpc:     &http.Client{Timeout: 10 * time.Second},
	}
}

type wireUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type wireToken struct {
	AccessToken         string    `json:"access_token"`
	Scope               string    `json:"scope"`
	ExpiresIn           int64     `json:"expires_in"`
	AssociatedUser      *wireUser `json:"associated_user"`
	AssociatedUserScope string    `json:"associated_user_scope"`
}

func (e *httpExchanger) Exchange(ctx context.Context, d shop.Domain, code string) (*AccessToken, error) {
	body, _ := json.Marshal(map[string]string{
		"client_id":     e.apiKey,
		"client_secret": e.apiSecret,
		"code":          code,
	})
	url := fmt.Sprintf("https://%s/admin/oauth/access_token", d)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apiclient.RemoteError{Status: resp.StatusCode, Body: string(b)}
	}
	var wt wireToken
	if err := json.Unmarshal(b, &wt); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if wt.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	tok := &AccessToken{Token: wt.AccessToken, Scopes: session.ParseScopes(wt.Scope)}
	if wt.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(wt.ExpiresIn) * time.Second)
		tok.Expires = &exp
	}
	if wt.AssociatedUser != nil {
		tok.User = &session.AssociatedUser{
			ID:        strconv.FormatInt(wt.AssociatedUser.ID, 10),
			Email:     wt.AssociatedUser.Email,
			FirstName: wt.AssociatedUser.FirstName,
			LastName:  wt.AssociatedUser.LastName,
		}
		// user-bound grants are narrowed to the user's scope subset
		tok.Scopes = session.ParseScopes(wt.AssociatedUserScope)
	}
	return tok, nil
}
