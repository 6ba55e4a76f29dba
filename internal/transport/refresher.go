package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"offsync-go/internal/apierr"
	"offsync-go/internal/credential"
	"offsync-go/internal/monitoring"
)

// TokenRefresher exchanges a refresh token for a new credential pair.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*credential.Credential, error)
}

// OAuthRefresher implements the standard refresh_token grant against a
// token endpoint.
type OAuthRefresher struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

// NewOAuthRefresher builds a refresher for the given token endpoint.
func NewOAuthRefresher(tokenURL, clientID, clientSecret string, httpClient *http.Client) *OAuthRefresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthRefresher{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		httpClient: httpClient,
	}
}

// Refresh performs the grant. A 4xx from the token endpoint means the
// refresh token is dead and the caller must re-authenticate; transport
// failures stay network errors so the caller can retry later.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*credential.Credential, error) {
	if refreshToken == "" {
		return nil, apierr.Auth(http.StatusUnauthorized, "no refresh token available")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	token, err := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, r.mapError(err)
	}

	cred := &credential.Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if cred.RefreshToken == "" {
		// server rotated nothing; keep using the old one
		cred.RefreshToken = refreshToken
	}

	monitoring.TokenRefreshesTotal.WithLabelValues("success").Inc()
	return cred, nil
}

func (r *OAuthRefresher) mapError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		if status >= 400 && status < 500 {
			monitoring.TokenRefreshesTotal.WithLabelValues("rejected").Inc()
			logrus.WithFields(logrus.Fields{
				"status": status,
				"code":   retrieveErr.ErrorCode,
			}).Warn("token refresh rejected")
			msg := "token refresh rejected"
			if retrieveErr.ErrorCode != "" {
				msg += ": " + retrieveErr.ErrorCode
			}
			return apierr.Auth(status, msg)
		}
		monitoring.TokenRefreshesTotal.WithLabelValues("server_error").Inc()
		return apierr.FromStatus(status, retrieveErr.Body)
	}
	monitoring.TokenRefreshesTotal.WithLabelValues("network_error").Inc()
	return apierr.FromNetErr(err)
}
