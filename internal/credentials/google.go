package credentials

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/btcpush/relay/internal/config"
)

const firebaseMessagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// GoogleProvider exchanges a service-account key for FCM access tokens.
// Caching and refresh are handled by the oauth2 token source.
type GoogleProvider struct {
	source oauth2.TokenSource
}

func NewGoogleProvider(ctx context.Context, cfg config.FcmConfig) (*GoogleProvider, error) {
	keyJSON, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read fcm service account key")
	}
	conf, err := google.JWTConfigFromJSON(keyJSON, firebaseMessagingScope)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse fcm service account key")
	}
	return &GoogleProvider{source: conf.TokenSource(ctx)}, nil
}

func (p *GoogleProvider) Token() (string, error) {
	token, err := p.source.Token()
	if err != nil {
		return "", errors.Wrap(err, "failed to obtain fcm access token")
	}
	return token.AccessToken, nil
}
