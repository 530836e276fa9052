package credentials

import (
	"crypto/ecdsa"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"github.com/btcpush/relay/internal/config"
)

// appleTokenTTL is how long a minted provider token is reused before a fresh
// one is signed. APNs accepts tokens up to an hour old; half that keeps a
// comfortable margin.
const appleTokenTTL = 30 * time.Minute

// AppleProvider mints and caches the ES256 provider token APNs expects in
// the authorization header.
type AppleProvider struct {
	keyID  string
	teamID string
	key    *ecdsa.PrivateKey

	mu       sync.Mutex
	token    string
	mintedAt time.Time
	now      func() time.Time
}

func NewAppleProvider(cfg config.ApnsConfig) (*AppleProvider, error) {
	pemBytes, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read apns key file")
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse apns signing key")
	}
	return &AppleProvider{
		keyID:  cfg.KeyID,
		teamID: cfg.TeamID,
		key:    key,
		now:    time.Now,
	}, nil
}

func (p *AppleProvider) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Sub(p.mintedAt) < appleTokenTTL {
		return p.token, nil
	}

	issued := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": p.teamID,
		"iat": issued.Unix(),
	})
	token.Header["kid"] = p.keyID

	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign apns provider token")
	}
	p.token = signed
	p.mintedAt = issued
	return signed, nil
}
