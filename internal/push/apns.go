package push

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/btcpush/relay/internal/config"
)

// apnsExpiration is how long APNs may hold an undeliverable push before
// dropping it.
const apnsExpiration = 24 * time.Hour

// CredentialSource supplies a currently-valid bearer credential for a push
// gateway.
type CredentialSource interface {
	Token() (string, error)
}

// ApnsClient sends pushes to Apple's gateway over a multiplexed HTTP/2
// connection.
type ApnsClient struct {
	host       string
	topic      string
	creds      CredentialSource
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

func NewApnsClient(cfg config.ApnsConfig, creds CredentialSource, logger zerolog.Logger) *ApnsClient {
	transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
			dialer := &tls.Dialer{Config: tlsCfg}
			return dialer.DialContext(ctx, network, addr)
		},
	}
	return &ApnsClient{
		host:       cfg.Host,
		topic:      cfg.Topic,
		creds:      creds,
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With().Str("gateway", "apns").Logger(),
		now:        time.Now,
	}
}

func (c *ApnsClient) Send(ctx context.Context, token string, payload BuiltPayload) (RawResponse, error) {
	var raw RawResponse

	bearer, err := c.creds.Token()
	if err != nil {
		return raw, err
	}

	body, err := json.Marshal(payload.Apns)
	if err != nil {
		return raw, errors.Wrap(err, "failed to marshal apns payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/3/device/"+token, bytes.NewReader(body))
	if err != nil {
		return raw, errors.Wrap(err, "failed to build apns request")
	}
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", c.topic)
	req.Header.Set("apns-expiration", fmt.Sprintf("%d", c.now().Add(apnsExpiration).Unix()))
	if payload.CollapseKey != "" {
		req.Header.Set("apns-collapse-id", payload.CollapseKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return raw, errors.Wrap(err, "apns request failed")
	}
	defer resp.Body.Close()

	raw.StatusCode = resp.StatusCode
	raw.ApnsID = resp.Header.Get("apns-id")
	raw.Body, err = io.ReadAll(resp.Body)
	if err != nil {
		return raw, errors.Wrap(err, "failed to read apns response")
	}

	c.logger.Debug().Int("status", raw.StatusCode).Str("apns_id", raw.ApnsID).Msg("apns response")
	return raw, nil
}
