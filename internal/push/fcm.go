package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/btcpush/relay/internal/config"
)

const fcmEndpoint = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

// FcmClient sends pushes through the FCM v1 HTTP API.
type FcmClient struct {
	sendURL    string
	creds      CredentialSource
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewFcmClient(cfg config.FcmConfig, creds CredentialSource, logger zerolog.Logger) *FcmClient {
	return &FcmClient{
		sendURL:    fmt.Sprintf(fcmEndpoint, cfg.ProjectID),
		creds:      creds,
		httpClient: &http.Client{},
		logger:     logger.With().Str("gateway", "fcm").Logger(),
	}
}

func (c *FcmClient) Send(ctx context.Context, token string, payload BuiltPayload) (RawResponse, error) {
	var raw RawResponse

	bearer, err := c.creds.Token()
	if err != nil {
		return raw, err
	}

	// The destination token rides inside the message envelope.
	envelope := payload.Fcm
	envelope.Message.Token = token
	body, err := json.Marshal(envelope)
	if err != nil {
		return raw, errors.Wrap(err, "failed to marshal fcm payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, bytes.NewReader(body))
	if err != nil {
		return raw, errors.Wrap(err, "failed to build fcm request")
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return raw, errors.Wrap(err, "fcm request failed")
	}
	defer resp.Body.Close()

	raw.StatusCode = resp.StatusCode
	raw.Body, err = io.ReadAll(resp.Body)
	if err != nil {
		return raw, errors.Wrap(err, "failed to read fcm response")
	}

	c.logger.Debug().Int("status", raw.StatusCode).Msg("fcm response")
	return raw, nil
}
