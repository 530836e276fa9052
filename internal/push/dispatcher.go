package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/btcpush/relay/internal/models"
)

// Gateway is one push backend: it delivers a built payload to a device token
// and reports what the backend answered.
type Gateway interface {
	Send(ctx context.Context, token string, payload BuiltPayload) (RawResponse, error)
}

// PushLogAppender records delivery attempts.
type PushLogAppender interface {
	Append(ctx context.Context, entry models.PushLog) error
}

// TokenPruner removes every subscription of a dead device token.
type TokenPruner interface {
	KillDeadToken(ctx context.Context, token string) error
}

// Dispatcher routes a notification to the OS-appropriate gateway, classifies
// the response, records the attempt and feeds permanent failures back into
// the subscription store.
type Dispatcher struct {
	apns   Gateway
	fcm    Gateway
	logs   PushLogAppender
	pruner TokenPruner
	logger zerolog.Logger
}

func NewDispatcher(apns, fcm Gateway, logs PushLogAppender, pruner TokenPruner, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		apns:   apns,
		fcm:    fcm,
		logs:   logs,
		pruner: pruner,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, n models.Notification) (Outcome, error) {
	meta := n.Meta()
	payload := Build(n)

	var (
		gateway     Gateway
		wirePayload []byte
		classify    func(RawResponse) Outcome
	)
	switch meta.OS {
	case "ios":
		gateway = d.apns
		wirePayload, _ = json.Marshal(payload.Apns)
		classify = ClassifyApns
	case "android":
		gateway = d.fcm
		wirePayload, _ = json.Marshal(payload.Fcm)
		classify = ClassifyFcm
	default:
		return OutcomeSoftFailure, fmt.Errorf("unsupported os %q", meta.OS)
	}

	raw, sendErr := gateway.Send(ctx, meta.Token, payload)

	var outcome Outcome
	var response []byte
	if sendErr != nil {
		// The gateway never answered; nothing proves the token is dead.
		outcome = OutcomeSoftFailure
		response, _ = json.Marshal(map[string]string{"error": sendErr.Error()})
	} else {
		outcome = classify(raw)
		response = encodeRawResponse(raw)
	}

	entry := models.PushLog{
		Token:    meta.Token,
		OS:       meta.OS,
		Payload:  string(wirePayload),
		Response: string(response),
		Success:  outcome == OutcomeDelivered,
	}
	if err := d.logs.Append(ctx, entry); err != nil {
		d.logger.Warn().Err(err).Str("token", meta.Token).Msg("failed to record push attempt")
	}

	if outcome == OutcomePermanentFailure {
		d.logger.Info().Str("token", meta.Token).Msg("gateway reported dead token, pruning subscriptions")
		if err := d.pruner.KillDeadToken(ctx, meta.Token); err != nil {
			d.logger.Error().Err(err).Str("token", meta.Token).Msg("failed to prune dead token")
		}
	}

	return outcome, sendErr
}

func encodeRawResponse(raw RawResponse) []byte {
	wrapper := struct {
		Status int    `json:"status"`
		ApnsID string `json:"apns-id,omitempty"`
		Data   string `json:"data"`
	}{
		Status: raw.StatusCode,
		ApnsID: raw.ApnsID,
		Data:   string(raw.Body),
	}
	encoded, _ := json.Marshal(wrapper)
	return encoded
}
