package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/btcpush/relay/internal/models"
	"github.com/btcpush/relay/internal/repository"
)

const (
	serverDescription = "push notifications server for bitcoin wallets"
	serverVersion     = "1.0.0"
)

type subscribeRequest struct {
	Addresses []string `json:"addresses"`
	Hashes    []string `json:"hashes"`
	Txids     []string `json:"txids"`
	Token     string   `json:"token"`
	OS        string   `json:"os"`
}

type tokenRequest struct {
	Token string `json:"token"`
	OS    string `json:"os"`
}

type tokenConfigurationBody struct {
	tokenRequest
	LevelAll          *bool  `json:"level_all,omitempty"`
	LevelTransactions *bool  `json:"level_transactions,omitempty"`
	LevelNews         *bool  `json:"level_news,omitempty"`
	LevelPrice        *bool  `json:"level_price,omitempty"`
	LevelTips         *bool  `json:"level_tips,omitempty"`
	Lang              string `json:"lang,omitempty"`
	AppVersion        string `json:"app_version,omitempty"`
}

type invoiceSettledRequest struct {
	Preimage   string `json:"preimage"`
	Hash       string `json:"hash"`
	Memo       string `json:"memo"`
	AmtPaidSat int64  `json:"amt_paid_sat"`
}

type serverInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
	Uptime      int64  `json:"uptime"`
}

// GroundControlHandler serves the registration, configuration and producer
// endpoints. All of it is thin CRUD over the relay's store; the heavy
// lifting happens in the sender worker.
type GroundControlHandler struct {
	subscriptions repository.SubscriptionRepository
	tokenConfigs  repository.TokenConfigurationRepository
	queue         repository.QueueRepository
	startedAt     time.Time
	logger        zerolog.Logger
}

func NewGroundControlHandler(
	subscriptions repository.SubscriptionRepository,
	tokenConfigs repository.TokenConfigurationRepository,
	queue repository.QueueRepository,
	logger zerolog.Logger,
) *GroundControlHandler {
	return &GroundControlHandler{
		subscriptions: subscriptions,
		tokenConfigs:  tokenConfigs,
		queue:         queue,
		startedAt:     time.Now(),
		logger:        logger.With().Str("handler", "groundcontrol").Logger(),
	}
}

// MajorTomToGroundControl registers the addresses, payment hashes and txids
// a device wants to hear about. Duplicate registrations are silently
// ignored.
func (h *GroundControlHandler) MajorTomToGroundControl(w http.ResponseWriter, r *http.Request) {
	var body subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Token == "" || body.OS == "" {
		http.Error(w, "token not provided", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	if err := h.subscriptions.SubscribeAddresses(ctx, body.Token, body.OS, body.Addresses); err != nil {
		h.logger.Error().Err(err).Msg("failed to register addresses")
		http.Error(w, "failed to register", http.StatusInternalServerError)
		return
	}
	if err := h.subscriptions.SubscribeHashes(ctx, body.Token, body.OS, body.Hashes); err != nil {
		h.logger.Error().Err(err).Msg("failed to register hashes")
		http.Error(w, "failed to register", http.StatusInternalServerError)
		return
	}
	if err := h.subscriptions.SubscribeTxids(ctx, body.Token, body.OS, body.Txids); err != nil {
		h.logger.Error().Err(err).Msg("failed to register txids")
		http.Error(w, "failed to register", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *GroundControlHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var body subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Token == "" || body.OS == "" {
		http.Error(w, "token not provided", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	if err := h.subscriptions.UnsubscribeAddresses(ctx, body.Token, body.Addresses); err != nil {
		h.logger.Error().Err(err).Msg("failed to unsubscribe addresses")
	}
	if err := h.subscriptions.UnsubscribeHashes(ctx, body.Token, body.Hashes); err != nil {
		h.logger.Error().Err(err).Msg("failed to unsubscribe hashes")
	}
	if err := h.subscriptions.UnsubscribeTxids(ctx, body.Token, body.Txids); err != nil {
		h.logger.Error().Err(err).Msg("failed to unsubscribe txids")
	}

	w.WriteHeader(http.StatusCreated)
}

// GetTokenConfiguration returns the device's opt-in flags, creating the row
// with defaults on first contact. Also refreshes last_online.
func (h *GroundControlHandler) GetTokenConfiguration(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Token == "" || body.OS == "" {
		http.Error(w, "token not provided", http.StatusInternalServerError)
		return
	}

	cfg, err := h.tokenConfigs.GetOrCreate(r.Context(), body.Token, body.OS)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to fetch token configuration")
		http.Error(w, "failed to fetch configuration", http.StatusInternalServerError)
		return
	}
	if err := h.tokenConfigs.TouchLastOnline(r.Context(), body.Token, body.OS); err != nil {
		h.logger.Warn().Err(err).Msg("failed to refresh last_online")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"level_all":          cfg.LevelAll,
		"level_transactions": cfg.LevelTransactions,
		"level_news":         cfg.LevelNews,
		"level_price":        cfg.LevelPrice,
		"level_tips":         cfg.LevelTips,
		"lang":               cfg.Lang,
		"app_version":        cfg.AppVersion,
	})
}

func (h *GroundControlHandler) SetTokenConfiguration(w http.ResponseWriter, r *http.Request) {
	var body tokenConfigurationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Token == "" || body.OS == "" {
		http.Error(w, "token not provided", http.StatusInternalServerError)
		return
	}

	cfg, err := h.tokenConfigs.GetOrCreate(r.Context(), body.Token, body.OS)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to fetch token configuration")
		http.Error(w, "failed to fetch configuration", http.StatusInternalServerError)
		return
	}

	// Absent flags keep their stored value.
	if body.LevelAll != nil {
		cfg.LevelAll = *body.LevelAll
	}
	if body.LevelTransactions != nil {
		cfg.LevelTransactions = *body.LevelTransactions
	}
	if body.LevelNews != nil {
		cfg.LevelNews = *body.LevelNews
	}
	if body.LevelPrice != nil {
		cfg.LevelPrice = *body.LevelPrice
	}
	if body.LevelTips != nil {
		cfg.LevelTips = *body.LevelTips
	}
	if body.Lang != "" {
		cfg.Lang = body.Lang
	}
	if body.AppVersion != "" {
		cfg.AppVersion = body.AppVersion
	}

	if err := h.tokenConfigs.Update(r.Context(), cfg); err != nil {
		h.logger.Error().Err(err).Msg("failed to update token configuration")
		http.Error(w, "failed to update configuration", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// LightningInvoiceGotSettled verifies the preimage and enqueues an
// invoice-paid job for every device subscribed to the payment hash.
func (h *GroundControlHandler) LightningInvoiceGotSettled(w http.ResponseWriter, r *http.Request) {
	var body invoiceSettledRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	preimage, err := hex.DecodeString(body.Preimage)
	if err != nil {
		http.Error(w, "preimage doesnt match hash", http.StatusInternalServerError)
		return
	}
	digest := sha256.Sum256(preimage)
	hashShouldBe := hex.EncodeToString(digest[:])
	if hashShouldBe != body.Hash {
		http.Error(w, "preimage doesnt match hash", http.StatusInternalServerError)
		return
	}

	subscribers, err := h.subscriptions.TokensForHash(r.Context(), hashShouldBe)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to look up hash subscribers")
		http.Error(w, "failed to look up subscribers", http.StatusInternalServerError)
		return
	}

	for _, sub := range subscribers {
		n := models.LightningInvoicePaid{
			Base: models.Base{
				Type:  models.KindLightningInvoicePaid,
				Token: sub.Token,
				OS:    sub.OS,
				Badge: 1,
				Level: models.LevelTransactions,
			},
			Sat:  body.AmtPaidSat,
			Hash: hashShouldBe,
			Memo: body.Memo,
		}
		data, err := json.Marshal(n)
		if err != nil {
			continue
		}
		if _, err := h.queue.Enqueue(r.Context(), data); err != nil {
			h.logger.Error().Err(err).Str("token", sub.Token).Msg("failed to enqueue invoice-paid job")
		}
	}

	w.WriteHeader(http.StatusOK)
}

// Enqueue appends one notification job. The payload is decode-validated so
// poison records are rejected at the door instead of clogging the queue.
func (h *GroundControlHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := models.DecodeNotification(data); err != nil {
		http.Error(w, "invalid notification payload", http.StatusBadRequest)
		return
	}
	if _, err := h.queue.Enqueue(r.Context(), data); err != nil {
		h.logger.Error().Err(err).Msg("failed to enqueue job")
		http.Error(w, "failed to enqueue", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *GroundControlHandler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serverInfo{
		Description: serverDescription,
		Version:     serverVersion,
		Uptime:      int64(time.Since(h.startedAt).Seconds()),
	})
}
