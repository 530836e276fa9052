package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcpush/relay/internal/models"
	"github.com/btcpush/relay/internal/repository"
)

type fakeSubscriptions struct {
	addresses map[string][]string
	hashes    map[string][]string
	txids     map[string][]string
	watchers  map[string][]models.Subscription
}

func newFakeSubscriptions() *fakeSubscriptions {
	return &fakeSubscriptions{
		addresses: make(map[string][]string),
		hashes:    make(map[string][]string),
		txids:     make(map[string][]string),
		watchers:  make(map[string][]models.Subscription),
	}
}

func (f *fakeSubscriptions) SubscribeAddresses(ctx context.Context, token, os string, values []string) error {
	f.addresses[token] = append(f.addresses[token], values...)
	return nil
}

func (f *fakeSubscriptions) SubscribeHashes(ctx context.Context, token, os string, values []string) error {
	f.hashes[token] = append(f.hashes[token], values...)
	return nil
}

func (f *fakeSubscriptions) SubscribeTxids(ctx context.Context, token, os string, values []string) error {
	f.txids[token] = append(f.txids[token], values...)
	return nil
}

func (f *fakeSubscriptions) UnsubscribeAddresses(ctx context.Context, token string, values []string) error {
	delete(f.addresses, token)
	return nil
}

func (f *fakeSubscriptions) UnsubscribeHashes(ctx context.Context, token string, values []string) error {
	delete(f.hashes, token)
	return nil
}

func (f *fakeSubscriptions) UnsubscribeTxids(ctx context.Context, token string, values []string) error {
	delete(f.txids, token)
	return nil
}

func (f *fakeSubscriptions) TokensForHash(ctx context.Context, hash string) ([]models.Subscription, error) {
	return f.watchers[hash], nil
}

func (f *fakeSubscriptions) KillDeadToken(ctx context.Context, token string) error { return nil }

func (f *fakeSubscriptions) PurgeTxidsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return 0, nil
}

type fakeTokenConfigs struct {
	configs map[string]models.TokenConfiguration
	touched int
}

func newFakeTokenConfigs() *fakeTokenConfigs {
	return &fakeTokenConfigs{configs: make(map[string]models.TokenConfiguration)}
}

func (f *fakeTokenConfigs) GetOrCreate(ctx context.Context, token, os string) (models.TokenConfiguration, error) {
	key := token + "/" + os
	if cfg, ok := f.configs[key]; ok {
		return cfg, nil
	}
	cfg := models.TokenConfiguration{
		Token:             token,
		OS:                os,
		LevelAll:          true,
		LevelTransactions: true,
		LevelNews:         true,
		LevelPrice:        true,
		LevelTips:         true,
		Lang:              "en",
	}
	f.configs[key] = cfg
	return cfg, nil
}

func (f *fakeTokenConfigs) Update(ctx context.Context, cfg models.TokenConfiguration) error {
	f.configs[cfg.Token+"/"+cfg.OS] = cfg
	return nil
}

func (f *fakeTokenConfigs) TouchLastOnline(ctx context.Context, token, os string) error {
	f.touched++
	return nil
}

type fakeQueue struct {
	jobs [][]byte
}

func (f *fakeQueue) Enqueue(ctx context.Context, data []byte) (int64, error) {
	f.jobs = append(f.jobs, data)
	return int64(len(f.jobs)), nil
}

func (f *fakeQueue) Claim(ctx context.Context) (*repository.ClaimedJob, error) { return nil, nil }

func (f *fakeQueue) Delete(ctx context.Context, id int64) error { return nil }

type handlerFixture struct {
	handler *GroundControlHandler
	subs    *fakeSubscriptions
	configs *fakeTokenConfigs
	queue   *fakeQueue
}

func newFixture() *handlerFixture {
	subs := newFakeSubscriptions()
	configs := newFakeTokenConfigs()
	queue := &fakeQueue{}
	return &handlerFixture{
		handler: NewGroundControlHandler(subs, configs, queue, zerolog.Nop()),
		subs:    subs,
		configs: configs,
		queue:   queue,
	}
}

func postJSON(handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestMajorTomToGroundControl(t *testing.T) {
	fx := newFixture()

	rec := postJSON(fx.handler.MajorTomToGroundControl,
		`{"token":"tok","os":"ios","addresses":["bc1qxxx"],"hashes":["h1","h2"],"txids":[]}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"bc1qxxx"}, fx.subs.addresses["tok"])
	assert.Equal(t, []string{"h1", "h2"}, fx.subs.hashes["tok"])
}

func TestMajorTomToGroundControlRequiresToken(t *testing.T) {
	fx := newFixture()

	rec := postJSON(fx.handler.MajorTomToGroundControl, `{"os":"ios","addresses":["bc1qxxx"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "token not provided")

	rec = postJSON(fx.handler.MajorTomToGroundControl, `{"token":"tok","addresses":["bc1qxxx"]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, fx.subs.addresses)
}

func TestGetTokenConfigurationCreatesDefaults(t *testing.T) {
	fx := newFixture()

	rec := postJSON(fx.handler.GetTokenConfiguration, `{"token":"tok","os":"android"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["level_all"])
	assert.Equal(t, true, got["level_transactions"])
	assert.Equal(t, "en", got["lang"])
	assert.Equal(t, 1, fx.configs.touched)
}

func TestSetTokenConfigurationPartialUpdate(t *testing.T) {
	fx := newFixture()

	rec := postJSON(fx.handler.SetTokenConfiguration,
		`{"token":"tok","os":"ios","level_news":false,"app_version":"7.0.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	cfg := fx.configs.configs["tok/ios"]
	assert.False(t, cfg.LevelNews)
	assert.True(t, cfg.LevelTransactions, "untouched flags keep their value")
	assert.Equal(t, "7.0.1", cfg.AppVersion)
}

func TestLightningInvoiceGotSettled(t *testing.T) {
	fx := newFixture()

	preimage := []byte("settled-invoice-preimage")
	digest := sha256.Sum256(preimage)
	hash := hex.EncodeToString(digest[:])
	fx.subs.watchers[hash] = []models.Subscription{
		{Token: "tok-a", OS: "ios"},
		{Token: "tok-b", OS: "android"},
	}

	body := `{"preimage":"` + hex.EncodeToString(preimage) + `","hash":"` + hash + `","memo":"coffee","amt_paid_sat":2500}`
	rec := postJSON(fx.handler.LightningInvoiceGotSettled, body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, fx.queue.jobs, 2)
	n, err := models.DecodeNotification(fx.queue.jobs[0])
	require.NoError(t, err)
	invoice, ok := n.(*models.LightningInvoicePaid)
	require.True(t, ok)
	assert.Equal(t, "tok-a", invoice.Meta().Token)
	assert.Equal(t, int64(2500), invoice.Sat)
	assert.Equal(t, hash, invoice.Hash)
	assert.Equal(t, "coffee", invoice.Memo)
	assert.Equal(t, 1, invoice.Meta().Badge)
	assert.Equal(t, models.LevelTransactions, invoice.Meta().Level)
}

func TestLightningInvoiceGotSettledRejectsBadPreimage(t *testing.T) {
	fx := newFixture()

	rec := postJSON(fx.handler.LightningInvoiceGotSettled,
		`{"preimage":"deadbeef","hash":"0000000000000000000000000000000000000000000000000000000000000000","amt_paid_sat":1}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "preimage doesnt match hash")
	assert.Empty(t, fx.queue.jobs)
}

func TestEnqueueValidatesPayload(t *testing.T) {
	fx := newFixture()

	rec := postJSON(fx.handler.Enqueue, `{"type":4,"token":"tok","os":"ios","txid":"abcd"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fx.queue.jobs, 1)

	rec = postJSON(fx.handler.Enqueue, `{"type":99,"token":"tok","os":"ios"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, fx.queue.jobs, 1, "invalid payloads never reach the queue")
}

func TestPing(t *testing.T) {
	fx := newFixture()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	fx.handler.Ping(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var info serverInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, serverDescription, info.Description)
	assert.NotEmpty(t, info.Version)
}
