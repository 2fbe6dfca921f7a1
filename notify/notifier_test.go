package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"webhook-notifier/directory"
	"webhook-notifier/ledger"
	"webhook-notifier/models"
	"webhook-notifier/quota"
	"webhook-notifier/router"
)

type fakeDirectory map[string]models.Webhook

func (f fakeDirectory) Webhooks(context.Context, string, string, []byte, int) (directory.Page, error) {
	return directory.Page{}, nil
}

func (f fakeDirectory) Webhook(_ context.Context, accountID, webhookID string) (models.Webhook, error) {
	w, ok := f[accountID+"/"+webhookID]
	if !ok {
		return models.Webhook{}, directory.ErrWebhookNotFound
	}
	return w, nil
}

type fakeLedger struct {
	blocks map[int64]models.Block
	utxos  models.TransactionUtxos
	err    error
}

func (f *fakeLedger) Block(_ context.Context, n int64) (models.Block, error) {
	if f.err != nil {
		return models.Block{}, f.err
	}
	b, ok := f.blocks[n]
	if !ok {
		return models.Block{}, ledger.ErrBlockNotFound
	}
	return b, nil
}

func (f *fakeLedger) Pool(context.Context, string) (*models.Pool, error) {
	return &models.Pool{PoolID: "pool1", Ticker: "ABC"}, nil
}

func (f *fakeLedger) TransactionUtxos(context.Context, string) (models.TransactionUtxos, error) {
	return f.utxos, f.err
}

func (f *fakeLedger) AssetMetadata(context.Context, string) ([]models.Metadata, error) {
	return nil, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []models.ControlEvent
}

func (p *recordingPublisher) Publish(_ context.Context, topic, _ string, value any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, value.(models.ControlEvent))
	return nil
}

type recordingDeferrer struct {
	jobs []models.DeliveryJob
}

func (d *recordingDeferrer) Park(_ context.Context, job models.DeliveryJob) error {
	d.jobs = append(d.jobs, job)
	return nil
}

type countingRedelivery struct {
	calls int
}

func (c *countingRedelivery) Redeliver(context.Context, models.DeliveryJob, quota.Usage, error) error {
	c.calls++
	return nil
}

type received struct {
	signature string
	body      []byte
}

type testEnv struct {
	notifier *Notifier
	dir      fakeDirectory
	ledger   *fakeLedger
	mr       *miniredis.Miniredis
	pub      *recordingPublisher
	deferrer *recordingDeferrer
	retry    *countingRedelivery

	mu       sync.Mutex
	status   int
	requests []received
	url      string
}

func setupTestNotifier(t *testing.T, failedLimit int64) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{
		dir:      fakeDirectory{},
		ledger:   &fakeLedger{blocks: map[int64]models.Block{}},
		mr:       mr,
		pub:      &recordingPublisher{},
		deferrer: &recordingDeferrer{},
		retry:    &countingRedelivery{},
		status:   http.StatusOK,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		env.mu.Lock()
		env.requests = append(env.requests, received{signature: r.Header.Get("X-Test-Signature"), body: body})
		status := env.status
		env.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	env.url = srv.URL

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	monitor := quota.NewMonitor(quota.NewStore(client), env.pub, quota.Thresholds{
		Warning:     0.95,
		FailedLimit: failedLimit,
		Timeout:     time.Second,
	}, logger)

	env.notifier = New(
		env.dir,
		ledger.Networks{"mainnet": env.ledger},
		NewDispatcher(srv.Client(), "X-Test-Signature", time.Second),
		monitor,
		Options{Deferrer: env.deferrer, Redelivery: env.retry},
		logger,
	)
	return env
}

func (e *testEnv) register(w models.Webhook) models.Webhook {
	w.AccountID = "acc"
	w.Network = "mainnet"
	w.CallbackURL = e.url
	w.AuthToken = "token"
	w.Active = true
	e.dir[w.AccountID+"/"+w.WebhookID] = w
	return w
}

func (e *testEnv) job(t *testing.T, w models.Webhook, eventType string, data any, blockNo int64) models.DeliveryJob {
	t.Helper()
	job, err := router.BuildJob(w, eventType, "event-key", "v1", data, blockNo, time.UnixMilli(1700000000000))
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func (e *testEnv) counter(field string) string {
	return e.mr.HGet(quota.Key("acc"), field)
}

func TestNotify_ImmediateDelivery(t *testing.T) {
	e := setupTestNotifier(t, 1)
	w := e.register(models.Webhook{WebhookID: "wh1", Name: "delegations"})
	job := e.job(t, w, models.TypeDelegation, models.Delegation{Network: "mainnet", TxHash: "tx1", Pool: &models.Pool{Ticker: "ABC"}}, 10)

	outcome, err := e.notifier.Notify(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != Delivered {
		t.Fatalf("expected delivered, got %s", outcome)
	}
	if len(e.requests) != 1 {
		t.Fatalf("expected one request, got %d", len(e.requests))
	}

	req := e.requests[0]
	if req.signature != Sign(req.body, "token") {
		t.Error("signature does not match the body")
	}
	var body map[string]any
	if err := json.Unmarshal(req.body, &body); err != nil {
		t.Fatal(err)
	}
	if body["network"] != "mainnet" || body["type"] != "delegation" || body["idempotency_key"] != "event-key|wh1" {
		t.Errorf("unexpected body: %s", req.body)
	}
	pool := body["data"].(map[string]any)["pool"].(map[string]any)
	if pool["ticker"] != "ABC" {
		t.Errorf("unexpected data: %v", body["data"])
	}
	if e.counter(quota.FieldCounter) != "1" {
		t.Errorf("expected usage 1, got %q", e.counter(quota.FieldCounter))
	}
}

func TestNotify_DropsMissingOrInactiveWebhook(t *testing.T) {
	e := setupTestNotifier(t, 1)
	w := models.Webhook{WebhookID: "gone", AccountID: "acc", Network: "mainnet", CallbackURL: e.url}
	job := e.job(t, w, models.TypeEpoch, models.Epoch{No: 1}, 0)

	outcome, err := e.notifier.Notify(context.Background(), job)
	if err != nil || outcome != Dropped {
		t.Fatalf("expected silent drop, got %s (%v)", outcome, err)
	}

	inactive := e.register(models.Webhook{WebhookID: "off"})
	inactive.Active = false
	e.dir["acc/off"] = inactive
	outcome, err = e.notifier.Notify(context.Background(), e.job(t, inactive, models.TypeEpoch, models.Epoch{No: 1}, 0))
	if err != nil || outcome != Dropped {
		t.Fatalf("expected silent drop, got %s (%v)", outcome, err)
	}

	if len(e.requests) != 0 || e.mr.Exists(quota.Key("acc")) {
		t.Error("a dropped job must not deliver or touch the quota")
	}
}

func TestNotify_ParksPendingConfirmation(t *testing.T) {
	e := setupTestNotifier(t, 1)
	w := e.register(models.Webhook{WebhookID: "wh1", Confirmations: 3})
	job := e.job(t, w, models.TypeBlock, models.Block{BlockNo: 100}, 100)

	outcome, err := e.notifier.Notify(context.Background(), job)
	if err != nil || outcome != Pending {
		t.Fatalf("expected pending, got %s (%v)", outcome, err)
	}
	if len(e.deferrer.jobs) != 1 || len(e.requests) != 0 {
		t.Errorf("expected the job parked and not delivered")
	}
}

func finalized(job models.DeliveryJob) models.DeliveryJob {
	job.OriginalConfirmations = job.Confirmations
	job.Confirmations = 0
	return job
}

func TestNotify_FinalityReplaySuppressesStaleBlock(t *testing.T) {
	e := setupTestNotifier(t, 1)
	w := e.register(models.Webhook{WebhookID: "wh1", Confirmations: 3, Rules: []models.Rule{
		{Field: "block_no", Operator: "=", Value: "100"},
		{Field: "size", Operator: ">", Value: "500"},
	}})
	e.ledger.blocks[100] = models.Block{Hash: "canonical", BlockNo: 100, Size: 200}

	job := finalized(e.job(t, w, models.TypeBlock, models.Block{Hash: "orphan", BlockNo: 100, Size: 900}, 100))
	outcome, err := e.notifier.Notify(context.Background(), job)
	if err != nil || outcome != Suppressed {
		t.Fatalf("expected suppressed, got %s (%v)", outcome, err)
	}
	if len(e.requests) != 0 || e.mr.Exists(quota.Key("acc")) {
		t.Error("a suppressed job must not deliver or touch the quota")
	}
}

func TestNotify_FinalityReplayDeliversCanonicalBlock(t *testing.T) {
	e := setupTestNotifier(t, 1)
	w := e.register(models.Webhook{WebhookID: "wh1", Confirmations: 3, Rules: []models.Rule{
		{Field: "size", Operator: ">", Value: "500"},
	}})
	e.ledger.blocks[100] = models.Block{Hash: "canonical", BlockNo: 100, Size: 900, SlotLeader: "leader"}

	job := finalized(e.job(t, w, models.TypeBlock, models.Block{Hash: "seen", BlockNo: 100, Size: 100}, 100))
	outcome, err := e.notifier.Notify(context.Background(), job)
	if err != nil || outcome != Delivered {
		t.Fatalf("expected delivered, got %s (%v)", outcome, err)
	}

	var body struct {
		Data models.Block `json:"data"`
	}
	if err := json.Unmarshal(e.requests[0].body, &body); err != nil {
		t.Fatal(err)
	}
	if body.Data.Hash != "canonical" || body.Data.Pool == nil || body.Data.Pool.PoolID != "pool1" {
		t.Errorf("expected the refreshed block with its pool, got %+v", body.Data)
	}
	// 3 confirmations * factor 10
	if e.counter(quota.FieldCounter) != "30" {
		t.Errorf("expected usage 30, got %q", e.counter(quota.FieldCounter))
	}
}

func TestNotify_FinalityReplayReplacesTransactionBlock(t *testing.T) {
	stale := &models.Block{Hash: "orphan", BlockNo: 100, Size: 900}
	tx := models.Transaction{Hash: "tx1", Block: stale}

	tests := []struct {
		eventType string
		data      any
		block     func(raw json.RawMessage) (*models.Block, error)
	}{
		{models.TypeTransaction, tx, func(raw json.RawMessage) (*models.Block, error) {
			var d models.Transaction
			err := json.Unmarshal(raw, &d)
			return d.Block, err
		}},
		{models.TypeAsset, models.AssetData{Transaction: tx}, func(raw json.RawMessage) (*models.Block, error) {
			var d models.AssetData
			err := json.Unmarshal(raw, &d)
			return d.Transaction.Block, err
		}},
		{models.TypePayment, models.PaymentData{Transaction: tx}, func(raw json.RawMessage) (*models.Block, error) {
			var d models.PaymentData
			err := json.Unmarshal(raw, &d)
			return d.Transaction.Block, err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			e := setupTestNotifier(t, 1)
			// the refreshed block no longer satisfies this rule; only block events are re-matched
			w := e.register(models.Webhook{WebhookID: "wh1", Confirmations: 3, Rules: []models.Rule{
				{Field: "block.size", Operator: ">", Value: "500"},
			}})
			e.ledger.blocks[100] = models.Block{Hash: "canonical", BlockNo: 100, Size: 200, SlotLeader: "leader"}
			e.ledger.utxos = models.TransactionUtxos{Outputs: []models.Utxo{{Hash: "tx1", Address: "addr1", Value: 9}}}

			job := finalized(e.job(t, w, tt.eventType, tt.data, 100))
			outcome, err := e.notifier.Notify(context.Background(), job)
			if err != nil || outcome != Delivered {
				t.Fatalf("expected delivered, got %s (%v)", outcome, err)
			}

			var body struct {
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(e.requests[0].body, &body); err != nil {
				t.Fatal(err)
			}
			block, err := tt.block(body.Data)
			if err != nil {
				t.Fatal(err)
			}
			if block == nil || block.Hash != "canonical" || block.Pool == nil || block.Pool.Ticker != "ABC" {
				t.Errorf("expected the canonical block with its pool, got %+v", block)
			}
		})
	}
}

func TestNotify_PaymentCarriesLedgerUtxos(t *testing.T) {
	e := setupTestNotifier(t, 1)
	w := e.register(models.Webhook{WebhookID: "wh1", EventKey: "addr1"})
	e.ledger.utxos = models.TransactionUtxos{
		Inputs:  []models.Utxo{{Hash: "prev", Address: "addr0", Value: 10}},
		Outputs: []models.Utxo{{Hash: "tx1", Address: "addr1", Value: 9}},
	}

	job := e.job(t, w, models.TypePayment, models.PaymentData{Transaction: models.Transaction{Hash: "tx1"}}, 0)
	if outcome, err := e.notifier.Notify(context.Background(), job); err != nil || outcome != Delivered {
		t.Fatalf("expected delivered, got %s (%v)", outcome, err)
	}

	var body struct {
		Data models.PaymentData `json:"data"`
	}
	if err := json.Unmarshal(e.requests[0].body, &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data.From) != 1 || body.Data.From[0].Address != "addr0" || len(body.Data.To) != 1 {
		t.Errorf("unexpected payment body: %+v", body.Data)
	}
}

func TestNotify_LedgerErrorPropagates(t *testing.T) {
	e := setupTestNotifier(t, 1)
	w := e.register(models.Webhook{WebhookID: "wh1", EventKey: "addr1"})
	e.ledger.err = errors.New("connection refused")

	job := e.job(t, w, models.TypePayment, models.PaymentData{Transaction: models.Transaction{Hash: "tx1"}}, 0)
	if _, err := e.notifier.Notify(context.Background(), job); err == nil {
		t.Fatal("expected the ledger error")
	}
	if len(e.requests) != 0 || e.mr.Exists(quota.Key("acc")) {
		t.Error("nothing must be delivered or counted")
	}
}

func TestNotify_FailureTripsBreakerOnce(t *testing.T) {
	e := setupTestNotifier(t, 2)
	e.status = http.StatusServiceUnavailable
	w := e.register(models.Webhook{WebhookID: "wh1", Name: "flaky"})
	job := e.job(t, w, models.TypeEpoch, models.Epoch{No: 1}, 0)

	for i := 0; i < 3; i++ {
		outcome, err := e.notifier.Notify(context.Background(), job)
		if err != nil || outcome != Failed {
			t.Fatalf("expected failed, got %s (%v)", outcome, err)
		}
	}

	if e.counter(quota.FailedField("wh1")) != "3" || e.counter(quota.FieldCounter) != "3" {
		t.Errorf("unexpected counters: failed=%q usage=%q", e.counter(quota.FailedField("wh1")), e.counter(quota.FieldCounter))
	}
	if len(e.pub.topics) != 1 || e.pub.topics[0] != models.TopicUnreachable {
		t.Fatalf("expected one unreachable event, got %v", e.pub.topics)
	}
	u := e.pub.events[0].Data.(models.WebhookUnreachable)
	if u.WebhookName != "flaky" || u.Requests != 2 {
		t.Errorf("unexpected unreachable body: %+v", u)
	}
	// only the first failure was below the limit
	if e.retry.calls != 1 {
		t.Errorf("expected one redelivery decision, got %d", e.retry.calls)
	}
}

func TestDispatcher_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewDispatcher(nil, "", time.Second)
	err := d.Deliver(context.Background(), models.TypeBlock, url, "token", []byte("{}"))

	var de *DeliveryError
	if !errors.As(err, &de) || de.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected a DeliveryError with status 500, got %v", err)
	}
}

func TestPhaseOf(t *testing.T) {
	tests := []struct {
		job  models.DeliveryJob
		want Phase
	}{
		{models.DeliveryJob{}, Immediate},
		{models.DeliveryJob{Confirmations: 2}, PendingConfirmation},
		{models.DeliveryJob{OriginalConfirmations: 2}, Finalizing},
	}
	for _, tt := range tests {
		if got := PhaseOf(tt.job); got != tt.want {
			t.Errorf("PhaseOf(%+v) = %s, want %s", tt.job, got, tt.want)
		}
	}
}
