package link

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/crypto"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/monitoring"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/storage"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// reply is what the fake Link service answers to one message.
type reply struct {
	status  int
	payload interface{}
	transID string
	badMac  bool
}

type handlerFunc func(msg *models.MusapMessage, plain []byte) reply

// fakeLink is an httptest Link service sharing the client's transport keys.
type fakeLink struct {
	t       *testing.T
	env     *crypto.Envelope
	handler handlerFunc

	mu   sync.Mutex
	hits map[constants.MessageType]int
	last map[constants.MessageType][]byte
}

func (f *fakeLink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, http.MethodPost, r.Method)
	assert.Equal(f.t, "application/json", r.Header.Get("Content-Type"))

	var msg models.MusapMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	assert.NotEmpty(f.t, msg.UUID)
	plain, err := f.env.Open(r.Context(), &msg)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	f.hits[msg.Type]++
	f.last[msg.Type] = plain
	f.mu.Unlock()

	rep := f.handler(&msg, plain)
	if rep.status != 0 && rep.status != http.StatusOK {
		w.WriteHeader(rep.status)
		return
	}
	out := &models.MusapMessage{Type: msg.Type, TransID: rep.transID}
	if rep.payload != nil {
		body, err := json.Marshal(rep.payload)
		require.NoError(f.t, err)
		require.NoError(f.t, f.env.Seal(r.Context(), out, body))
		if rep.badMac {
			out.Mac = strings.Repeat("0", len(out.Mac))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (f *fakeLink) count(t constants.MessageType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[t]
}

type testEnv struct {
	client  *Client
	fake    *fakeLink
	links   *storage.LinkStore
	keys    *crypto.KeyGenerator
	server  *httptest.Server
	metrics *monitoring.Metrics
}

func newTestEnv(t *testing.T, handler handlerFunc) *testEnv {
	t.Helper()
	kv := storage.NewMemoryStore()
	links := storage.NewLinkStore(kv)
	keys, err := crypto.NewKeyGenerator(storage.NewSecretStore(kv), 16, logger.NewNoopLogger())
	require.NoError(t, err)

	fake := &fakeLink{
		t:       t,
		env:     crypto.NewEnvelope(keys),
		handler: handler,
		hits:    map[constants.MessageType]int{},
		last:    map[constants.MessageType][]byte{},
	}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	client := NewClient(config.LinkConfig{
		URL:          server.URL,
		Timeout:      5 * time.Second,
		PollAttempts: 3,
		PollInterval: time.Millisecond,
	}, links, keys, logger.NewNoopLogger(), WithMetrics(metrics))

	return &testEnv{client: client, fake: fake, links: links, keys: keys, server: server, metrics: metrics}
}

// enrolled stores a session directly, skipping the enrolldata round-trip.
func (e *testEnv) enrolled(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := e.keys.HkdfStatic(ctx)
	require.NoError(t, err)
	require.NoError(t, e.links.PutLink(ctx, &models.MusapLink{URL: e.server.URL, MusapID: "musap-1"}))
}

func TestClient_Enroll(t *testing.T) {
	env := newTestEnv(t, func(msg *models.MusapMessage, plain []byte) reply {
		require.Equal(t, constants.MessageTypeEnroll, msg.Type)
		var req models.EnrollDataPayload
		require.NoError(t, json.Unmarshal(plain, &req))
		secret, err := base64.StdEncoding.DecodeString(req.Secret)
		require.NoError(t, err)
		assert.Len(t, secret, constants.EnrollmentSecretLength)
		assert.Equal(t, "push-token", req.ApnsToken)
		return reply{payload: models.EnrollDataResponsePayload{MusapID: "musap-42"}}
	})
	ctx := context.Background()

	link := env.client.Enroll(ctx, &models.MusapLink{URL: env.server.URL}, "push-token")
	require.NotNil(t, link)
	assert.True(t, link.IsEnrolled())
	assert.Equal(t, "musap-42", link.MusapID)

	id, err := env.links.GetMusapID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "musap-42", id)
	_, err = env.keys.MacKey(ctx)
	assert.NoError(t, err)
}

func TestClient_EnrollFailureReturnsOriginal(t *testing.T) {
	env := newTestEnv(t, func(*models.MusapMessage, []byte) reply {
		return reply{status: http.StatusInternalServerError}
	})
	ctx := context.Background()

	original := &models.MusapLink{URL: env.server.URL}
	link := env.client.Enroll(ctx, original, "")
	assert.Same(t, original, link)
	assert.False(t, link.IsEnrolled())

	stored, err := env.links.GetLink(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestClient_Couple(t *testing.T) {
	env := newTestEnv(t, func(msg *models.MusapMessage, plain []byte) reply {
		require.Equal(t, constants.MessageTypeLinkAccount, msg.Type)
		assert.Equal(t, "musap-1", msg.MusapID)
		var req models.LinkAccountPayload
		require.NoError(t, json.Unmarshal(plain, &req))
		if req.CouplingCode != "ABC123" {
			return reply{payload: models.LinkAccountResponsePayload{Status: constants.StatusFailed}}
		}
		return reply{payload: models.LinkAccountResponsePayload{LinkID: "link-1", Name: "Bank", Status: constants.StatusSuccess}}
	})
	env.enrolled(t)
	ctx := context.Background()

	rp, err := env.client.Couple(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "Bank", rp.Name)
	assert.Equal(t, "link-1", rp.LinkID)

	rps, err := env.links.ListRelyingParties(ctx)
	require.NoError(t, err)
	assert.Len(t, rps, 1)

	_, err = env.client.Couple(ctx, "WRONG")
	assert.True(t, errors.IsCode(err, constants.ErrCodeInternal))

	_, err = env.client.Couple(ctx, "")
	assert.True(t, errors.IsCode(err, constants.ErrCodeMissingParam))
}

func TestClient_CoupleNotEnrolled(t *testing.T) {
	env := newTestEnv(t, func(*models.MusapMessage, []byte) reply { return reply{} })
	_, err := env.client.Couple(context.Background(), "ABC123")
	assert.True(t, errors.IsCode(err, constants.ErrCodeInternal))
	assert.Zero(t, env.fake.count(constants.MessageTypeLinkAccount))
}

func TestClient_Poll(t *testing.T) {
	var mode atomic.Int32
	env := newTestEnv(t, func(msg *models.MusapMessage, _ []byte) reply {
		require.Equal(t, constants.MessageTypePoll, msg.Type)
		payload := models.SignaturePayload{
			Data:   base64.StdEncoding.EncodeToString([]byte("hello")),
			LinkID: "link-1",
			Mode:   constants.ModeSign,
		}
		switch mode.Load() {
		case 0:
			return reply{payload: payload, transID: "tx-1"}
		case 1:
			return reply{payload: payload}
		default:
			return reply{}
		}
	})
	env.enrolled(t)
	ctx := context.Background()

	resp, err := env.client.Poll(ctx)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "tx-1", resp.TransID)
	data, err := resp.Payload.DecodedData()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	mode.Store(1)
	_, err = env.client.Poll(ctx)
	assert.True(t, errors.IsCode(err, constants.ErrCodeInternal))

	mode.Store(2)
	resp, err = env.client.Poll(ctx)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestClient_PollRejectsBadMac(t *testing.T) {
	env := newTestEnv(t, func(*models.MusapMessage, []byte) reply {
		return reply{payload: models.SignaturePayload{LinkID: "x"}, transID: "tx-1", badMac: true}
	})
	env.enrolled(t)

	_, err := env.client.Poll(context.Background())
	assert.True(t, errors.IsCode(err, constants.ErrCodeInternal))
}

func TestClient_PollRejectsReplyOfAnotherType(t *testing.T) {
	env := newTestEnv(t, nil)
	env.enrolled(t)

	forged := func(msgType constants.MessageType) *httptest.Server {
		payload, err := json.Marshal(models.SignaturePayload{
			Data:   base64.StdEncoding.EncodeToString([]byte("forged")),
			LinkID: "attacker",
		})
		require.NoError(t, err)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(&models.MusapMessage{
				Type:    msgType,
				TransID: "tx-evil",
				Payload: base64.StdEncoding.EncodeToString(payload),
			})
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	tests := []struct {
		name    string
		msgType constants.MessageType
	}{
		{"plaintext type", constants.MessageTypeEnroll},
		{"other encrypted type", constants.MessageTypeLinkAccount},
		{"untyped without mac", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := forged(tt.msgType)
			require.NoError(t, env.links.PutLink(context.Background(), &models.MusapLink{URL: srv.URL, MusapID: "musap-1"}))

			resp, err := env.client.Poll(context.Background())
			assert.Nil(t, resp)
			assert.True(t, errors.IsCode(err, constants.ErrCodeInternal), "got %v", err)
		})
	}
}

func TestClient_PollSharedAcrossCancelledCaller(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	env := newTestEnv(t, func(*models.MusapMessage, []byte) reply {
		entered <- struct{}{}
		<-release
		return reply{payload: models.SignaturePayload{LinkID: "link-1"}, transID: "tx-1"}
	})
	env.enrolled(t)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		resp *models.PollResponse
		err  error
	}
	first := make(chan result, 1)
	go func() {
		resp, err := env.client.Poll(ctx)
		first <- result{resp, err}
	}()
	<-entered

	second := make(chan result, 1)
	go func() {
		resp, err := env.client.Poll(context.Background())
		second <- result{resp, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	for _, ch := range []chan result{first, second} {
		select {
		case r := <-ch:
			require.NoError(t, r.err)
			require.NotNil(t, r.resp)
			assert.Equal(t, "tx-1", r.resp.TransID)
		case <-time.After(5 * time.Second):
			t.Fatal("poll did not return")
		}
	}
}

func TestClient_SignImmediateSuccess(t *testing.T) {
	env := newTestEnv(t, func(msg *models.MusapMessage, plain []byte) reply {
		require.Equal(t, constants.MessageTypeExternalSignature, msg.Type)
		var req models.ExternalSignaturePayload
		require.NoError(t, json.Unmarshal(plain, &req))
		assert.Equal(t, "client-1", req.ClientID)
		return reply{payload: models.ExternalSignatureResponsePayload{
			Status:    constants.StatusSuccess,
			Signature: "c2ln",
			TransID:   "tx-1",
		}}
	})
	env.enrolled(t)

	resp, err := env.client.Sign(context.Background(), models.ExternalSignaturePayload{ClientID: "client-1", Data: "ZGF0YQ=="})
	require.NoError(t, err)
	assert.Equal(t, "c2ln", resp.Signature)
	assert.Equal(t, 1, env.fake.count(constants.MessageTypeExternalSignature))
}

func TestClient_SignPendingThenSuccess(t *testing.T) {
	var calls atomic.Int32
	env := newTestEnv(t, func(msg *models.MusapMessage, _ []byte) reply {
		n := calls.Add(1)
		if n == 1 {
			return reply{payload: models.ExternalSignatureResponsePayload{Status: constants.StatusPending, TransID: "tx-7"}}
		}
		assert.Equal(t, "tx-7", msg.TransID)
		if n < 3 {
			return reply{payload: models.ExternalSignatureResponsePayload{Status: constants.StatusPending, TransID: "tx-7"}}
		}
		return reply{payload: models.ExternalSignatureResponsePayload{Status: constants.StatusSuccess, Signature: "c2ln", TransID: "tx-7"}}
	})
	env.enrolled(t)

	resp, err := env.client.Sign(context.Background(), models.ExternalSignaturePayload{ClientID: "c", Data: "ZA=="})
	require.NoError(t, err)
	assert.Equal(t, "c2ln", resp.Signature)
	assert.Equal(t, 3, env.fake.count(constants.MessageTypeExternalSignature))
}

func TestClient_SignPendingExhaustsAttempts(t *testing.T) {
	env := newTestEnv(t, func(*models.MusapMessage, []byte) reply {
		return reply{payload: models.ExternalSignatureResponsePayload{Status: constants.StatusPending, TransID: "tx-9"}}
	})
	env.enrolled(t)

	var (
		mu        sync.Mutex
		results   int
		successes int
		lastErr   error
	)
	done := make(chan struct{})
	env.client.SignAsync(context.Background(), models.ExternalSignaturePayload{ClientID: "c", Data: "ZA=="},
		func(resp *models.ExternalSignatureResponsePayload, err error) {
			mu.Lock()
			defer mu.Unlock()
			results++
			if err == nil {
				successes++
			}
			lastErr = err
			close(done)
		})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sign did not complete")
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, results)
	assert.Zero(t, successes)
	assert.True(t, errors.IsCode(lastErr, constants.ErrCodeInternal))
	// The initial request plus exactly the configured three re-polls.
	assert.Equal(t, 4, env.fake.count(constants.MessageTypeExternalSignature))
}

func TestClient_SignFailedStatus(t *testing.T) {
	code := int(constants.ErrCodeUserCancel)
	env := newTestEnv(t, func(*models.MusapMessage, []byte) reply {
		return reply{payload: models.ExternalSignatureResponsePayload{Status: constants.StatusFailed, ErrorCode: &code}}
	})
	env.enrolled(t)

	_, err := env.client.Sign(context.Background(), models.ExternalSignaturePayload{ClientID: "c", Data: "ZA=="})
	assert.True(t, errors.IsCode(err, constants.ErrCodeUserCancel))
}

func TestClient_SignContextCancelled(t *testing.T) {
	env := newTestEnv(t, func(*models.MusapMessage, []byte) reply {
		return reply{payload: models.ExternalSignatureResponsePayload{Status: constants.StatusPending}}
	})
	env.enrolled(t)
	env.client.cfg.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := env.client.Sign(ctx, models.ExternalSignaturePayload{ClientID: "c", Data: "ZA=="})
	assert.Error(t, err)
	assert.Equal(t, 1, env.fake.count(constants.MessageTypeExternalSignature))
}

func TestSignFlow_SingleDelivery(t *testing.T) {
	var delivered int
	flow := newSignFlow(func(*models.ExternalSignatureResponsePayload, error) { delivered++ })
	ctx := context.Background()

	assert.True(t, flow.finish(ctx, &models.ExternalSignatureResponsePayload{}, nil))
	assert.False(t, flow.finish(ctx, nil, errors.ErrInternal("late")))
	assert.False(t, flow.finish(ctx, &models.ExternalSignatureResponsePayload{}, nil))
	assert.True(t, flow.done())
	assert.Equal(t, 1, delivered)
}

func TestClient_Callbacks(t *testing.T) {
	var fail atomic.Bool
	env := newTestEnv(t, func(msg *models.MusapMessage, plain []byte) reply {
		if fail.Load() {
			return reply{status: http.StatusBadGateway}
		}
		assert.Equal(t, "tx-5", msg.TransID)
		return reply{}
	})
	env.enrolled(t)
	ctx := context.Background()

	key := models.NewMusapKey("k1", "SOFTWARE", models.ECCP256R1)
	require.NoError(t, key.AssignKeyID("kid-1"))
	key.PublicKey = &models.PublicKey{DER: []byte{1, 2, 3}}
	sig := &models.Signature{RawSignature: []byte("sig"), Key: key}

	env.client.SendSignatureCallback(ctx, sig, "link-1", "tx-5")
	env.client.SendGenerateKeyCallback(ctx, key, models.UndeterminedAttestation("NONE"), "link-1", "tx-5")
	assert.Equal(t, 1, env.fake.count(constants.MessageTypeSignatureCallback))
	assert.Equal(t, 1, env.fake.count(constants.MessageTypeGenerateKeyCallback))

	var cb models.SignatureCallbackPayload
	require.NoError(t, json.Unmarshal(env.fake.last[constants.MessageTypeSignatureCallback], &cb))
	assert.Equal(t, "link-1", cb.LinkID)
	assert.Equal(t, "kid-1", cb.KeyID)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("sig")), cb.Signature)

	fail.Store(true)
	assert.NotPanics(t, func() { env.client.SendSignatureCallback(ctx, sig, "link-1", "tx-5") })
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.CallbackFailures.WithLabelValues(string(constants.MessageTypeSignatureCallback))))
}
