// Package link implements the MUSAP Link protocol client.
package link

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/repository"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/crypto"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/monitoring"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// errNotEnrolled is returned by operations that need a MUSAP id.
var errNotEnrolled = stderrors.New("musap instance is not enrolled")

// Client is the Link protocol client.
type Client struct {
	cfg      config.LinkConfig
	http     *http.Client
	links    repository.LinkStore
	keys     *crypto.KeyGenerator
	envelope *crypto.Envelope
	metrics  *monitoring.Metrics
	logger   logger.Logger
	polls    singleflight.Group
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithMetrics records Link message metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient creates a new Link client.
func NewClient(cfg config.LinkConfig, links repository.LinkStore, keys *crypto.KeyGenerator, log logger.Logger, opts ...Option) *Client {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = constants.DefaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultLinkTimeout
	}
	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		links:    links,
		keys:     keys,
		envelope: crypto.NewEnvelope(keys),
		logger:   log.WithComponent("LinkClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ================================================================================
// Enroll / Couple / Poll
// ================================================================================

// Enroll derives the transport secrets, registers with Link and stores the
// resulting session. Any failure is logged and link is returned unchanged.
func (c *Client) Enroll(ctx context.Context, link *models.MusapLink, pushToken string) *models.MusapLink {
	target := &models.MusapLink{URL: c.cfg.URL}
	if link != nil && link.URL != "" {
		target.URL = link.URL
	}

	secret, err := c.keys.HkdfStatic(ctx)
	if err != nil {
		c.logger.Error(ctx, "Failed to derive enrollment secret", err)
		return link
	}

	req := models.EnrollDataPayload{ApnsToken: pushToken, Secret: secret}
	var resp models.EnrollDataResponsePayload
	if _, err := c.exchange(ctx, target.URL, "", constants.MessageTypeEnroll, "", req, &resp); err != nil {
		c.logger.Error(ctx, "Enrollment failed", err, logger.String("url", target.URL))
		return link
	}
	if resp.MusapID == "" {
		c.logger.Warn(ctx, "Enrollment response carried no musap id")
		return link
	}

	target.MusapID = resp.MusapID
	if err := c.links.PutLink(ctx, target); err != nil {
		c.logger.Error(ctx, "Failed to store link session", err)
		return link
	}
	c.logger.Info(ctx, "Enrolled with Link", logger.String("musap_id", resp.MusapID))
	return target
}

// Couple links a relying party using a coupling code and stores it.
func (c *Client) Couple(ctx context.Context, couplingCode string) (*models.RelyingParty, error) {
	if couplingCode == "" {
		return nil, errors.ErrMissingParam("couplingCode")
	}
	link, err := c.session(ctx)
	if err != nil {
		return nil, c.internal(ctx, "couple", err)
	}

	req := models.LinkAccountPayload{CouplingCode: couplingCode, MusapID: link.MusapID}
	var resp models.LinkAccountResponsePayload
	if _, err := c.exchange(ctx, link.URL, link.MusapID, constants.MessageTypeLinkAccount, "", req, &resp); err != nil {
		return nil, c.internal(ctx, "couple", err)
	}
	if resp.Status == constants.StatusFailed || resp.LinkID == "" {
		return nil, c.internal(ctx, "couple", fmt.Errorf("coupling rejected (status %q)", resp.Status))
	}

	rp := &models.RelyingParty{Name: resp.Name, LinkID: resp.LinkID}
	if err := c.links.AddRelyingParty(ctx, *rp); err != nil {
		return nil, c.internal(ctx, "couple", err)
	}
	c.logger.Info(ctx, "Coupled relying party", logger.String("name", rp.Name), logger.String("link_id", rp.LinkID))
	return rp, nil
}

// Poll fetches one pending signature request. It returns (nil, nil) when
// nothing is pending. Concurrent calls share one request, which is not bound
// to any single caller's cancellation.
func (c *Client) Poll(ctx context.Context) (*models.PollResponse, error) {
	v, err, _ := c.polls.Do("poll", func() (interface{}, error) {
		return c.poll(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PollResponse), nil
}

func (c *Client) poll(ctx context.Context) (*models.PollResponse, error) {
	link, err := c.session(ctx)
	if err != nil {
		return nil, c.internal(ctx, "poll", err)
	}

	msg, raw, err := c.send(ctx, link.URL, link.MusapID, constants.MessageTypePoll, "", struct{}{})
	if err != nil {
		return nil, c.internal(ctx, "poll", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if msg.TransID == "" {
		return nil, c.internal(ctx, "poll", fmt.Errorf("poll response without transaction id"))
	}

	var payload models.SignaturePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, c.internal(ctx, "poll", fmt.Errorf("failed to decode signature request: %w", err))
	}
	return &models.PollResponse{Payload: payload, TransID: msg.TransID}, nil
}

// ================================================================================
// Callbacks
// ================================================================================

// SendSignatureCallback reports sig to the relying party behind linkID.
// Failures are logged only.
func (c *Client) SendSignatureCallback(ctx context.Context, sig *models.Signature, linkID, transID string) {
	if sig == nil {
		return
	}
	payload := models.SignatureCallbackPayload{
		LinkID:    linkID,
		Signature: sig.B64(),
	}
	if sig.Key != nil {
		payload.KeyID = sig.Key.KeyID()
		if sig.Key.PublicKey != nil {
			payload.PublicKey = base64.StdEncoding.EncodeToString(sig.Key.PublicKey.DER)
		}
	}
	if sig.Attestation.AttestationType != "" {
		payload.Attestation = models.NewAttestationPayload(sig.Attestation)
	}
	c.sendCallback(ctx, constants.MessageTypeSignatureCallback, transID, payload)
}

// SendGenerateKeyCallback reports a generated key. Failures are logged only.
func (c *Client) SendGenerateKeyCallback(ctx context.Context, key *models.MusapKey, attestation models.KeyAttestationResult, linkID, transID string) {
	if key == nil {
		return
	}
	payload := models.GenerateKeyCallbackPayload{
		LinkID:      linkID,
		KeyID:       key.KeyID(),
		KeyURI:      key.KeyURI.String(),
		Attestation: models.NewAttestationPayload(attestation),
	}
	if key.PublicKey != nil {
		payload.PublicKey = base64.StdEncoding.EncodeToString(key.PublicKey.DER)
	}
	c.sendCallback(ctx, constants.MessageTypeGenerateKeyCallback, transID, payload)
}

func (c *Client) sendCallback(ctx context.Context, msgType constants.MessageType, transID string, payload interface{}) {
	link, err := c.session(ctx)
	if err == nil {
		_, _, err = c.send(ctx, link.URL, link.MusapID, msgType, transID, payload)
	}
	if err != nil {
		c.metrics.RecordCallbackFailure(string(msgType))
		c.logger.Error(ctx, "Callback failed", err,
			logger.String("type", string(msgType)),
			logger.String("trans_id", transID),
		)
		return
	}
	c.logger.Debug(ctx, "Callback sent", logger.String("type", string(msgType)), logger.String("trans_id", transID))
}

// ================================================================================
// Transport
// ================================================================================

func (c *Client) session(ctx context.Context) (*models.MusapLink, error) {
	link, err := c.links.GetLink(ctx)
	if err != nil {
		return nil, err
	}
	if !link.IsEnrolled() {
		return nil, errNotEnrolled
	}
	if link.URL == "" {
		link.URL = c.cfg.URL
	}
	return link, nil
}

// exchange sends in and decodes the response payload into out.
func (c *Client) exchange(ctx context.Context, url, musapID string, msgType constants.MessageType, transID string, in, out interface{}) (*models.MusapMessage, error) {
	msg, raw, err := c.send(ctx, url, musapID, msgType, transID, in)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty %s response", msgType)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", msgType, err)
	}
	return msg, nil
}

// send seals payload into a MusapMessage, POSTs it and opens the reply. The
// returned bytes are the reply's plaintext payload, empty if it had none.
func (c *Client) send(ctx context.Context, url, musapID string, msgType constants.MessageType, transID string, payload interface{}) (msg *models.MusapMessage, raw []byte, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordLinkMessage(string(msgType), err, time.Since(start)) }()

	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	out := &models.MusapMessage{
		Type:    msgType,
		MusapID: musapID,
		UUID:    uuid.NewString(),
		TransID: transID,
	}
	if err := c.envelope.Seal(ctx, out, plain); err != nil {
		return nil, nil, err
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s request failed: %w", msgType, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s response: %w", msgType, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%s request returned status %d", msgType, resp.StatusCode)
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return &models.MusapMessage{Type: msgType}, nil, nil
	}

	var in models.MusapMessage
	if err := json.Unmarshal(respBody, &in); err != nil {
		return nil, nil, fmt.Errorf("failed to decode %s response message: %w", msgType, err)
	}
	// Authentication is decided by the request type, never by the reply.
	if in.Type != "" && in.Type != msgType {
		return nil, nil, fmt.Errorf("%s request answered with %q message", msgType, in.Type)
	}
	in.Type = msgType
	if in.Payload == "" {
		return &in, nil, nil
	}
	raw, err = c.envelope.Open(ctx, &in)
	if err != nil {
		return nil, nil, err
	}
	return &in, raw, nil
}

// internal logs err and collapses it to the public internal error.
func (c *Client) internal(ctx context.Context, op string, err error) error {
	if me, ok := errors.AsMusapError(err); ok {
		return me
	}
	c.logger.Error(ctx, "Link operation failed", err, logger.String("operation", op))
	return errors.ErrInternal(op + " failed")
}

var _ service.LinkClient = (*Client)(nil)
