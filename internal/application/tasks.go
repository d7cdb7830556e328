// Package application composes the SSCD backends, the metadata store and the
// Link client into the user-facing MUSAP operations.
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/repository"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/monitoring"
	"github.com/methics/musap-ios-sub000/internal/sscd"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// Task names used for spans and metrics.
const (
	TaskGenerateKey           = "generate_key"
	TaskBindKey               = "bind_key"
	TaskSign                  = "sign"
	TaskCouple                = "couple"
	TaskEnroll                = "enroll"
	TaskPoll                  = "poll"
	TaskRemoveKey             = "remove_key"
	TaskUpdateKey             = "update_key"
	TaskImport                = "import"
	TaskExport                = "export"
	TaskHandleSignatureReq    = "handle_signature_request"
	TaskListRelyingParties    = "list_relying_parties"
	TaskRemoveRelyingParty    = "remove_relying_party"
	TaskSendKeygenCallback    = "send_keygen_callback"
	TaskSendSignatureCallback = "send_signature_callback"
)

// Tasks runs the individual MUSAP operations. Every error it returns is a
// MusapError.
type Tasks struct {
	registry *sscd.Registry
	store    repository.MetadataStore
	links    repository.LinkStore
	link     service.LinkClient
	events   service.EventPublisher
	metrics  *monitoring.Metrics
	tracer   *monitoring.TracingManager
	logger   logger.Logger
}

// TaskOption configures optional collaborators of Tasks.
type TaskOption func(*Tasks)

// WithEvents publishes key lifecycle events through p.
func WithEvents(p service.EventPublisher) TaskOption {
	return func(t *Tasks) { t.events = p }
}

// WithMetrics records task outcomes.
func WithMetrics(m *monitoring.Metrics) TaskOption {
	return func(t *Tasks) { t.metrics = m }
}

// WithTracing opens a span per task.
func WithTracing(tm *monitoring.TracingManager) TaskOption {
	return func(t *Tasks) { t.tracer = tm }
}

// NewTasks creates a new Tasks.
func NewTasks(
	registry *sscd.Registry,
	store repository.MetadataStore,
	links repository.LinkStore,
	link service.LinkClient,
	log logger.Logger,
	opts ...TaskOption,
) *Tasks {
	t := &Tasks{
		registry: registry,
		store:    store,
		links:    links,
		link:     link,
		logger:   log.WithComponent("Tasks"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// run wraps fn in a span, records its outcome and translates its error.
func (t *Tasks) run(ctx context.Context, task string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := t.tracer.StartSpan(ctx, "musap."+task, attrs...)
	err := fn(ctx)
	monitoring.EndSpan(span, err)
	t.metrics.RecordTask(task, err)
	if err == nil {
		return nil
	}

	musapErr := errors.Translate(err)
	t.logger.Error(ctx, "Task failed", err,
		logger.String("task", task),
		logger.Int("code", int(musapErr.Code())),
	)
	return musapErr
}

// ================================================================================
// Key Tasks
// ================================================================================

// GenerateKey generates a key on backend and stores it.
func (t *Tasks) GenerateKey(ctx context.Context, backend service.Sscd, req models.KeyGenReq) (*models.MusapKey, error) {
	var key *models.MusapKey
	err := t.run(ctx, TaskGenerateKey, func(ctx context.Context) error {
		if backend == nil {
			return errors.ErrMissingParam("sscd")
		}
		if req.KeyAlias == "" {
			return errors.ErrMissingParam("keyAlias")
		}
		if err := t.checkAliasFree(ctx, req.KeyAlias); err != nil {
			return err
		}
		if !backend.IsKeygenSupported() {
			return errors.ErrKeygenUnsupported(backend.Info().Name)
		}

		generated, err := backend.GenerateKey(ctx, req)
		if err != nil {
			return err
		}
		if err := t.persist(ctx, backend, generated); err != nil {
			return err
		}
		key = generated
		t.publish(ctx, constants.KeyEventGenerated, key)
		return nil
	}, attribute.String("key.alias", req.KeyAlias))
	if err != nil {
		return nil, err
	}
	return key, nil
}

// BindKey binds an existing backend key and stores it.
func (t *Tasks) BindKey(ctx context.Context, backend service.Sscd, req models.KeyBindReq) (*models.MusapKey, error) {
	var key *models.MusapKey
	err := t.run(ctx, TaskBindKey, func(ctx context.Context) error {
		if backend == nil {
			return errors.ErrMissingParam("sscd")
		}
		if req.KeyAlias == "" {
			return errors.ErrMissingParam("keyAlias")
		}
		if err := t.checkAliasFree(ctx, req.KeyAlias); err != nil {
			return err
		}

		bound, err := backend.BindKey(ctx, req)
		if err != nil {
			return err
		}
		if err := t.persist(ctx, backend, bound); err != nil {
			return err
		}
		key = bound
		t.publish(ctx, constants.KeyEventBound, key)
		return nil
	}, attribute.String("key.alias", req.KeyAlias))
	if err != nil {
		return nil, err
	}
	return key, nil
}

// Sign signs with the backend owning req.Key. The signature carries the
// attestation of the key at signing time.
func (t *Tasks) Sign(ctx context.Context, req models.SignatureReq) (*models.Signature, error) {
	var sig *models.Signature
	err := t.run(ctx, TaskSign, func(ctx context.Context) error {
		if req.Key == nil {
			return errors.ErrMissingParam("key")
		}
		if !req.Key.IsActive() {
			return errors.ErrKeyBlocked(req.Key.KeyAlias)
		}
		backend, err := t.registry.ForKey(req.Key)
		if err != nil {
			return err
		}

		signed, err := backend.Sign(ctx, req)
		if err != nil {
			return err
		}
		if signed.Key == nil {
			signed.Key = req.Key
		}
		signed.Attestation = t.attest(ctx, backend, signed.Key)
		sig = signed
		t.publish(ctx, constants.KeyEventSigned, req.Key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// checkAliasFree fails with keyAlreadyExists when alias is taken.
func (t *Tasks) checkAliasFree(ctx context.Context, alias string) error {
	_, err := t.store.GetKeyByAlias(ctx, alias)
	switch {
	case err == nil:
		return errors.ErrKeyAlreadyExists(alias)
	case errors.IsCode(err, constants.ErrCodeUnknownKey):
		return nil
	default:
		return err
	}
}

// persist stamps key with the owning SSCD id and KeyURI and stores it. It
// fails with keyAlreadyExists when the alias was taken meanwhile.
func (t *Tasks) persist(ctx context.Context, backend service.Sscd, key *models.MusapKey) error {
	if key == nil {
		return errors.ErrInternal("backend returned no key")
	}
	info := backend.Info()
	if !info.HasID() {
		if err := info.AssignID(uuid.NewString()); err != nil {
			return errors.ErrIllegalArgument(err.Error())
		}
	}
	if err := key.AssignSscdID(info.ID()); err != nil {
		return errors.ErrIllegalArgument(err.Error())
	}
	key.KeyURI = models.DeriveKeyURI(key, info)
	err := t.store.InsertKey(ctx, key, info)
	if errors.IsCode(err, constants.ErrCodeKeyAlreadyExists) {
		// Lost the alias to a concurrent task after the backend created the key.
		t.logger.Warn(ctx, "Backend key left without metadata",
			logger.String("key_alias", key.KeyAlias),
			logger.String("key_id", key.KeyID()),
			logger.String("sscd_id", info.ID()),
		)
	}
	return err
}

func (t *Tasks) attest(ctx context.Context, backend service.Sscd, key *models.MusapKey) models.KeyAttestationResult {
	provider := backend.Attestation()
	if provider == nil || key == nil {
		return models.UndeterminedAttestation(service.NoAttestation{}.Type())
	}
	result, err := provider.Attest(ctx, key)
	if err != nil {
		t.logger.Warn(ctx, "Key attestation failed",
			logger.String("key_alias", key.KeyAlias),
			logger.String("attestation_type", provider.Type()),
			logger.Err(err),
		)
		return models.UndeterminedAttestation(provider.Type())
	}
	return result
}

// publish sends a key event. Failures are only logged.
func (t *Tasks) publish(ctx context.Context, eventType constants.KeyEventType, key *models.MusapKey) {
	if t.events == nil || key == nil {
		return
	}
	event := models.KeyEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		KeyAlias:  key.KeyAlias,
		KeyID:     key.KeyID(),
		SscdID:    key.SscdID(),
		SscdType:  key.SscdType,
		KeyURI:    key.KeyURI.String(),
		Timestamp: time.Now().UTC(),
	}
	if err := t.events.Publish(ctx, event); err != nil {
		t.logger.Warn(ctx, "Failed to publish key event",
			logger.String("event_type", string(eventType)),
			logger.String("key_alias", key.KeyAlias),
			logger.Err(err),
		)
	}
}

// ================================================================================
// Link Tasks
// ================================================================================

// Enroll registers this instance with Link unless it already is.
func (t *Tasks) Enroll(ctx context.Context, url, pushToken string) (*models.MusapLink, error) {
	var enrolled *models.MusapLink
	err := t.run(ctx, TaskEnroll, func(ctx context.Context) error {
		current, err := t.links.GetLink(ctx)
		if err != nil {
			return err
		}
		if current.IsEnrolled() && (url == "" || current.URL == url) {
			enrolled = current
			return nil
		}

		result := t.link.Enroll(ctx, &models.MusapLink{URL: url}, pushToken)
		if !result.IsEnrolled() {
			return errors.ErrInternal("enrollment to Link failed")
		}
		enrolled = result
		return nil
	}, attribute.String("link.url", url))
	if err != nil {
		return nil, err
	}
	return enrolled, nil
}

// Couple couples a relying party by coupling code.
func (t *Tasks) Couple(ctx context.Context, couplingCode string) (*models.RelyingParty, error) {
	var rp *models.RelyingParty
	err := t.run(ctx, TaskCouple, func(ctx context.Context) error {
		var err error
		rp, err = t.link.Couple(ctx, couplingCode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rp, nil
}

// Poll fetches one pending request. It returns (nil, nil) when nothing is pending.
func (t *Tasks) Poll(ctx context.Context) (*models.PollResponse, error) {
	var resp *models.PollResponse
	err := t.run(ctx, TaskPoll, func(ctx context.Context) error {
		var err error
		resp, err = t.link.Poll(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// SendSignatureCallback reports sig to the relying party. Delivery failures
// are logged by the Link client only.
func (t *Tasks) SendSignatureCallback(ctx context.Context, sig *models.Signature, linkID, transID string) {
	ctx, span := t.tracer.StartSpan(ctx, "musap."+TaskSendSignatureCallback, attribute.String("link.transid", transID))
	defer span.End()
	if sig == nil {
		t.logger.Warn(ctx, "No signature to report", logger.String("transid", transID))
		return
	}
	t.link.SendSignatureCallback(ctx, sig, linkID, transID)
}

// SendKeygenCallback reports a generated key, with its attestation, to the
// relying party.
func (t *Tasks) SendKeygenCallback(ctx context.Context, key *models.MusapKey, linkID, transID string) {
	ctx, span := t.tracer.StartSpan(ctx, "musap."+TaskSendKeygenCallback, attribute.String("link.transid", transID))
	defer span.End()
	if key == nil {
		t.logger.Warn(ctx, "No key to report", logger.String("transid", transID))
		return
	}

	attestation := models.UndeterminedAttestation(service.NoAttestation{}.Type())
	if backend, err := t.registry.ForKey(key); err == nil {
		attestation = t.attest(ctx, backend, key)
	}
	t.link.SendGenerateKeyCallback(ctx, key, attestation, linkID, transID)
}
