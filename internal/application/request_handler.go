package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// SignatureRequestResult is the outcome of one Link request. Signature is nil
// for generate-only requests.
type SignatureRequestResult struct {
	Key       *models.MusapKey
	Signature *models.Signature
}

// RequestHandler answers signature requests polled from Link.
type RequestHandler struct {
	tasks         *Tasks
	defaultKeygen string
	logger        logger.Logger
}

// NewRequestHandler creates a new RequestHandler. Keys requested by Link are
// generated on the enabled backend of type defaultKeygen (case-insensitive), or on the first
// enabled backend that supports key generation when it is empty.
func NewRequestHandler(tasks *Tasks, defaultKeygen string, log logger.Logger) *RequestHandler {
	return &RequestHandler{
		tasks:         tasks,
		defaultKeygen: strings.ToUpper(defaultKeygen),
		logger:        log.WithComponent("RequestHandler"),
	}
}

// Handle processes req according to its mode and reports the result to the
// relying party. Callback delivery failures never fail the request.
func (h *RequestHandler) Handle(ctx context.Context, req *models.PollResponse) (*SignatureRequestResult, error) {
	if req == nil {
		return nil, errors.ErrMissingParam("request")
	}
	payload := req.Payload
	mode := payload.RequestedMode()

	var result *SignatureRequestResult
	err := h.tasks.run(ctx, TaskHandleSignatureReq, func(ctx context.Context) error {
		h.logger.Info(ctx, "Handling Link request",
			logger.String("transid", req.TransID),
			logger.String("mode", string(mode)),
			logger.String("link_id", payload.LinkID),
		)

		var err error
		switch mode {
		case constants.ModeSign:
			result, err = h.sign(ctx, req)
		case constants.ModeGenerateOnly:
			result, err = h.generateOnly(ctx, req)
		case constants.ModeGenerateSign:
			result, err = h.generateAndSign(ctx, req)
		default:
			err = errors.ErrWrongParam(fmt.Sprintf("unknown request mode %q", mode))
		}
		return err
	},
		attribute.String("link.transid", req.TransID),
		attribute.String("link.mode", string(mode)),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *RequestHandler) sign(ctx context.Context, req *models.PollResponse) (*SignatureRequestResult, error) {
	key, err := h.resolveKey(ctx, req.Payload.Key)
	if err != nil {
		return nil, err
	}
	sig, err := h.signWith(ctx, key, req)
	if err != nil {
		return nil, err
	}
	h.tasks.SendSignatureCallback(ctx, sig, req.Payload.LinkID, req.TransID)
	return &SignatureRequestResult{Key: key, Signature: sig}, nil
}

func (h *RequestHandler) generateOnly(ctx context.Context, req *models.PollResponse) (*SignatureRequestResult, error) {
	key, err := h.generate(ctx, &req.Payload)
	if err != nil {
		return nil, err
	}
	h.tasks.SendKeygenCallback(ctx, key, req.Payload.LinkID, req.TransID)
	return &SignatureRequestResult{Key: key}, nil
}

func (h *RequestHandler) generateAndSign(ctx context.Context, req *models.PollResponse) (*SignatureRequestResult, error) {
	key, err := h.generate(ctx, &req.Payload)
	if err != nil {
		return nil, err
	}
	sig, err := h.signWith(ctx, key, req)
	if err != nil {
		return nil, err
	}
	h.tasks.SendSignatureCallback(ctx, sig, req.Payload.LinkID, req.TransID)
	return &SignatureRequestResult{Key: key, Signature: sig}, nil
}

func (h *RequestHandler) signWith(ctx context.Context, key *models.MusapKey, req *models.PollResponse) (*models.Signature, error) {
	data, err := req.Payload.DecodedData()
	if err != nil {
		return nil, errors.ErrWrongParam("data is not valid base64").WithCause(err)
	}
	if len(data) == 0 {
		return nil, errors.ErrMissingParam("data")
	}
	return h.tasks.Sign(ctx, models.SignatureReq{
		Key:         key,
		Data:        data,
		DisplayText: req.Payload.Display,
		Algorithm:   req.Payload.RequestedAlgorithm(),
		Format:      req.Payload.Format,
		Attributes:  req.Payload.Attributes,
		TransID:     req.TransID,
	})
}

// resolveKey finds the requested key by id, then alias, then public key hash.
func (h *RequestHandler) resolveKey(ctx context.Context, ref *models.SignaturePayloadKey) (*models.MusapKey, error) {
	if ref == nil {
		return nil, errors.ErrMissingParam("key")
	}
	store := h.tasks.store
	switch {
	case ref.KeyID != "":
		return store.GetKeyByID(ctx, ref.KeyID)
	case ref.KeyAlias != "":
		return store.GetKeyByAlias(ctx, ref.KeyAlias)
	case ref.PublicKeyHash != "":
		return store.GetKeyByPublicKeyHash(ctx, ref.PublicKeyHash)
	default:
		return nil, errors.ErrMissingParam("key")
	}
}

func (h *RequestHandler) generate(ctx context.Context, payload *models.SignaturePayload) (*models.MusapKey, error) {
	backend, err := h.keygenBackend()
	if err != nil {
		return nil, err
	}

	alg := models.ECCP256R1
	alias := "link-" + uuid.NewString()
	if payload.GenKey != nil {
		if payload.GenKey.KeyAlgorithm != "" {
			parsed, err := models.ParseKeyAlgorithm(payload.GenKey.KeyAlgorithm)
			if err != nil {
				return nil, errors.ErrInvalidAlgorithm(payload.GenKey.KeyAlgorithm).WithCause(err)
			}
			alg = parsed
		}
		if payload.GenKey.KeyAlias != "" {
			alias = payload.GenKey.KeyAlias
		}
	}

	return h.tasks.GenerateKey(ctx, backend, models.KeyGenReq{
		KeyAlias:   alias,
		Algorithm:  alg,
		Attributes: payload.Attributes,
	})
}

func (h *RequestHandler) keygenBackend() (service.Sscd, error) {
	registry := h.tasks.registry
	if h.defaultKeygen != "" {
		backend, ok := registry.GetByType(h.defaultKeygen)
		if !ok {
			return nil, errors.ErrIllegalArgument(fmt.Sprintf("default keygen sscd %q is not enabled", h.defaultKeygen))
		}
		return backend, nil
	}
	for _, backend := range registry.ListEnabled() {
		if backend.IsKeygenSupported() {
			return backend, nil
		}
	}
	return nil, errors.ErrKeygenUnsupported("no enabled sscd supports key generation")
}
