package service

import (
	"context"
	"maps"
	"sync"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
)

//go:generate mockery --name Sscd --output mocks --outpkg mocks
// Sscd is the capability interface every signing backend implements.
// A backend that cannot perform an operation returns errors.ErrUnsupportedOperation.
type Sscd interface {
	// GenerateKey creates a new key inside the backend.
	GenerateKey(ctx context.Context, req models.KeyGenReq) (*models.MusapKey, error)

	// BindKey adopts a key that already exists in the backend.
	BindKey(ctx context.Context, req models.KeyBindReq) (*models.MusapKey, error)

	// Sign signs req.Data with req.Key.
	Sign(ctx context.Context, req models.SignatureReq) (*models.Signature, error)

	// Info returns the backend descriptor. The returned pointer is shared, so
	// its id assignment is visible to the backend.
	Info() *models.SscdInfo

	IsKeygenSupported() bool

	// Attestation returns the provider used to attest keys of this backend.
	Attestation() AttestationProvider

	// Settings returns the backend's key/value settings bag.
	Settings() *Settings
}

// AttestationProvider produces key attestation results.
type AttestationProvider interface {
	Type() string
	Attest(ctx context.Context, key *models.MusapKey) (models.KeyAttestationResult, error)
}

// NoAttestation makes no claim about any key.
type NoAttestation struct{}

func (NoAttestation) Type() string { return "NONE" }

func (n NoAttestation) Attest(context.Context, *models.MusapKey) (models.KeyAttestationResult, error) {
	return models.UndeterminedAttestation(n.Type()), nil
}

// Settings is a concurrency-safe string settings bag.
type Settings struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSettings copies initial into a new bag.
func NewSettings(initial map[string]string) *Settings {
	s := &Settings{values: make(map[string]string, len(initial))}
	maps.Copy(s.values, initial)
	return s
}

// Get returns a setting.
func (s *Settings) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// GetOr returns a setting or def.
func (s *Settings) GetOr(name, def string) string {
	if v, ok := s.Get(name); ok {
		return v
	}
	return def
}

// Set stores a setting.
func (s *Settings) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

// All returns a copy of every setting.
func (s *Settings) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

//go:generate mockery --name EventPublisher --output mocks --outpkg mocks
// EventPublisher delivers key lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event models.KeyEvent) error
	Close() error
}

//go:generate mockery --name LinkClient --output mocks --outpkg mocks
// LinkClient speaks the MUSAP Link protocol.
type LinkClient interface {
	// Enroll registers this instance. On failure the original link is returned
	// unchanged; callers check IsEnrolled.
	Enroll(ctx context.Context, link *models.MusapLink, pushToken string) *models.MusapLink

	// Couple links a relying party using a coupling code.
	Couple(ctx context.Context, couplingCode string) (*models.RelyingParty, error)

	// Poll fetches one pending signature request.
	Poll(ctx context.Context) (*models.PollResponse, error)

	// Sign requests an external signature and re-polls while it is pending.
	Sign(ctx context.Context, payload models.ExternalSignaturePayload) (*models.ExternalSignatureResponsePayload, error)

	// SendSignatureCallback and SendGenerateKeyCallback are fire-and-forget.
	SendSignatureCallback(ctx context.Context, sig *models.Signature, linkID, transID string)
	SendGenerateKeyCallback(ctx context.Context, key *models.MusapKey, attestation models.KeyAttestationResult, linkID, transID string)
}
