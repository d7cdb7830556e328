package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
)

// MockSscd is a mock implementation of service.Sscd
type MockSscd struct {
	mock.Mock
}

func (m *MockSscd) GenerateKey(ctx context.Context, req models.KeyGenReq) (*models.MusapKey, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MusapKey), args.Error(1)
}

func (m *MockSscd) BindKey(ctx context.Context, req models.KeyBindReq) (*models.MusapKey, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MusapKey), args.Error(1)
}

func (m *MockSscd) Sign(ctx context.Context, req models.SignatureReq) (*models.Signature, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Signature), args.Error(1)
}

func (m *MockSscd) Info() *models.SscdInfo {
	args := m.Called()
	return args.Get(0).(*models.SscdInfo)
}

func (m *MockSscd) IsKeygenSupported() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockSscd) Attestation() service.AttestationProvider {
	args := m.Called()
	if args.Get(0) == nil {
		return service.NoAttestation{}
	}
	return args.Get(0).(service.AttestationProvider)
}

func (m *MockSscd) Settings() *service.Settings {
	args := m.Called()
	if args.Get(0) == nil {
		return service.NewSettings(nil)
	}
	return args.Get(0).(*service.Settings)
}

// MockEventPublisher is a mock implementation of service.EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, event models.KeyEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockLinkClient is a mock implementation of service.LinkClient
type MockLinkClient struct {
	mock.Mock
}

func (m *MockLinkClient) Enroll(ctx context.Context, link *models.MusapLink, pushToken string) *models.MusapLink {
	args := m.Called(ctx, link, pushToken)
	return args.Get(0).(*models.MusapLink)
}

func (m *MockLinkClient) Couple(ctx context.Context, couplingCode string) (*models.RelyingParty, error) {
	args := m.Called(ctx, couplingCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RelyingParty), args.Error(1)
}

func (m *MockLinkClient) Poll(ctx context.Context) (*models.PollResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PollResponse), args.Error(1)
}

func (m *MockLinkClient) Sign(ctx context.Context, payload models.ExternalSignaturePayload) (*models.ExternalSignatureResponsePayload, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExternalSignatureResponsePayload), args.Error(1)
}

func (m *MockLinkClient) SendSignatureCallback(ctx context.Context, sig *models.Signature, linkID, transID string) {
	m.Called(ctx, sig, linkID, transID)
}

func (m *MockLinkClient) SendGenerateKeyCallback(ctx context.Context, key *models.MusapKey, attestation models.KeyAttestationResult, linkID, transID string) {
	m.Called(ctx, key, attestation, linkID, transID)
}

var (
	_ service.Sscd           = (*MockSscd)(nil)
	_ service.EventPublisher = (*MockEventPublisher)(nil)
	_ service.LinkClient     = (*MockLinkClient)(nil)
)
