package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
)

func strPtr(s string) *string { return &s }

type MusapServiceTestSuite struct {
	suite.Suite
	ctx context.Context
	env *testEnv
}

func (s *MusapServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.env = newTestEnv(s.T())
}

func TestMusapServiceTestSuite(t *testing.T) {
	suite.Run(t, new(MusapServiceTestSuite))
}

func (s *MusapServiceTestSuite) TestSscds() {
	enabled := s.env.service.ListEnabledSscds()
	s.Require().Len(enabled, 1)
	s.Equal("sw-1", enabled[0].Info().ID())

	backend, err := s.env.service.GetSscd("sw-1")
	s.Require().NoError(err)
	s.Same(s.env.software, backend)

	_, err = s.env.service.GetSscd("missing")
	s.True(errors.IsCode(err, constants.ErrCodeIllegalArgument))

	info := s.env.software.Info()
	alg := models.ECCP256R1
	found := s.env.service.SearchSscds(models.SscdSearchReq{SscdType: info.Type, Country: info.Country, Provider: info.Provider, Algorithm: &alg})
	s.Len(found, 1)
	s.Empty(s.env.service.SearchSscds(models.SscdSearchReq{SscdType: info.Type}))

	active, err := s.env.service.ListActiveSscds(s.ctx)
	s.Require().NoError(err)
	s.Empty(active)
}

func (s *MusapServiceTestSuite) TestListAndRemoveKeys() {
	s.env.generate(s.T(), "a")
	s.env.generate(s.T(), "b")

	keys, err := s.env.service.ListKeys(s.ctx, models.KeySearchReq{})
	s.Require().NoError(err)
	s.Len(keys, 2)

	keys, err = s.env.service.ListKeys(s.ctx, models.KeySearchReq{KeyAlias: "b"})
	s.Require().NoError(err)
	s.Require().Len(keys, 1)
	s.Equal("b", keys[0].KeyAlias)

	removed, err := s.env.service.RemoveKey(s.ctx, "a")
	s.Require().NoError(err)
	s.True(removed)

	removed, err = s.env.service.RemoveKey(s.ctx, "a")
	s.Require().NoError(err)
	s.False(removed)

	_, err = s.env.service.GetKeyByAlias(s.ctx, "a")
	s.True(errors.IsCode(err, constants.ErrCodeUnknownKey))
	s.Contains(s.env.publishedTypes(), constants.KeyEventRemoved)
}

func (s *MusapServiceTestSuite) TestUpdateKey() {
	key := s.env.generate(s.T(), "k1")

	changed, err := s.env.service.UpdateKey(s.ctx, models.UpdateKeyReq{
		Key:        key,
		State:      strPtr(models.KeyStateRevoked),
		Attributes: []models.UpdateAttribute{{Name: "serial", Value: nil}},
	})
	s.Require().NoError(err)
	s.True(changed)

	stored, err := s.env.service.GetKeyByAlias(s.ctx, "k1")
	s.Require().NoError(err)
	s.Equal(models.KeyStateRevoked, stored.State)
	_, hasSerial := stored.Attributes.Get("serial")
	s.False(hasSerial)
	s.Contains(s.env.publishedTypes(), constants.KeyEventUpdated)

	_, err = s.env.service.Sign(s.ctx, models.SignatureReq{Key: stored, Data: []byte("x")})
	s.True(errors.IsCode(err, constants.ErrCodeKeyBlocked))
}

func (s *MusapServiceTestSuite) TestExportImport() {
	key := s.env.generate(s.T(), "exported")

	doc, err := s.env.service.Export(s.ctx)
	s.Require().NoError(err)
	s.Contains(string(doc), `"exported"`)

	// Importing into the same store skips the key with an equal KeyURI.
	s.Require().NoError(s.env.service.Import(s.ctx, doc))
	keys, err := s.env.service.ListKeys(s.ctx, models.KeySearchReq{})
	s.Require().NoError(err)
	s.Len(keys, 1)

	_, err = s.env.service.RemoveKey(s.ctx, "exported")
	s.Require().NoError(err)
	s.Require().NoError(s.env.service.Import(s.ctx, doc))

	restored, err := s.env.service.GetKeyByAlias(s.ctx, "exported")
	s.Require().NoError(err)
	s.Equal(key.KeyID(), restored.KeyID())
	s.True(restored.KeyURI.Equal(key.KeyURI))

	err = s.env.service.Import(s.ctx, []byte("not json"))
	s.True(errors.IsCode(err, constants.ErrCodeWrongParam))
}

func (s *MusapServiceTestSuite) TestRelyingParties() {
	s.Require().NoError(s.env.links.AddRelyingParty(s.ctx, models.RelyingParty{Name: "Bank", LinkID: "RP-1"}))

	rps, err := s.env.service.ListRelyingParties(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(rps, 1)

	removed, err := s.env.service.RemoveRelyingParty(s.ctx, "rp-1")
	s.Require().NoError(err)
	s.True(removed)

	removed, err = s.env.service.RemoveRelyingParty(s.ctx, "rp-1")
	s.Require().NoError(err)
	s.False(removed)

	_, err = s.env.service.RemoveRelyingParty(s.ctx, "")
	s.True(errors.IsCode(err, constants.ErrCodeMissingParam))

	link, err := s.env.service.GetLink(s.ctx)
	s.Require().NoError(err)
	s.Nil(link)
}
