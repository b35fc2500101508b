package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gantry/internal/storage"
	"gantry/pkg/domain"
	"gantry/pkg/domainerrors"
)

type HandleSuite struct {
	suite.Suite
	ctx      context.Context
	engine   *storage.Memory
	tenantID domain.TenantID
	handle   *Handle
}

func TestHandleSuite(t *testing.T) {
	suite.Run(t, new(HandleSuite))
}

func (s *HandleSuite) SetupTest() {
	s.ctx = context.Background()
	s.engine = storage.NewMemory(map[string][]string{"item": {"name"}})
	s.tenantID = domain.TenantID(uuid.New())
	s.handle = New(s.engine, "item", storage.Scope{TenantID: s.tenantID}, Policy{
		DefaultPageSize: 25,
		MaxPageSize:     100,
	})
}

func (s *HandleSuite) TestNullOnAbsenceContract() {
	s.Run("FindOne returns nil, not an error", func() {
		e, err := s.handle.FindOne(s.ctx, uuid.NewString())
		s.Require().NoError(err)
		s.Nil(e)
	})

	s.Run("Update returns nil mutation", func() {
		m, err := s.handle.Update(s.ctx, uuid.NewString(), map[string]any{"name": "x"})
		s.Require().NoError(err)
		s.Nil(m)
	})

	s.Run("Delete returns nil mutation", func() {
		m, err := s.handle.Delete(s.ctx, "ffffffff")
		s.Require().NoError(err)
		s.Nil(m)
	})
}

func (s *HandleSuite) TestInsert() {
	s.Run("create mutation carries the written row only", func() {
		m, err := s.handle.Insert(s.ctx, map[string]any{"name": "Acme"})
		s.Require().NoError(err)
		s.Equal(domain.ActionCreate, m.Action)
		s.Nil(m.Before)
		s.Require().NotNil(m.After)
		s.NotEmpty(m.After.ID)
		s.Equal("Acme", m.After.Fields["name"])
		s.Equal(s.tenantID, m.After.TenantID)
	})

	s.Run("uniqueness violation maps to conflict", func() {
		_, err := s.handle.Insert(s.ctx, map[string]any{"name": "Acme"})
		s.Require().Error(err)
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
	})

	s.Run("cross-tenant scope refuses inserts", func() {
		wide := New(s.engine, "item", storage.Scope{AllTenants: true}, Policy{})
		_, err := wide.Insert(s.ctx, map[string]any{"name": "Nope"})
		s.Require().Error(err)
		s.True(domainerrors.HasCode(err, domainerrors.CodeBadRequest))
	})
}

func (s *HandleSuite) TestUpdate() {
	m, err := s.handle.Insert(s.ctx, map[string]any{"name": "Acme", "tier": "free"})
	s.Require().NoError(err)

	upd, err := s.handle.Update(s.ctx, m.After.ID, map[string]any{"name": "Acme Inc"})
	s.Require().NoError(err)
	s.Equal(domain.ActionUpdate, upd.Action)
	s.Equal("Acme", upd.Before.Fields["name"])
	s.Equal("Acme Inc", upd.After.Fields["name"])
	s.Equal(map[string]any{"name": "Acme Inc"}, upd.Patch)
	s.Equal(upd.After, upd.Entity())
}

func (s *HandleSuite) TestDelete() {
	m, err := s.handle.Insert(s.ctx, map[string]any{"name": "Acme"})
	s.Require().NoError(err)

	del, err := s.handle.Delete(s.ctx, m.After.ID)
	s.Require().NoError(err)
	s.Equal(domain.ActionDelete, del.Action)
	s.Nil(del.After)
	s.Equal("Acme", del.Before.Fields["name"])
	s.Equal(del.Before, del.Entity())
}

func (s *HandleSuite) TestListBounds() {
	for i := 0; i < 7; i++ {
		_, err := s.handle.Insert(s.ctx, map[string]any{"name": string(rune('a' + i))})
		s.Require().NoError(err)
	}

	s.Run("page size clamps to maximum", func() {
		bounded := New(s.engine, "item", storage.Scope{TenantID: s.tenantID}, Policy{DefaultPageSize: 2, MaxPageSize: 3})
		res, err := bounded.List(s.ctx, nil, Page{Number: 1, Size: 500}, storage.Sort{Field: "name"})
		s.Require().NoError(err)
		s.Len(res.Items, 3)
		s.Equal(7, res.Total)
	})

	s.Run("zero page size uses default", func() {
		bounded := New(s.engine, "item", storage.Scope{TenantID: s.tenantID}, Policy{DefaultPageSize: 2, MaxPageSize: 3})
		res, err := bounded.List(s.ctx, nil, Page{}, storage.Sort{Field: "name"})
		s.Require().NoError(err)
		s.Len(res.Items, 2)
	})

	s.Run("pages are 1-based", func() {
		res, err := s.handle.List(s.ctx, nil, Page{Number: 2, Size: 3}, storage.Sort{Field: "name"})
		s.Require().NoError(err)
		s.Require().Len(res.Items, 3)
		s.Equal("d", res.Items[0].Fields["name"])
	})
}
