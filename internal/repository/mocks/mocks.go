package mocks

import (
	"context"

	"github.com/rpggio/dutylog/internal/domain/audit"
	"github.com/rpggio/dutylog/internal/domain/protocol"
	"github.com/stretchr/testify/mock"
)

// ProtocolRepository is a mock for protocol.Repository.
type ProtocolRepository struct {
	mock.Mock
}

func (m *ProtocolRepository) Create(ctx context.Context, p *protocol.Protocol) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *ProtocolRepository) Get(ctx context.Context, id string) (*protocol.Protocol, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*protocol.Protocol); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProtocolRepository) Update(ctx context.Context, p *protocol.Protocol, expectedRevision int64) error {
	args := m.Called(ctx, p, expectedRevision)
	return args.Error(0)
}

func (m *ProtocolRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *ProtocolRepository) List(ctx context.Context, opts protocol.ListOptions) ([]protocol.Protocol, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]protocol.Protocol); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// AuditRepository is a mock for audit.Repository.
type AuditRepository struct {
	mock.Mock
}

func (m *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *AuditRepository) List(ctx context.Context, opts audit.ListOptions) ([]audit.Entry, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]audit.Entry); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}
