// Package mocks holds testify mocks shared by adapter tests.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/wabridge/api/schemas"
)

// -- Messenger Mock --

// MockMessenger mocks the session manager as seen by the HTTP adapter.
type MockMessenger struct {
	mock.Mock
}

func (m *MockMessenger) Login(ctx context.Context, account string) (schemas.LoginResult, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return schemas.LoginResult{}, args.Error(1)
	}
	return args.Get(0).(schemas.LoginResult), args.Error(1)
}

func (m *MockMessenger) Accounts() ([]string, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockMessenger) Chats(ctx context.Context, account string) ([]schemas.Chat, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Chat), args.Error(1)
}

func (m *MockMessenger) SendMessage(ctx context.Context, account, target, text string) error {
	return m.Called(ctx, account, target, text).Error(0)
}

func (m *MockMessenger) SendFile(ctx context.Context, account, target, path string) error {
	return m.Called(ctx, account, target, path).Error(0)
}

func (m *MockMessenger) Close(ctx context.Context, account string) error {
	return m.Called(ctx, account).Error(0)
}

func (m *MockMessenger) UnreadMessages(ctx context.Context, account string) (schemas.MessageBatch, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(schemas.MessageBatch), args.Error(1)
}
