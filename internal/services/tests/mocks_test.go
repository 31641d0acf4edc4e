package services_test

import (
	"context"
	"errors"
	"io"

	"bytechat_go_backend/internal/models"
	"bytechat_go_backend/internal/services"

	"github.com/stretchr/testify/mock"
)

type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) Verify(ctx context.Context, accessToken string) (*services.UserInfo, error) {
	args := m.Called(ctx, accessToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.UserInfo), args.Error(1)
}

type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetOrCreateUser(ctx context.Context, email, name, picture string) (*models.User, error) {
	args := m.Called(ctx, email, name, picture)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserStore) ReconcileUsage(ctx context.Context, email string, consumed int64) (int64, error) {
	args := m.Called(ctx, email, consumed)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUserStore) ListUsers(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

type MockRelayOpener struct {
	mock.Mock
}

func (m *MockRelayOpener) OpenStream(ctx context.Context, req services.ChatRequest) (services.RelayStream, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(services.RelayStream), args.Error(1)
}

// stubStream replays a scripted frame sequence. After the frames are
// exhausted it yields err when set, io.EOF otherwise.
type stubStream struct {
	frames []*services.RelayFrame
	err    error
	closed bool
}

func (s *stubStream) Recv() (*services.RelayFrame, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	frame := s.frames[0]
	s.frames = s.frames[1:]
	return frame, nil
}

func (s *stubStream) Close() error {
	s.closed = true
	return nil
}

// recordingSink captures every delivered event. With failAfter >= 0 it
// rejects sends once that many events have been accepted, simulating a
// downstream disconnect.
type recordingSink struct {
	events    [][]byte
	failAfter int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failAfter: -1}
}

func (s *recordingSink) Send(data []byte) error {
	if s.failAfter >= 0 && len(s.events) >= s.failAfter {
		return errors.New("client disconnected")
	}
	s.events = append(s.events, append([]byte(nil), data...))
	return nil
}

func (s *recordingSink) strings() []string {
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = string(e)
	}
	return out
}
