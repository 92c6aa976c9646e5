package userstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	trueface "github.com/trueface/trueface"
)

// Memory is an in-memory [trueface.UserStore]. It never fails with
// backend errors, which makes engine behavior deterministic in tests.
type Memory struct {
	mu     sync.RWMutex
	byID   map[string]*trueface.UserRecord
	byName map[string]string
}

// NewMemory returns an empty in-memory user store.
func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[string]*trueface.UserRecord),
		byName: make(map[string]string),
	}
}

func (m *Memory) GetUser(_ context.Context, userID string) (*trueface.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.byID[userID]
	if !ok {
		return nil, trueface.ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*trueface.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[username]
	if !ok {
		return nil, trueface.ErrUserNotFound
	}
	return cloneUser(m.byID[id]), nil
}

func (m *Memory) CreateUser(_ context.Context, input trueface.CreateUserInput) (*trueface.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byName[input.Username]; taken {
		return nil, trueface.ErrUserExists
	}

	user := &trueface.UserRecord{
		UserID:    uuid.NewString(),
		Username:  input.Username,
		Role:      input.Role,
		CreatedAt: input.CreatedAt,
	}
	m.byID[user.UserID] = user
	m.byName[user.Username] = user.UserID
	return cloneUser(user), nil
}

func (m *Memory) AddFace(_ context.Context, userID string, face trueface.FaceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[userID]
	if !ok {
		return trueface.ErrUserNotFound
	}
	face.Vector = append([]float32(nil), face.Vector...)
	user.Faces = append(user.Faces, face)
	return nil
}

func (m *Memory) SetDisabled(_ context.Context, userID string, disabled bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[userID]
	if !ok {
		return trueface.ErrUserNotFound
	}
	user.Disabled = disabled
	if disabled {
		user.DisabledReason = reason
		user.DisabledAt = time.Now().Unix()
	} else {
		user.DisabledReason = ""
		user.DisabledAt = 0
	}
	return nil
}

func (m *Memory) ListUsers(_ context.Context, fn func(*trueface.UserRecord) error) error {
	m.mu.RLock()
	users := make([]*trueface.UserRecord, 0, len(m.byID))
	for _, user := range m.byID {
		users = append(users, cloneUser(user))
	}
	m.mu.RUnlock()

	for _, user := range users {
		if err := fn(user); err != nil {
			return err
		}
	}
	return nil
}

func cloneUser(user *trueface.UserRecord) *trueface.UserRecord {
	if user == nil {
		return nil
	}
	out := *user
	out.Faces = make([]trueface.FaceRecord, len(user.Faces))
	for i, face := range user.Faces {
		out.Faces[i] = trueface.FaceRecord{
			Vector:     append([]float32(nil), face.Vector...),
			EnrolledAt: face.EnrolledAt,
		}
	}
	return &out
}
