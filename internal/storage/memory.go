package storage

import (
	"context"
	"sync"
	"time"

	"github.com/andyleap/identity/internal/models"
)

// MemoryStore is an in-process Store. It enforces the same uniqueness
// rules as the SQLite backend so resolver race handling behaves
// identically; suitable for tests and single-instance deployments only.
type MemoryStore struct {
	mu          sync.Mutex
	nextUserID  int64
	nextCredID  int64
	users       map[int64]*models.User
	credentials map[string]*models.Credential
	sessions    map[string]*models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]*models.User),
		credentials: make(map[string]*models.Credential),
		sessions:    make(map[string]*models.Session),
	}
}

func (m *MemoryStore) Close() error {
	return nil
}

func copyUser(user *models.User) *models.User {
	clone := *user
	return &clone
}

func (m *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := models.NormalizeEmail(user.Email)
	for _, existing := range m.users {
		if user.ExternalID != "" && existing.ExternalID == user.ExternalID {
			return ErrConflict
		}
		if email != "" && existing.Email == email {
			return ErrConflict
		}
	}

	m.nextUserID++
	now := time.Now()
	user.ID = m.nextUserID
	user.Email = email
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	m.users[user.ID] = copyUser(user)
	return nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(user), nil
}

func (m *MemoryStore) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.ExternalID == externalID {
			return copyUser(user), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Email == normalized {
			return copyUser(user), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SetExternalID(ctx context.Context, id int64, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range m.users {
		if existing.ID != id && externalID != "" && existing.ExternalID == externalID {
			return ErrConflict
		}
	}
	user.ExternalID = externalID
	user.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateCredential(ctx context.Context, credential *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.credentials[credential.CredentialID]; exists {
		return ErrConflict
	}

	m.nextCredID++
	now := time.Now()
	credential.ID = m.nextCredID
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}
	credential.UpdatedAt = now
	clone := *credential
	m.credentials[credential.CredentialID] = &clone
	return nil
}

func (m *MemoryStore) GetCredential(ctx context.Context, credentialID string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	credential, ok := m.credentials[credentialID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *credential
	return &clone, nil
}

func (m *MemoryStore) ListCredentials(ctx context.Context, userID int64) ([]models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var creds []models.Credential
	for _, credential := range m.credentials {
		if credential.UserID == userID {
			creds = append(creds, *credential)
		}
	}
	return creds, nil
}

func (m *MemoryStore) UpdateSignCount(ctx context.Context, credentialID string, count uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	credential, ok := m.credentials[credentialID]
	if !ok {
		return ErrNotFound
	}
	credential.SignCount = count
	credential.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SaveSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return ErrConflict
	}
	clone := *session
	m.sessions[session.ID] = &clone
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(session.ExpiresAt) {
		delete(m.sessions, sessionID)
		return nil, ErrNotFound
	}
	clone := *session
	return &clone, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}
