package repository

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/AnshRaj112/identity-backend/internal/models"
)

// MemoryUsers is an in-process user store with the same uniqueness and
// single-use reset semantics as MongoUsers.
type MemoryUsers struct {
	mu    sync.Mutex
	users map[primitive.ObjectID]*models.User
	now   func() time.Time
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[primitive.ObjectID]*models.User), now: time.Now}
}

func (m *MemoryUsers) Create(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if field := m.conflictLocked(user.Email, user.Username, primitive.NilObjectID); field != "" {
		return &DuplicateKeyError{Field: field}
	}

	now := m.now().UTC()
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *MemoryUsers) FindByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *MemoryUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryUsers) FindByEmailOrUsername(_ context.Context, email, username string, exclude primitive.ObjectID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, u := range m.users {
		if id == exclude {
			continue
		}
		if (email != "" && u.Email == email) || (username != "" && u.Username == username) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryUsers) SetResetOTP(_ context.Context, id primitive.ObjectID, otp models.ResetOTP) error {
	return m.mutate(id, func(u *models.User) error {
		u.ResetOTP = &otp
		return nil
	})
}

func (m *MemoryUsers) ClearResetOTP(_ context.Context, id primitive.ObjectID, code string) error {
	return m.mutate(id, func(u *models.User) error {
		if u.ResetOTP == nil || u.ResetOTP.Code != code {
			return ErrNotFound
		}
		u.ResetOTP = nil
		return nil
	})
}

func (m *MemoryUsers) ConsumeResetOTP(_ context.Context, email, code string, now time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email != email || u.ResetOTP == nil {
			continue
		}
		if u.ResetOTP.Code != code || !u.ResetOTP.ExpiresAt.After(now) {
			return nil, ErrNotFound
		}
		u.ResetOTP = nil
		u.UpdatedAt = m.now().UTC()
		return cloneUser(u), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryUsers) UpdatePassword(_ context.Context, id primitive.ObjectID, oldHash, newHash string) error {
	return m.mutate(id, func(u *models.User) error {
		if u.PasswordHash != oldHash {
			return ErrNotFound
		}
		u.PasswordHash = newHash
		return nil
	})
}

func (m *MemoryUsers) UpdateProfile(_ context.Context, id primitive.ObjectID, upd ProfileUpdate) (*models.User, error) {
	var out *models.User
	err := m.mutate(id, func(u *models.User) error {
		var email, username string
		if upd.Email != nil {
			email = *upd.Email
		}
		if upd.Username != nil {
			username = *upd.Username
		}
		if field := m.conflictLocked(email, username, id); field != "" {
			return &DuplicateKeyError{Field: field}
		}
		if upd.Username != nil {
			u.Username = *upd.Username
		}
		if upd.Email != nil {
			u.Email = *upd.Email
			u.ResetOTP = nil
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneUser(out), nil
}

func (m *MemoryUsers) SetProfilePicture(_ context.Context, id primitive.ObjectID, ref string) (*models.User, error) {
	var out *models.User
	err := m.mutate(id, func(u *models.User) error {
		u.ProfilePicture = &ref
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cloneUser(out), nil
}

func (m *MemoryUsers) SetRole(_ context.Context, id, roleID primitive.ObjectID) error {
	return m.mutate(id, func(u *models.User) error {
		u.RoleID = roleID
		return nil
	})
}

func (m *MemoryUsers) mutate(id primitive.ObjectID, fn func(*models.User) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = m.now().UTC()
	return nil
}

// conflictLocked returns the field that collides with another record, email first.
func (m *MemoryUsers) conflictLocked(email, username string, exclude primitive.ObjectID) string {
	usernameTaken := false
	for id, u := range m.users {
		if id == exclude {
			continue
		}
		if email != "" && u.Email == email {
			return "email"
		}
		if username != "" && u.Username == username {
			usernameTaken = true
		}
	}
	if usernameTaken {
		return "username"
	}
	return ""
}

func cloneUser(u *models.User) *models.User {
	c := *u
	if u.ProfilePicture != nil {
		p := *u.ProfilePicture
		c.ProfilePicture = &p
	}
	if u.ResetOTP != nil {
		otp := *u.ResetOTP
		c.ResetOTP = &otp
	}
	return &c
}

// MemoryRoles is an in-process role store.
type MemoryRoles struct {
	mu    sync.RWMutex
	roles map[models.RoleName]*models.Role
}

func NewMemoryRoles() *MemoryRoles {
	return &MemoryRoles{roles: make(map[models.RoleName]*models.Role)}
}

func (m *MemoryRoles) EnsureDefaults(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, role := range models.DefaultRoles {
		if _, ok := m.roles[role.Name]; ok {
			continue
		}
		r := role
		r.ID = primitive.NewObjectID()
		r.CreatedAt = now
		r.UpdatedAt = now
		m.roles[r.Name] = &r
	}
	return nil
}

func (m *MemoryRoles) FindByName(_ context.Context, name models.RoleName) (*models.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *MemoryRoles) FindByID(_ context.Context, id primitive.ObjectID) (*models.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.roles {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrNotFound
}
