package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tallybook/api/internal/models"
	"tallybook/api/internal/repository"
)

// In-memory stands-ins for the pgx repositories, shared by the service
// tests. All methods are safe for concurrent use.

type memTokenStore struct {
	mu      sync.Mutex
	records map[string]*models.TokenRecord
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{records: map[string]*models.TokenRecord{}}
}

func (s *memTokenStore) Create(_ context.Context, rec models.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.IssuedAt = time.Now().UTC()
	rec.LastUsedAt = rec.IssuedAt
	s.records[rec.JTI] = &rec
	return nil
}

func (s *memTokenStore) Get(_ context.Context, jti string) (models.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[jti]
	if !ok {
		return models.TokenRecord{}, repository.ErrTokenNotFound
	}
	return *rec, nil
}

func (s *memTokenStore) SetRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[jti]
	if !ok || rec.Revoked {
		return false, nil
	}
	now := time.Now().UTC()
	rec.Revoked = true
	rec.RevokedAt = &now
	return true, nil
}

func (s *memTokenStore) TouchLastUsed(_ context.Context, jti string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[jti]; ok {
		rec.LastUsedAt = now
	}
	return nil
}

func (s *memTokenStore) IsValid(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[jti]
	if !ok {
		return false, nil
	}
	return !rec.Revoked && time.Now().UTC().Before(rec.ExpiresAt), nil
}

func (s *memTokenStore) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var count int64
	for _, rec := range s.records {
		if rec.UserID == userID && !rec.Revoked && now.Before(rec.ExpiresAt) {
			rec.Revoked = true
			rec.RevokedAt = &now
			count++
		}
	}
	return count, nil
}

func (s *memTokenStore) DeleteExpired(_ context.Context, before time.Time, batch int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for jti, rec := range s.records {
		if count >= int64(batch) {
			break
		}
		if rec.ExpiresAt.Before(before) {
			delete(s.records, jti)
			count++
		}
	}
	return count, nil
}

func (s *memTokenStore) DeleteRevokedBefore(_ context.Context, cutoff time.Time, batch int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for jti, rec := range s.records {
		if count >= int64(batch) {
			break
		}
		if rec.Revoked && rec.RevokedAt != nil && rec.RevokedAt.Before(cutoff) {
			delete(s.records, jti)
			count++
		}
	}
	return count, nil
}

func (s *memTokenStore) CountExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rec := range s.records {
		if rec.ExpiresAt.Before(before) {
			count++
		}
	}
	return count, nil
}

func (s *memTokenStore) CountRevokedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, rec := range s.records {
		if rec.Revoked && rec.RevokedAt != nil && rec.RevokedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *memTokenStore) Stats(_ context.Context) (models.TokenStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var stats models.TokenStats
	for _, rec := range s.records {
		ks := &stats.Access
		if rec.Kind == models.TokenKindRefresh {
			ks = &stats.Refresh
		}
		ks.Total++
		switch {
		case rec.Revoked:
			ks.Revoked++
		case !now.Before(rec.ExpiresAt):
			ks.Expired++
		default:
			ks.Active++
		}
	}
	return stats, nil
}

// setExpiry rewrites a record's expiry, simulating clock advance.
func (s *memTokenStore) setExpiry(jti string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[jti]; ok {
		rec.ExpiresAt = at
	}
}

func (s *memTokenStore) setRevokedAt(jti string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[jti]; ok {
		rec.Revoked = true
		rec.RevokedAt = &at
	}
}

func (s *memTokenStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type memUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUserStore(users ...models.User) *memUserStore {
	s := &memUserStore{users: map[string]*models.User{}}
	for _, u := range users {
		user := u
		s.users[user.ID] = &user
	}
	return s
}

func (s *memUserStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return repository.ErrEmailTaken
		}
	}
	s.users[user.ID] = &user
	return nil
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return *user, nil
		}
	}
	return models.User{}, repository.ErrUserNotFound
}

func (s *memUserStore) GetByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return *user, nil
}

func (s *memUserStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.Active = active
	return nil
}

func (s *memUserStore) UpdatePassword(_ context.Context, id string, hash []byte, mustChange bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.PasswordHash = hash
	user.MustChangePassword = mustChange
	return nil
}

func (s *memUserStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *memUserStore) List(_ context.Context, limit int, offset int) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []models.User
	for _, user := range s.users {
		users = append(users, *user)
	}
	return users, nil
}

type memPermissionStore struct {
	mu       sync.Mutex
	features map[string]string // name -> id
	actions  map[string]string
	perms    map[string]models.Permission // id -> permission
	pairs    map[[2]string]string         // featureID, actionID -> permission id
	grants   map[[2]string]struct{}       // userID, permissionID
	nextID   int
}

func newMemPermissionStore() *memPermissionStore {
	return &memPermissionStore{
		features: map[string]string{},
		actions:  map[string]string{},
		perms:    map[string]models.Permission{},
		pairs:    map[[2]string]string{},
		grants:   map[[2]string]struct{}{},
	}
}

func (s *memPermissionStore) id() string {
	s.nextID++
	return fmt.Sprintf("id-%d", s.nextID)
}

func (s *memPermissionStore) FeatureID(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.features[name]
	return id, ok, nil
}

func (s *memPermissionStore) ActionID(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.actions[name]
	return id, ok, nil
}

func (s *memPermissionStore) PermissionID(_ context.Context, featureID string, actionID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pairs[[2]string{featureID, actionID}]
	return id, ok, nil
}

func (s *memPermissionStore) HasGrant(_ context.Context, userID string, permissionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.grants[[2]string{userID, permissionID}]
	return ok, nil
}

func (s *memPermissionStore) Grant(_ context.Context, userID string, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{userID, permissionID}
	if _, ok := s.grants[key]; ok {
		return repository.ErrAlreadyGranted
	}
	s.grants[key] = struct{}{}
	return nil
}

func (s *memPermissionStore) RevokeGrant(_ context.Context, userID string, permissionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{userID, permissionID}
	if _, ok := s.grants[key]; !ok {
		return false, nil
	}
	delete(s.grants, key)
	return true, nil
}

func (s *memPermissionStore) ListCatalog(_ context.Context) ([]models.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var perms []models.Permission
	for _, p := range s.perms {
		perms = append(perms, p)
	}
	return perms, nil
}

func (s *memPermissionStore) ListGrants(_ context.Context, userID string) ([]models.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var perms []models.Permission
	for key := range s.grants {
		if key[0] == userID {
			perms = append(perms, s.perms[key[1]])
		}
	}
	return perms, nil
}

func (s *memPermissionStore) EnsureCatalog(_ context.Context, features []string, actions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range features {
		if _, ok := s.features[name]; !ok {
			s.features[name] = s.id()
		}
	}
	for _, name := range actions {
		if _, ok := s.actions[name]; !ok {
			s.actions[name] = s.id()
		}
	}
	for fname, fid := range s.features {
		for aname, aid := range s.actions {
			key := [2]string{fid, aid}
			if _, ok := s.pairs[key]; !ok {
				permID := s.id()
				s.pairs[key] = permID
				s.perms[permID] = models.Permission{ID: permID, Feature: fname, Action: aname}
			}
		}
	}
	return nil
}

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error {
	return p.err
}
