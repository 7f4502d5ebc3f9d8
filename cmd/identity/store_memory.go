package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs tests and database-less runs.
type MemoryStore struct {
	mu sync.Mutex

	users   map[string]*UserRecord
	byEmail map[string]string // normalized email -> user id
	groups  map[int64]time.Time
	nextGID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*UserRecord),
		byEmail: make(map[string]string),
		groups:  make(map[int64]time.Time),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (UserRecord, error) {
	const op = "identity.CreateUser"
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}
	if in.ID == "" || in.Email == "" || in.PasswordHash == "" {
		return UserRecord{}, invalid(op, "id, email and password hash are required")
	}
	now := orNow(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[in.Email]; taken {
		return UserRecord{}, ConflictError{Op: op, Field: "email"}
	}
	if _, taken := s.users[in.ID]; taken {
		return UserRecord{}, ConflictError{Op: op, Field: "id"}
	}

	rec := &UserRecord{
		ID:           in.ID,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[rec.ID] = rec
	s.byEmail[rec.Email] = rec.ID
	return rec.clone(), nil
}

func (s *MemoryStore) ActivateUser(ctx context.Context, userID string, now time.Time) (UserRecord, error) {
	const op = "identity.ActivateUser"
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return UserRecord{}, NotFoundError{Op: op, Resource: "user"}
	}
	if rec.Active {
		return UserRecord{}, OpError{Op: op, Kind: ErrConflict, Msg: "already active"}
	}
	rec.Active = true
	rec.UpdatedAt = orNow(now)
	return rec.clone(), nil
}

func (s *MemoryStore) DeactivateUser(ctx context.Context, userID string, now time.Time) (UserRecord, error) {
	const op = "identity.DeactivateUser"
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return UserRecord{}, NotFoundError{Op: op, Resource: "user"}
	}
	rec.Active = false
	rec.GroupID = nil
	rec.UpdatedAt = orNow(now)
	return rec.clone(), nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, userID string) (UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return UserRecord{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return rec.clone(), nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return UserRecord{}, NotFoundError{Op: "identity.GetUserByEmail", Resource: "user"}
	}
	return s.users[id].clone(), nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return err
	}
	if hash == "" {
		return invalid(op, "empty password hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	rec.PasswordHash = hash
	rec.UpdatedAt = orNow(now)
	return nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.users[userID]; ok {
		delete(s.byEmail, rec.Email)
		delete(s.users, userID)
	}
	return nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextGID++
	s.groups[s.nextGID] = orNow(now)
	return s.nextGID, nil
}

func (s *MemoryStore) GroupExists(ctx context.Context, groupID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.groups[groupID]
	return ok, nil
}

func (s *MemoryStore) GroupByMemberEmail(ctx context.Context, email string) (int64, error) {
	const op = "identity.GroupByMemberEmail"
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return 0, NotFoundError{Op: op, Resource: "user"}
	}
	rec := s.users[id]
	if !rec.Active || rec.GroupID == nil {
		return 0, NotFoundError{Op: op, Resource: "group"}
	}
	return *rec.GroupID, nil
}

func (s *MemoryStore) SetUserGroup(ctx context.Context, userID string, groupID int64, now time.Time) (UserRecord, error) {
	const op = "identity.SetUserGroup"
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return UserRecord{}, NotFoundError{Op: op, Resource: "user"}
	}
	if _, ok := s.groups[groupID]; !ok {
		return UserRecord{}, NotFoundError{Op: op, Resource: "group"}
	}
	if !rec.Active {
		return UserRecord{}, OpError{Op: op, Kind: ErrNotActive, Msg: "user not active"}
	}
	gid := groupID
	rec.GroupID = &gid
	rec.UpdatedAt = orNow(now)
	return rec.clone(), nil
}

func (s *MemoryStore) ClearUserGroup(ctx context.Context, userID string, now time.Time) (UserRecord, error) {
	const op = "identity.ClearUserGroup"
	if err := ctx.Err(); err != nil {
		return UserRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return UserRecord{}, NotFoundError{Op: op, Resource: "user"}
	}
	rec.GroupID = nil
	rec.UpdatedAt = orNow(now)
	return rec.clone(), nil
}

func (r *UserRecord) clone() UserRecord {
	out := *r
	if r.GroupID != nil {
		gid := *r.GroupID
		out.GroupID = &gid
	}
	return out
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
