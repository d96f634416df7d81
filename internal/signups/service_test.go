package signups

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/internal/tokens"
	"github.com/salvemundi/attendance/pkg/queue"
)

type fakeStore struct {
	mu       sync.Mutex
	nextID   int64
	byID     map[int64]*models.Signup
	taken    map[string]bool
	collide  int // AssignToken reports a collision this many times
	assigned int
	err      error
	// stale makes FindExisting miss this many times, as a request does when a concurrent
	// insert for the same person has not committed yet.
	stale int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[int64]*models.Signup{}, taken: map[string]bool{}}
}

func (f *fakeStore) Create(_ context.Context, s *models.Signup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, e := range f.byID {
		if e.EventID != s.EventID {
			continue
		}
		sameUser := s.UserID != nil && e.UserID != nil && *e.UserID == *s.UserID
		sameGuest := s.UserID == nil && e.UserID == nil && strings.EqualFold(e.ParticipantEmail, s.ParticipantEmail)
		if sameUser || sameGuest {
			return ErrDuplicateSignup
		}
	}
	f.nextID++
	s.ID = f.nextID
	s.CreatedAt = time.Now()
	cp := *s
	f.byID[s.ID] = &cp
	return nil
}

func (f *fakeStore) FindExisting(_ context.Context, eventID int64, userID *uuid.UUID, email string) (*models.Signup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale > 0 {
		f.stale--
		return nil, ErrNotFound
	}
	for _, s := range f.byID {
		if s.EventID != eventID {
			continue
		}
		if userID != nil && s.UserID != nil && *s.UserID == *userID {
			cp := *s
			return &cp, nil
		}
		if userID == nil && strings.EqualFold(s.ParticipantEmail, email) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (*models.Signup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) GetByToken(_ context.Context, token string) (*models.Signup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.QRToken != nil && *s.QRToken == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) AssignToken(_ context.Context, id int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collide > 0 {
		f.collide--
		return ErrTokenTaken
	}
	if f.taken[token] {
		return ErrTokenTaken
	}
	s, ok := f.byID[id]
	if !ok || s.QRToken != nil {
		return ErrTokenAlreadyIssued
	}
	s.QRToken = &token
	f.taken[token] = true
	f.assigned++
	return nil
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []queue.TicketRenderPayload
	err  error
}

func (q *fakeQueue) EnqueueTicketRender(_ context.Context, p queue.TicketRenderPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, p)
	return nil
}

func TestService_Create_IssuesToken(t *testing.T) {
	store := newFakeStore()
	q := &fakeQueue{}
	svc := NewService(store, tokens.NewGenerator(nil), q, nil)

	s, recycled, err := svc.Create(context.Background(), CreateParams{EventID: 3, Name: " Jan ", Email: "jan@example.com"})
	require.NoError(t, err)
	assert.False(t, recycled)
	require.NotNil(t, s.QRToken)
	assert.Equal(t, models.SignupTokenIssued, s.Status())
	assert.Equal(t, "Jan", s.ParticipantName)

	sid, eid, err := tokens.Parse(*s.QRToken)
	require.NoError(t, err)
	assert.Equal(t, s.ID, sid)
	assert.Equal(t, int64(3), eid)

	require.Len(t, q.jobs, 1)
	assert.Equal(t, *s.QRToken, q.jobs[0].Token)
}

func TestService_Create_RecyclesExisting(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, tokens.NewGenerator(nil), nil, nil)
	user := uuid.New()

	first, _, err := svc.Create(context.Background(), CreateParams{EventID: 1, UserID: &user, Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	second, recycled, err := svc.Create(context.Background(), CreateParams{EventID: 1, UserID: &user, Name: "A", Email: "a@example.com"})
	require.NoError(t, err)

	assert.True(t, recycled)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, *first.QRToken, *second.QRToken)
	assert.Equal(t, 1, store.assigned)
}

func TestService_Create_GuestRecycledByEmail(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, tokens.NewGenerator(nil), nil, nil)

	first, _, err := svc.Create(context.Background(), CreateParams{EventID: 1, Name: "G", Email: "guest@example.com"})
	require.NoError(t, err)
	second, recycled, err := svc.Create(context.Background(), CreateParams{EventID: 1, Name: "G", Email: "GUEST@example.com"})
	require.NoError(t, err)
	assert.True(t, recycled)
	assert.Equal(t, first.ID, second.ID)
}

func TestService_Create_LosingInsertRecyclesWinner(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, tokens.NewGenerator(nil), nil, nil)
	user := uuid.New()

	first, _, err := svc.Create(context.Background(), CreateParams{EventID: 1, UserID: &user, Name: "A", Email: "a@example.com"})
	require.NoError(t, err)

	store.stale = 1
	second, recycled, err := svc.Create(context.Background(), CreateParams{EventID: 1, UserID: &user, Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	assert.True(t, recycled)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, *first.QRToken, *second.QRToken)
	assert.Len(t, store.byID, 1)
}

func TestService_Create_ConcurrentGuestSignupsShareOneRow(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, tokens.NewGenerator(nil), nil, nil)

	const n = 16
	results := make([]*models.Signup, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := svc.Create(context.Background(), CreateParams{EventID: 4, Name: "G", Email: "guest@example.com"})
			if assert.NoError(t, err) {
				results[i] = s
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.byID, 1)
	assert.Equal(t, 1, store.assigned)
	for _, s := range results {
		require.NotNil(t, s)
		assert.Equal(t, *results[0].QRToken, *s.QRToken)
	}
}

func TestService_IssueToken_RetriesCollisions(t *testing.T) {
	store := newFakeStore()
	store.collide = 2
	svc := NewService(store, tokens.NewGenerator(nil), nil, nil)

	s, _, err := svc.Create(context.Background(), CreateParams{EventID: 1, Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, s.QRToken)
}

func TestService_IssueToken_GivesUp(t *testing.T) {
	store := newFakeStore()
	store.collide = maxIssueAttempts
	svc := NewService(store, tokens.NewGenerator(nil), nil, nil)

	_, _, err := svc.Create(context.Background(), CreateParams{EventID: 1, Name: "A", Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrTokenExhausted)
}

func TestService_IssueToken_NeverOverwrites(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, tokens.NewGenerator(nil), nil, nil)
	s, _, err := svc.Create(context.Background(), CreateParams{EventID: 1, Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	original := *s.QRToken

	// A stale copy without the token loses to the stored one.
	stale := *s
	stale.QRToken = nil
	got, err := svc.IssueToken(context.Background(), &stale)
	require.NoError(t, err)
	assert.Equal(t, original, *got.QRToken)
	assert.Equal(t, 1, store.assigned)
}

func TestService_IssueToken_ConcurrentIssuersAgree(t *testing.T) {
	store := newFakeStore()
	svc := NewService(store, tokens.NewGenerator(nil), nil, nil)
	base := &models.Signup{EventID: 2, ParticipantName: "A", ParticipantEmail: "a@example.com"}
	require.NoError(t, store.Create(context.Background(), base))

	const n = 16
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cp := *base
			s, err := svc.IssueToken(context.Background(), &cp)
			if assert.NoError(t, err) {
				results[i] = *s.QRToken
			}
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, 1, store.assigned)
}

func TestService_Create_Validation(t *testing.T) {
	svc := NewService(newFakeStore(), tokens.NewGenerator(nil), nil, nil)
	_, _, err := svc.Create(context.Background(), CreateParams{EventID: 1, Name: "  ", Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = svc.Create(context.Background(), CreateParams{EventID: 0, Name: "A", Email: "a@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_Create_QueueFailureIsNotFatal(t *testing.T) {
	svc := NewService(newFakeStore(), tokens.NewGenerator(nil), &fakeQueue{err: errors.New("redis down")}, nil)
	s, _, err := svc.Create(context.Background(), CreateParams{EventID: 1, Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	assert.NotNil(t, s.QRToken)
}

func TestService_Create_StoreError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("db down")
	svc := NewService(store, tokens.NewGenerator(nil), nil, nil)
	_, _, err := svc.Create(context.Background(), CreateParams{EventID: 1, Name: "A", Email: "a@example.com"})
	assert.Error(t, err)
}
