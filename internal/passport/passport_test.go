package passport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhr/assesscore/internal/model"
	"github.com/meridianhr/assesscore/internal/storage"
)

type fakeStore struct {
	passports map[string]model.CompetencyPassport
}

func newFakeStore() *fakeStore {
	return &fakeStore{passports: map[string]model.CompetencyPassport{}}
}

func (f *fakeStore) GetPassport(ctx context.Context, clerkUserID string) (model.CompetencyPassport, error) {
	p, ok := f.passports[clerkUserID]
	if !ok {
		return model.CompetencyPassport{}, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) UpsertPassport(ctx context.Context, p model.CompetencyPassport) error {
	f.passports[p.ClerkUserID] = p
	return nil
}

func TestGetReturnsNilWhenAbsent(t *testing.T) {
	svc := New(newFakeStore(), 0)
	p, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetReturnsNilWhenExpired(t *testing.T) {
	store := newFakeStore()
	store.passports["user-1"] = model.CompetencyPassport{
		ClerkUserID: "user-1",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	svc := New(store, 0)
	p, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, p, "expired passport reported as absent per invariant 9")
}

func TestUpdateMergesScoresAcrossCalls(t *testing.T) {
	store := newFakeStore()
	svc := New(store, 0)
	compA, compB := uuid.New(), uuid.New()
	result1 := uuid.New()

	err := svc.Update(context.Background(), "user-1", map[uuid.UUID]float64{compA: 0.7}, nil, 0, result1)
	require.NoError(t, err)

	result2 := uuid.New()
	err = svc.Update(context.Background(), "user-1", map[uuid.UUID]float64{compB: 0.4}, nil, 0, result2)
	require.NoError(t, err)

	p, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 0.7, p.Scores[compA], "earlier competency score retained across merges")
	assert.Equal(t, 0.4, p.Scores[compB])
	assert.Equal(t, result2, p.SourceResultID)
}

func TestUpdateHonorsMaxAgeOverride(t *testing.T) {
	store := newFakeStore()
	svc := New(store, 180)
	err := svc.Update(context.Background(), "user-1", map[uuid.UUID]float64{uuid.New(): 0.5}, nil, 30, uuid.New())
	require.NoError(t, err)

	p := store.passports["user-1"]
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 30), p.ExpiresAt, time.Minute)
}
