package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-vote/internal/intent"
	"github.com/loqalabs/loqa-vote/internal/model"
	"github.com/loqalabs/loqa-vote/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memoryStore struct {
	mu        sync.Mutex
	members   map[string]model.Member
	motions   map[string]model.Motion
	votes     map[pairKey]model.Vote
	inflight  map[pairKey]int
	overlap   atomic.Bool
	conflicts int
	inserts   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		members:  map[string]model.Member{"m1": {ID: "m1", Constituency: "north"}, "m2": {ID: "m2", Constituency: "south"}},
		motions:  map[string]model.Motion{"mo1": {ID: "mo1", Status: model.MotionActive}},
		votes:    make(map[pairKey]model.Vote),
		inflight: make(map[pairKey]int),
	}
}

func (s *memoryStore) FindMember(_ context.Context, id string) (model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return model.Member{}, model.ErrNotFound
	}
	return m, nil
}

func (s *memoryStore) FindMotion(_ context.Context, id string) (model.Motion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.motions[id]
	if !ok {
		return model.Motion{}, model.ErrNotFound
	}
	return m, nil
}

func (s *memoryStore) FindVote(_ context.Context, memberID, motionID string) (model.Vote, error) {
	key := pairKey{memberID, motionID}
	s.mu.Lock()
	s.inflight[key]++
	if s.inflight[key] > 1 {
		s.overlap.Store(true)
	}
	v, ok := s.votes[key]
	s.mu.Unlock()
	// widen the window between read and write
	time.Sleep(100 * time.Microsecond)
	if !ok {
		return model.Vote{}, model.ErrNotFound
	}
	return v, nil
}

func (s *memoryStore) InsertVote(_ context.Context, vote model.Vote) error {
	key := pairKey{vote.MemberID, vote.MotionID}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[key]--
	if s.conflicts > 0 {
		s.conflicts--
		// another writer got there first
		s.votes[key] = model.Vote{ID: "foreign", MemberID: vote.MemberID, MotionID: vote.MotionID, Intent: intent.No}
		return model.ErrConflict
	}
	if _, ok := s.votes[key]; ok {
		return model.ErrConflict
	}
	s.inserts++
	s.votes[key] = vote
	return nil
}

func (s *memoryStore) UpdateVote(_ context.Context, vote model.Vote) error {
	key := pairKey{vote.MemberID, vote.MotionID}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[key]--
	if _, ok := s.votes[key]; !ok {
		return model.ErrNotFound
	}
	s.votes[key] = vote
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.votes)
}

func TestRecordVoteInsertsThenOverwrites(t *testing.T) {
	store := newMemoryStore()
	l := New(store, 0, newLogger())
	ctx := context.Background()

	first, err := l.RecordVote(ctx, "m1", "mo1", intent.Yes, []byte("a"))
	require.NoError(t, err)
	require.Equal(t, intent.Yes, first.Intent)

	second, err := l.RecordVote(ctx, "m1", "mo1", intent.No, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, intent.No, second.Intent)
	require.Equal(t, []byte("b"), second.Evidence)
	require.False(t, second.Timestamp.Before(first.Timestamp))

	require.Equal(t, 1, store.count())
	require.Equal(t, 1, store.inserts)
}

func TestRecordVoteMissingMemberOrMotion(t *testing.T) {
	store := newMemoryStore()
	l := New(store, 0, newLogger())

	_, err := l.RecordVote(context.Background(), "ghost", "mo1", intent.Yes, nil)
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = l.RecordVote(context.Background(), "m1", "ghost", intent.Yes, nil)
	require.ErrorIs(t, err, model.ErrNotFound)
	require.Zero(t, store.count())
}

func TestRecordVoteRejectsUndecidedIntent(t *testing.T) {
	store := newMemoryStore()
	l := New(store, 0, newLogger())
	_, err := l.RecordVote(context.Background(), "m1", "mo1", intent.Unclear, nil)
	require.ErrorIs(t, err, intent.ErrInvalidIntent)
	require.Zero(t, store.count())
}

func TestRecordVoteRetriesConflict(t *testing.T) {
	store := newMemoryStore()
	store.conflicts = 1
	l := New(store, 3, newLogger())

	vote, err := l.RecordVote(context.Background(), "m1", "mo1", intent.Yes, nil)
	require.NoError(t, err)
	require.Equal(t, "foreign", vote.ID)
	require.Equal(t, intent.Yes, vote.Intent)
	require.Equal(t, 1, store.count())
}

func TestRecordVoteGivesUpAfterRetries(t *testing.T) {
	store := newMemoryStore()
	l := New(&alwaysConflict{store}, 2, newLogger())

	_, err := l.RecordVote(context.Background(), "m1", "mo1", intent.Yes, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, model.ErrConflict)
	require.Equal(t, protocol.CodeInternal, protocol.ErrorFor(err).Code)
}

type alwaysConflict struct{ *memoryStore }

func (a *alwaysConflict) FindVote(context.Context, string, string) (model.Vote, error) {
	return model.Vote{}, model.ErrNotFound
}

func (a *alwaysConflict) InsertVote(context.Context, model.Vote) error {
	return model.ErrConflict
}

func TestConcurrentVotesSamePairAreSerialized(t *testing.T) {
	store := newMemoryStore()
	l := New(store, 0, newLogger())
	ctx := context.Background()

	const writers = 32
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decided := intent.Yes
			if i%2 == 1 {
				decided = intent.No
			}
			_, err := l.RecordVote(ctx, "m1", "mo1", decided, []byte(fmt.Sprintf("%s-%d", decided, i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.False(t, store.overlap.Load(), "writes for one pair overlapped")
	require.Equal(t, 1, store.count())
	require.Equal(t, 1, store.inserts)
	vote, err := store.FindVote(ctx, "m1", "mo1")
	require.NoError(t, err)
	require.Contains(t, string(vote.Evidence), string(vote.Intent)+"-")
	require.Zero(t, l.locks.Len())
}

func TestConcurrentVotesDifferentPairs(t *testing.T) {
	store := newMemoryStore()
	l := New(store, 0, newLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, member := range []string{"m1", "m2"} {
		for range 8 {
			wg.Add(1)
			go func(member string) {
				defer wg.Done()
				_, err := l.RecordVote(ctx, member, "mo1", intent.Yes, nil)
				assert.NoError(t, err)
			}(member)
		}
	}
	wg.Wait()
	require.Equal(t, 2, store.count())
}

func TestSequentialVotesKeepLastIntent(t *testing.T) {
	store := newMemoryStore()
	l := New(store, 0, newLogger())
	ctx := context.Background()

	sequence := []intent.Intent{intent.Yes, intent.No, intent.No, intent.Yes, intent.No}
	for _, decided := range sequence {
		_, err := l.RecordVote(ctx, "m2", "mo1", decided, nil)
		require.NoError(t, err)
	}
	vote, err := store.FindVote(ctx, "m2", "mo1")
	require.NoError(t, err)
	require.Equal(t, intent.No, vote.Intent)
	require.Equal(t, 1, store.count())
}
