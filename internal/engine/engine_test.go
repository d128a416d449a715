package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
	"github.com/talgya/city-council/internal/persistence"
	"github.com/talgya/city-council/internal/petition"
	"github.com/talgya/city-council/internal/room"
)

type fixedSeed int64

func (f fixedSeed) Seed(context.Context) int64 { return int64(f) }

type mockOracle struct{ mock.Mock }

func (m *mockOracle) Review(ctx context.Context, req petition.Request) (petition.Verdict, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(petition.Verdict), args.Error(1)
}

func counterIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id%04d-aaaa-bbbb", n.Add(1)) }
}

func newService(t *testing.T, opts Options) (*Service, *persistence.Memory) {
	t.Helper()
	mem := persistence.NewMemory()
	if opts.Store == nil {
		opts.Store = mem
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.Seeds == nil {
		opts.Seeds = fixedSeed(11)
	}
	if opts.NewID == nil {
		opts.NewID = counterIDs()
	}
	opts.RetryInitial = time.Millisecond
	opts.RetryMaxBackoff = 2 * time.Millisecond
	return New(opts), mem
}

// started creates a room with n players c1..cn and starts it.
func started(t *testing.T, s *Service, n int) (string, StartResult) {
	t.Helper()
	ctx := context.Background()
	created, err := s.CreateRoom(ctx, "c1", "Ann")
	require.NoError(t, err)
	for i := 2; i <= n; i++ {
		caller := fmt.Sprintf("c%d", i)
		_, err := s.Join(ctx, created.RoomID, caller, "Player "+caller)
		require.NoError(t, err)
		ready, err := s.ToggleReady(ctx, created.RoomID, caller)
		require.NoError(t, err)
		require.True(t, ready)
	}
	res, err := s.Start(ctx, created.RoomID, "c1")
	require.NoError(t, err)
	return created.RoomID, res
}

func requireCode(t *testing.T, want apperr.Code, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, apperr.CodeOf(err), err.Error())
}

func TestCreateJoinStart(t *testing.T) {
	t.Parallel()
	s, mem := newService(t, Options{})
	ctx := context.Background()

	created, err := s.CreateRoom(ctx, "c1", "Ann")
	require.NoError(t, err)
	assert.Equal(t, room.Lobby, created.Status)

	pid, err := s.Join(ctx, created.RoomID, "c2", "Bo")
	require.NoError(t, err)
	again, err := s.Join(ctx, created.RoomID, "c2", "Bo")
	require.NoError(t, err)
	assert.Equal(t, pid, again, "rejoin returns the same player")

	r, err := mem.Get(ctx, created.RoomID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.Version, "replayed join does not write")

	_, err = s.Start(ctx, created.RoomID, "c2")
	requireCode(t, apperr.CodeUnauthorized, err)
	_, err = s.Start(ctx, created.RoomID, "c1")
	requireCode(t, apperr.CodeInvalidTransition, err)

	_, err = s.ToggleReady(ctx, created.RoomID, "c2")
	require.NoError(t, err)
	res, err := s.Start(ctx, created.RoomID, "c1")
	require.NoError(t, err)
	assert.Equal(t, room.Voting, res.Status)
	assert.Equal(t, 1, res.Turn)
	assert.Len(t, res.CurrentPolicyIDs, room.DefaultRules().BallotSize)

	rooms, err := s.MyRooms(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, pid, rooms[0].PlayerID)
}

func TestMembershipRequired(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, Options{})
	ctx := context.Background()
	id, start := started(t, s, 2)

	voteErr := func(roomID, caller, policy string) error {
		_, err := s.Vote(ctx, roomID, caller, policy)
		return err
	}
	requireCode(t, apperr.CodeUnauthenticated, voteErr(id, "", start.CurrentPolicyIDs[0]))
	requireCode(t, apperr.CodeUnauthorized, voteErr(id, "stranger", start.CurrentPolicyIDs[0]))
	requireCode(t, apperr.CodeInvalidArgument, voteErr(id, "c1", ""))
	requireCode(t, apperr.CodeNotFound, voteErr("nope", "c1", "x"))

	v, err := s.View(ctx, id, "stranger")
	require.NoError(t, err)
	assert.Nil(t, v.Me)
	assert.Len(t, v.Players, 2)
}

func TestVoteResolveNext(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, Options{})
	ctx := context.Background()
	id, start := started(t, s, 2)
	pick := start.CurrentPolicyIDs[1]

	first := castVote(t, s, id, "c1", pick)
	assert.False(t, first.AllVoted)
	assert.False(t, first.Resolved)
	_, err := s.Resolve(ctx, id, "c1", false)
	requireCode(t, apperr.CodeInvalidTransition, err)

	last := castVote(t, s, id, "c2", pick)
	assert.True(t, last.AllVoted)
	require.True(t, last.Resolved, "the final vote resolves the turn")
	require.NotNil(t, last.Result)
	assert.False(t, last.IsGameOver)

	v, err := s.View(ctx, id, "c1")
	require.NoError(t, err)
	assert.Equal(t, room.Result, v.Phase)

	res, err := s.Resolve(ctx, id, "c2", false)
	require.NoError(t, err)
	assert.Equal(t, last.Result.LastResult, res.LastResult)
	assert.Equal(t, room.Result, res.Status)
	require.NotNil(t, res.LastResult)
	assert.Equal(t, pick, res.LastResult.PassedPolicyID)

	again, err := s.Resolve(ctx, id, "c1", false)
	require.NoError(t, err)
	assert.Equal(t, res.LastResult, again.LastResult)
	assert.Equal(t, res.CityParams, again.CityParams)

	next, err := s.NextTurn(ctx, id, "c2")
	require.NoError(t, err)
	assert.Equal(t, room.Voting, next.Status)
	assert.Equal(t, 2, next.Turn)
}

func TestForceResolveHostOnly(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, Options{})
	ctx := context.Background()
	id, start := started(t, s, 3)

	castVote(t, s, id, "c2", start.CurrentPolicyIDs[0])
	_, err := s.Resolve(ctx, id, "c2", true)
	requireCode(t, apperr.CodeUnauthorized, err)

	res, err := s.Resolve(ctx, id, "c1", true)
	require.NoError(t, err)
	assert.Equal(t, start.CurrentPolicyIDs[0], res.LastResult.PassedPolicyID)
	assert.Len(t, res.LastResult.VoteDetails, 1)

	admin, err := s.ForceResolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, res.LastResult, admin.LastResult, "forced resolve after the fact returns the cached result")

	repeat, err := s.Resolve(ctx, id, "c2", true)
	require.NoError(t, err, "once resolved, any member gets the cached result")
	assert.Equal(t, res.LastResult, repeat.LastResult)
}

func TestConcurrentVoteAndResolveYieldOneResult(t *testing.T) {
	t.Parallel()
	s, mem := newService(t, Options{MaxAttempts: 50})
	ctx := context.Background()
	id, start := started(t, s, 4)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*room.VoteResult
	)
	for i := 1; i <= 4; i++ {
		caller := fmt.Sprintf("c%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Vote(ctx, id, caller, start.CurrentPolicyIDs[0])
			assert.NoError(t, err)
			for range 3 {
				res, err := s.Resolve(ctx, id, caller, false)
				if err == nil {
					mu.Lock()
					results = append(results, res.LastResult)
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()

	require.NotEmpty(t, results, "the last voter always resolves")
	for _, res := range results {
		assert.Equal(t, results[0], res)
	}

	r, err := mem.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{start.CurrentPolicyIDs[0]}, r.PassedPolicyIDs, "policy applied exactly once")
	assert.Len(t, r.LastResult.VoteDetails, 4)
}

// flakyStore loses the first n compare-and-swaps.
type flakyStore struct {
	*persistence.Memory
	lose atomic.Int32
}

func (f *flakyStore) CompareAndSwap(ctx context.Context, r *room.Room, expected int64) error {
	if f.lose.Add(-1) >= 0 {
		return apperr.New(apperr.CodeConflict, "room was modified concurrently")
	}
	return f.Memory.CompareAndSwap(ctx, r, expected)
}

func TestConflictIsRetried(t *testing.T) {
	t.Parallel()
	store := &flakyStore{Memory: persistence.NewMemory()}
	s, _ := newService(t, Options{Store: store})
	ctx := context.Background()

	created, err := s.CreateRoom(ctx, "c1", "Ann")
	require.NoError(t, err)

	store.lose.Store(2)
	_, err = s.Join(ctx, created.RoomID, "c2", "Bo")
	require.NoError(t, err)

	store.lose.Store(10)
	_, err = s.Join(ctx, created.RoomID, "c3", "Cy")
	requireCode(t, apperr.CodeConflict, err)
}

func TestPetitionApprovesCatalogPolicy(t *testing.T) {
	t.Parallel()
	oracle := &mockOracle{}
	s, mem := newService(t, Options{Oracle: oracle})
	ctx := context.Background()
	id, start := started(t, s, 2)

	r, err := mem.Get(ctx, id)
	require.NoError(t, err)
	target := r.DeckIDs[0]

	oracle.On("Review", mock.Anything, mock.MatchedBy(func(req petition.Request) bool {
		return req.RoomID == id && req.Text == "more parks" && len(req.Ballot) == len(start.CurrentPolicyIDs)
	})).Return(petition.Verdict{Approved: true, PolicyID: target, Message: "ok"}, nil).Once()

	res, err := s.Petition(ctx, id, "c2", "  more parks ")
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, target, res.PolicyID)
	oracle.AssertExpectations(t)

	r, err = mem.Get(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, r.CurrentPolicyIDs, target)
	assert.NotContains(t, r.DeckIDs, target)

	_, err = s.Petition(ctx, id, "c2", "again")
	requireCode(t, apperr.CodeResourceExhausted, err)
}

func TestPetitionDraftsPolicy(t *testing.T) {
	t.Parallel()
	oracle := &mockOracle{}
	s, mem := newService(t, Options{Oracle: oracle})
	ctx := context.Background()
	id, _ := started(t, s, 2)

	oracle.On("Review", mock.Anything, mock.Anything).Return(petition.Verdict{
		Approved: true,
		Draft:    &petition.Draft{Title: "Night buses", Category: "bogus", Effects: city.Effects{city.Welfare: 80, city.Economy: -5}},
	}, nil)

	res, err := s.Petition(ctx, id, "c1", "buses at night")
	require.NoError(t, err)
	require.True(t, res.Approved)
	assert.Equal(t, "petition_id0004aa", res.PolicyID)

	r, err := mem.Get(ctx, id)
	require.NoError(t, err)
	pol := r.PetitionPolicies[res.PolicyID]
	assert.Equal(t, 30, pol.Effects[city.Welfare])
	assert.Equal(t, catalog.CategoryWelfare, pol.Category)
	assert.Contains(t, r.CurrentPolicyIDs, res.PolicyID)

	// The drafted policy is votable and resolves like any other.
	castVote(t, s, id, "c1", res.PolicyID)
	castVote(t, s, id, "c2", res.PolicyID)
	out, err := s.Resolve(ctx, id, "c1", false)
	require.NoError(t, err)
	assert.Equal(t, "Night buses", out.LastResult.PassedPolicyTitle)
}

func TestPetitionTimeoutDeclines(t *testing.T) {
	t.Parallel()
	slow := petition.OracleFunc(func(ctx context.Context, _ petition.Request) (petition.Verdict, error) {
		<-ctx.Done()
		return petition.Verdict{}, ctx.Err()
	})
	s, mem := newService(t, Options{Oracle: slow, PetitionTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	id, _ := started(t, s, 2)

	res, err := s.Petition(ctx, id, "c2", "anything")
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, petition.MsgTimeout, res.Message)

	r, err := mem.Get(ctx, id)
	require.NoError(t, err)
	p, _ := r.PlayerByCaller("c2")
	assert.True(t, p.IsPetitionUsed, "spent on attempt")
}

func TestPetitionDeclinedOnApprovalKeepsFlag(t *testing.T) {
	t.Parallel()
	rules := room.DefaultRules()
	rules.PetitionConsumption = room.ConsumeOnApproval
	s, mem := newService(t, Options{Rules: rules, Oracle: petition.Declined("no")})
	ctx := context.Background()
	id, _ := started(t, s, 2)

	before, err := mem.Get(ctx, id)
	require.NoError(t, err)

	res, err := s.Petition(ctx, id, "c2", "please")
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, "no", res.Message)

	after, err := mem.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version, "nothing written")
}

func TestPetitionUnknownPolicyIsDeclined(t *testing.T) {
	t.Parallel()
	oracle := petition.OracleFunc(func(context.Context, petition.Request) (petition.Verdict, error) {
		return petition.Verdict{Approved: true, PolicyID: "no_such_policy"}, nil
	})
	s, _ := newService(t, Options{Oracle: oracle})
	id, _ := started(t, s, 2)

	res, err := s.Petition(context.Background(), id, "c1", "x")
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.Equal(t, petition.MsgIncomplete, res.Message)
}

func TestPetitionDiscardedWhenTurnMoves(t *testing.T) {
	t.Parallel()
	var s *Service
	oracle := petition.OracleFunc(func(ctx context.Context, req petition.Request) (petition.Verdict, error) {
		_, err := s.ForceResolve(ctx, req.RoomID)
		require.NoError(t, err)
		_, err = s.ForceNext(ctx, req.RoomID)
		require.NoError(t, err)
		return petition.Verdict{Approved: true, PolicyID: req.Ballot[0].ID}, nil
	})
	s, mem := newService(t, Options{Oracle: oracle})
	ctx := context.Background()
	id, _ := started(t, s, 2)

	_, err := s.Petition(ctx, id, "c2", "slow one")
	requireCode(t, apperr.CodeInvalidTransition, err)

	r, err := mem.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Turn)
	p, _ := r.PlayerByCaller("c2")
	assert.False(t, p.IsPetitionUsed)
}

func TestPetitionValidation(t *testing.T) {
	t.Parallel()
	s, _ := newService(t, Options{})
	id, _ := started(t, s, 2)
	ctx := context.Background()

	_, err := s.Petition(ctx, id, "c1", "   ")
	requireCode(t, apperr.CodeInvalidArgument, err)
	long := make([]rune, MaxPetitionLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = s.Petition(ctx, id, "c1", string(long))
	requireCode(t, apperr.CodeInvalidArgument, err)

	res, err := s.Petition(ctx, id, "c1", "no oracle configured")
	require.NoError(t, err)
	assert.False(t, res.Approved)
	assert.NotEmpty(t, res.Message)
}

func castVote(t *testing.T, s *Service, roomID, caller, policy string) VoteOutcome {
	t.Helper()
	out, err := s.Vote(context.Background(), roomID, caller, policy)
	require.NoError(t, err)
	require.True(t, out.Success)
	return out
}

// finished plays a one-turn game to the end.
func finished(t *testing.T, s *Service) string {
	t.Helper()
	ctx := context.Background()
	id, start := started(t, s, 2)
	castVote(t, s, id, "c1", start.CurrentPolicyIDs[0])
	last := castVote(t, s, id, "c2", start.CurrentPolicyIDs[0])
	assert.True(t, last.IsGameOver)
	res, err := s.Resolve(ctx, id, "c1", false)
	require.NoError(t, err)
	assert.True(t, res.IsGameOver)
	next, err := s.NextTurn(ctx, id, "c1")
	require.NoError(t, err)
	require.Equal(t, room.Finished, next.Status)
	return id
}

func oneTurn() room.Rules {
	rules := room.DefaultRules()
	rules.MaxTurns = 1
	return rules
}

func TestChronicleAndArchive(t *testing.T) {
	t.Parallel()
	s, mem := newService(t, Options{Rules: oneTurn()})
	ctx := context.Background()

	live, _ := started(t, s, 2)
	_, err := s.Chronicle(ctx, live)
	requireCode(t, apperr.CodeInvalidTransition, err)
	_, err = s.Archive(ctx, live)
	requireCode(t, apperr.CodeInvalidTransition, err)

	id := finished(t, s)
	c, err := s.Chronicle(ctx, id)
	require.NoError(t, err)
	assert.False(t, c.Written)
	assert.NotEmpty(t, c.Headline)

	size, err := s.Archive(ctx, id)
	require.NoError(t, err)
	assert.Positive(t, size)
	_, err = mem.Get(ctx, id)
	requireCode(t, apperr.CodeNotFound, err)

	archived, err := s.Archives(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, id, archived[0].RoomID)
	assert.Equal(t, size, archived[0].Size)

	// A fresh service finds the room in the archive.
	other := New(Options{Store: mem, Catalog: catalog.Default()})
	again, err := other.Chronicle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, c.Headline, again.Headline)
}

// racingStore runs beforeDelete once, between Reap's read and its delete.
type racingStore struct {
	*persistence.Memory
	beforeDelete func()
}

func (r *racingStore) Delete(ctx context.Context, id string, expected int64) error {
	if f := r.beforeDelete; f != nil {
		r.beforeDelete = nil
		f()
	}
	return r.Memory.Delete(ctx, id, expected)
}

func TestReapLosesToJoin(t *testing.T) {
	t.Parallel()
	store := &racingStore{Memory: persistence.NewMemory()}
	s, _ := newService(t, Options{Store: store})
	ctx := context.Background()

	created, err := s.CreateRoom(ctx, "c1", "Ann")
	require.NoError(t, err)
	require.NoError(t, s.Leave(ctx, created.RoomID, "c1"))

	store.beforeDelete = func() {
		_, err := s.Join(ctx, created.RoomID, "c2", "Bo")
		require.NoError(t, err)
	}
	requireCode(t, apperr.CodeConflict, s.Reap(ctx, created.RoomID))

	r, err := store.Get(ctx, created.RoomID)
	require.NoError(t, err)
	assert.Len(t, r.Players, 1, "the late joiner keeps the room")
	rooms, err := s.MyRooms(ctx, "c2")
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}

func TestReap(t *testing.T) {
	t.Parallel()
	s, mem := newService(t, Options{})
	ctx := context.Background()

	created, err := s.CreateRoom(ctx, "c1", "Ann")
	require.NoError(t, err)
	requireCode(t, apperr.CodeInvalidTransition, s.Reap(ctx, created.RoomID))

	watch, cancel := s.Subscribe(created.RoomID)
	defer cancel()

	require.NoError(t, s.Leave(ctx, created.RoomID, "c1"))
	assert.Equal(t, int64(2), <-watch)

	require.NoError(t, s.Reap(ctx, created.RoomID))
	assert.Equal(t, int64(0), <-watch)
	_, err = mem.Get(ctx, created.RoomID)
	requireCode(t, apperr.CodeNotFound, err)

	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestHubKeepsLatest(t *testing.T) {
	t.Parallel()
	h := NewHub()
	ch, cancel := h.Subscribe("r")
	h.Publish("r", 3)
	h.Publish("r", 4)
	h.Publish("other", 9)
	assert.Equal(t, int64(4), <-ch)
	assert.Equal(t, 1, h.Subscribers("r"))

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers("r"))
}

type countingPainter struct {
	calls atomic.Int32
	err   error
}

func (p *countingPainter) Paint(_ context.Context, params city.Params, passed []catalog.Policy) ([]byte, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return []byte(fmt.Sprintf("png:%d:%d", params.Economy, len(passed))), nil
}

func TestCityImageAfterResolution(t *testing.T) {
	t.Parallel()
	painter := &countingPainter{}
	s, _ := newService(t, Options{Painter: painter})
	ctx := context.Background()
	id, start := started(t, s, 2)

	pick := start.CurrentPolicyIDs[0]
	castVote(t, s, id, "c1", pick)
	last := castVote(t, s, id, "c2", pick)
	require.True(t, last.Resolved)
	s.Wait()

	v, err := s.View(ctx, id, "c1")
	require.NoError(t, err)
	require.NotNil(t, v.LastResult)
	assert.Equal(t, ImagePath(id, 1), v.LastResult.CityImageURL)

	png, err := s.CityImage(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("png:%d:1", v.CityParams.Economy), string(png))

	// Repeated resolves return the cached result without drawing again.
	_, err = s.Resolve(ctx, id, "c1", false)
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, int32(1), painter.calls.Load())
}

func TestCityImageFailureKeepsResult(t *testing.T) {
	t.Parallel()
	painter := &countingPainter{err: errors.New("503 from image service")}
	s, _ := newService(t, Options{Painter: painter})
	ctx := context.Background()
	id, start := started(t, s, 2)

	castVote(t, s, id, "c1", start.CurrentPolicyIDs[0])
	last := castVote(t, s, id, "c2", start.CurrentPolicyIDs[0])
	require.True(t, last.Resolved)
	s.Wait()

	v, err := s.View(ctx, id, "c1")
	require.NoError(t, err)
	assert.Equal(t, room.Result, v.Phase)
	assert.Empty(t, v.LastResult.CityImageURL)
	_, err = s.CityImage(ctx, id, 1)
	requireCode(t, apperr.CodeNotFound, err)
}

func TestNoCityImageWhenAdjourned(t *testing.T) {
	t.Parallel()
	painter := &countingPainter{}
	s, _ := newService(t, Options{Painter: painter})
	ctx := context.Background()
	id, _ := started(t, s, 2)

	res, err := s.ForceResolve(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, res.LastResult.PassedPolicyID)
	s.Wait()
	assert.Zero(t, painter.calls.Load())
}

func TestResolveDetachedFromCallerCancellation(t *testing.T) {
	t.Parallel()
	s, mem := newService(t, Options{})
	id, start := started(t, s, 2)
	castVote(t, s, id, "c1", start.CurrentPolicyIDs[0])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Resolve(ctx, id, "c1", true)
	require.NoError(t, err, "a shared flight is not cut short by its leader's context")
	assert.Equal(t, room.Result, res.Status)

	r, err := mem.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, room.Result, r.Phase)
}
