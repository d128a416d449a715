// Package engine runs room operations against the store.
//
// Every mutating operation loads the room, applies the change to a clone and
// writes it back with a version compare-and-swap. A lost race is retried
// with a short backoff; any other failure is returned as is.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
	"github.com/talgya/city-council/internal/entropy"
	"github.com/talgya/city-council/internal/llm"
	"github.com/talgya/city-council/internal/persistence"
	"github.com/talgya/city-council/internal/petition"
	"github.com/talgya/city-council/internal/room"
)

// Store is the room storage the engine needs.
type Store interface {
	Create(ctx context.Context, r *room.Room) error
	Get(ctx context.Context, id string) (*room.Room, error)
	CompareAndSwap(ctx context.Context, r *room.Room, expected int64) error
	List(ctx context.Context) ([]room.Summary, error)
	Delete(ctx context.Context, id string, expected int64) error
	RoomsForCaller(ctx context.Context, callerID string) ([]persistence.CallerRoom, error)
	Archive(ctx context.Context, id string) (int, error)
	LoadArchive(ctx context.Context, id string) (*room.Room, error)
	Archives(ctx context.Context) ([]persistence.ArchiveInfo, error)
	SaveImage(ctx context.Context, roomID string, turn int, png []byte) error
	Image(ctx context.Context, roomID string, turn int) ([]byte, error)
}

// Painter draws the city after a resolution.
type Painter interface {
	Paint(ctx context.Context, params city.Params, passed []catalog.Policy) ([]byte, error)
}

// SeedSource supplies room seeds.
type SeedSource interface {
	Seed(ctx context.Context) int64
}

// Options configures a Service. Store and Catalog are required.
type Options struct {
	Store   Store
	Catalog *catalog.Catalog
	Rules   room.Rules

	// Oracle reviews petitions. Nil declines every petition.
	Oracle          petition.Oracle
	PetitionTimeout time.Duration

	// LLM writes chronicles. Nil uses the plain fallback.
	LLM *llm.Client

	// Painter draws a city image after each passed policy. Nil disables
	// images. ImageTimeout bounds one drawing, 60s by default.
	Painter      Painter
	ImageTimeout time.Duration

	Seeds SeedSource
	Now   func() time.Time
	NewID func() string

	// Conflict retry policy. Zero values mean 4 attempts between 10ms and 200ms.
	MaxAttempts     uint
	RetryInitial    time.Duration
	RetryMaxBackoff time.Duration
}

// Service is the room engine.
type Service struct {
	store   Store
	cat     *catalog.Catalog
	rules   room.Rules
	oracle  petition.Oracle
	timeout time.Duration
	llm     *llm.Client
	painter Painter
	seeds   SeedSource
	now     func() time.Time
	newID   func() string

	maxAttempts  uint
	retryInitial time.Duration
	retryMax     time.Duration

	resolves singleflight.Group
	hub      *Hub
	tracer   trace.Tracer

	chronMu    sync.Mutex
	chronicles map[string]llm.Chronicle
	chronGroup singleflight.Group

	imageTimeout time.Duration
	background   sync.WaitGroup
}

// New builds a Service.
func New(opts Options) *Service {
	s := &Service{
		store:        opts.Store,
		cat:          opts.Catalog,
		rules:        opts.Rules,
		oracle:       opts.Oracle,
		timeout:      opts.PetitionTimeout,
		llm:          opts.LLM,
		painter:      opts.Painter,
		imageTimeout: opts.ImageTimeout,
		seeds:        opts.Seeds,
		now:          opts.Now,
		newID:        opts.NewID,
		maxAttempts:  opts.MaxAttempts,
		retryInitial: opts.RetryInitial,
		retryMax:     opts.RetryMaxBackoff,
		hub:          NewHub(),
		tracer:       otel.Tracer("github.com/talgya/city-council/internal/engine"),
		chronicles:   map[string]llm.Chronicle{},
	}
	if s.rules == (room.Rules{}) {
		s.rules = room.DefaultRules()
	}
	if s.oracle == nil {
		s.oracle = petition.Declined(llm.ClosedMessage)
	}
	if s.timeout <= 0 {
		s.timeout = petition.DefaultTimeout
	}
	if s.seeds == nil {
		s.seeds = (*entropy.Client)(nil)
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.maxAttempts == 0 {
		s.maxAttempts = 4
	}
	if s.retryInitial <= 0 {
		s.retryInitial = 10 * time.Millisecond
	}
	if s.retryMax <= 0 {
		s.retryMax = 200 * time.Millisecond
	}
	if s.imageTimeout <= 0 {
		s.imageTimeout = time.Minute
	}
	return s
}

// Wait blocks until background work such as city images has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// Catalog returns the catalog rooms are dealt from.
func (s *Service) Catalog() *catalog.Catalog { return s.cat }

// Rules returns the rules new rooms are created with.
func (s *Service) Rules() room.Rules { return s.rules }

// Subscribe registers for change notifications of one room.
func (s *Service) Subscribe(roomID string) (<-chan int64, func()) {
	return s.hub.Subscribe(roomID)
}

// mutation changes a room in place. It reports false when the room needs
// no write, for replays and cached results.
type mutation func(r *room.Room) (changed bool, err error)

// mutate runs op under optimistic concurrency and returns the room as
// written (or as read, when op changed nothing).
func (s *Service) mutate(ctx context.Context, roomID string, op mutation) (*room.Room, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInitial
	b.MaxInterval = s.retryMax

	attempt := 0
	return backoff.Retry(ctx, func() (*room.Room, error) {
		attempt++
		cur, err := s.store.Get(ctx, roomID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		next := cur.Clone()
		changed, err := op(next)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !changed {
			return cur, nil
		}
		next.UpdatedAt = s.now()
		if err := s.store.CompareAndSwap(ctx, next, cur.Version); err != nil {
			if apperr.IsRetryable(err) {
				slog.Debug("room write conflict", "room", roomID, "attempt", attempt)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		s.hub.Publish(roomID, next.Version)
		return next, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.maxAttempts))
}

// span starts a trace span for one operation.
func (s *Service) span(ctx context.Context, op, roomID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attribute.String("room.id", roomID)))
}

// finish records err on the span and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
	}
	span.End()
}

// member resolves the caller's player record.
func member(r *room.Room, callerID string) (room.Player, error) {
	if callerID == "" {
		return room.Player{}, apperr.New(apperr.CodeUnauthenticated, "caller identity required")
	}
	p, ok := r.PlayerByCaller(callerID)
	if !ok {
		return room.Player{}, apperr.Newf(apperr.CodeUnauthorized, "caller is not a member of room %s", r.ID)
	}
	return p, nil
}

func (s *Service) newPetitionID() string {
	id := strings.ReplaceAll(s.newID(), "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return room.PetitionIDPrefix + id
}
