// Package engine owns all conversation state of the local user and applies
// every change on a single goroutine. Public methods post commands to that
// goroutine and wait; storage and network calls run outside it and post
// their results back.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"chat-sync/internal/conversations"
	"chat-sync/internal/directory"
	"chat-sync/internal/feed"
	"chat-sync/internal/friends"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/thread"
)

var ErrStopped = errors.New("engine stopped")

type Config struct {
	LocalID        string
	FriendGating   bool
	DedupTolerance time.Duration
	// PersistTimeout bounds one send's storage round trip.
	PersistTimeout time.Duration
	Feed           feed.Config
	Now            func() time.Time
}

type Deps struct {
	Messages repositories.MessageRepository
	Users    repositories.UserRepository
	Friends  repositories.FriendRepository
	// Source is optional; without it the engine only changes on local actions.
	Source feed.Source
	Audit  *telemetry.AuditEmitter
	Log    *zap.Logger
}

type Engine struct {
	cfg      Config
	messages repositories.MessageRepository
	source   feed.Source
	audit    *telemetry.AuditEmitter
	log      *zap.Logger

	cmds   chan func()
	done   chan struct{}
	runCtx context.Context

	// loop-owned state
	dir        *directory.Cache
	index      *conversations.Index
	threads    *thread.Store
	registry   *friends.Registry
	friendSet  map[string]models.User
	open       string
	startedAt  time.Time
	lastFeedAt time.Time
	reconciles int
	degraded   error
	resolving  map[string]bool
	subs       map[int]chan Update
	nextSub    int
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DedupTolerance == 0 {
		cfg.DedupTolerance = thread.DefaultTolerance
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 15 * time.Second
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("user_id", cfg.LocalID))
	return &Engine{
		cfg:       cfg,
		messages:  deps.Messages,
		source:    deps.Source,
		audit:     deps.Audit,
		log:       log,
		cmds:      make(chan func()),
		done:      make(chan struct{}),
		dir:       directory.NewCache(cfg.LocalID, deps.Users),
		index:     conversations.NewIndex(cfg.LocalID),
		threads:   thread.NewStore(cfg.LocalID, deps.Messages, thread.WithMatcher(thread.NewIdentityMatcher(cfg.DedupTolerance))),
		registry:  friends.NewRegistry(cfg.LocalID, deps.Friends, deps.Users, log),
		friendSet: make(map[string]models.User),
		resolving: make(map[string]bool),
		subs:      make(map[int]chan Update),
	}
}

// LocalID is the user this engine syncs for.
func (e *Engine) LocalID() string { return e.cfg.LocalID }

// Start runs the update loop until ctx is done, builds the directory and the
// conversation index, then starts the feed listener. A bootstrap failure is
// returned but the engine keeps running; the next reconcile retries it.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx = ctx
	e.startedAt = e.cfg.Now()
	go e.loop(ctx)

	err := e.bootstrap(ctx)
	if err != nil {
		e.log.Warn("engine bootstrap incomplete", zap.Error(err))
	}

	if e.source != nil {
		l := feed.NewListener(e.source, e, e.cfg.LocalID, e.cfg.Feed, e.log)
		go func() {
			if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Error("feed listener stopped", zap.Error(err))
			}
		}()
	}
	return err
}

// Done is closed once the loop has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	defer func() {
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.cmds:
			cmd()
		}
	}
}

// do runs fn on the loop and waits for it. Never call it from the loop.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case e.cmds <- func() {
		defer close(finished)
		fn()
	}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	<-finished
	return nil
}

// async runs work off the loop and posts apply back to it.
func (e *Engine) async(work func(ctx context.Context) func()) {
	ctx := e.runCtx
	go func() {
		apply := work(ctx)
		if apply == nil {
			return
		}
		if err := e.do(ctx, apply); err != nil {
			e.log.Debug("dropping async result", zap.Error(err))
		}
	}()
}

func (e *Engine) bootstrap(ctx context.Context) error {
	users, dirErr := e.dir.Fetch(ctx)
	friendList, friendErr := e.registry.List(ctx)
	last, lastErr := e.messages.LastMessages(ctx, e.cfg.LocalID)
	lastErr = wrapFetch("last messages", lastErr)

	applyErr := e.do(ctx, func() {
		if dirErr == nil {
			e.dir.Replace(users)
		}
		if friendErr == nil {
			e.setFriends(friendList)
		}
		e.ensureVisible()
		if lastErr == nil {
			for _, m := range last {
				peer := models.PeerOf(e.cfg.LocalID, m)
				if _, ok := e.index.Summary(peer); !ok {
					continue
				}
				// history from before startup counts as read
				e.index.Rebuild(peer, []models.Message{m}, e.startedAt)
			}
		}
		e.emitConversations()
	})
	return errors.Join(dirErr, friendErr, lastErr, applyErr)
}

func (e *Engine) setFriends(list []models.User) {
	e.friendSet = make(map[string]models.User, len(list))
	for _, u := range list {
		e.friendSet[u.ID] = u
		e.dir.Announce(u)
	}
}

// visiblePeers is the friend list under gating, otherwise the directory.
func (e *Engine) visiblePeers() []models.User {
	if !e.cfg.FriendGating {
		return e.dir.All()
	}
	out := make([]models.User, 0, len(e.friendSet))
	for id, u := range e.friendSet {
		if known, ok := e.dir.Lookup(id); ok {
			u = known
		}
		out = append(out, u)
	}
	return out
}

func (e *Engine) ensureVisible() {
	e.index.Ensure(e.visiblePeers())
}
