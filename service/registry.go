package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Room owns the current session of one room and the writer feeding it.
type Room struct {
	mu        sync.Mutex
	ID        string
	createdAt time.Time
	session   *Session
	writer    *WriterQueue
	// removed is set once the room has left the registry. A holder of mu
	// must not install a session into a removed room.
	removed bool
}

func (r *Room) current() (*Session, *WriterQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session, r.writer
}

// expiredLocked reports whether the room holds no live session and has been
// idle for longer than retention. The caller holds r.mu.
func (r *Room) expiredLocked(now time.Time, retention time.Duration) bool {
	session := r.session
	if session == nil {
		return now.Sub(r.createdAt) > retention
	}
	ended := session.endedAt()
	if ended.IsZero() {
		return false
	}
	return now.Sub(ended) > retention
}

// Registry maps room ids to rooms. Rooms are created lazily and removed by
// Sweep once their session is gone or finished for longer than retention.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	retention time.Duration
	now       func() time.Time
	cleanup   func(ctx context.Context, room *Room)
}

func NewRegistry(retention time.Duration, now func() time.Time, cleanup func(ctx context.Context, room *Room)) *Registry {
	if now == nil {
		now = time.Now
	}
	if cleanup == nil {
		cleanup = func(context.Context, *Room) {}
	}
	return &Registry{
		rooms:     make(map[string]*Room),
		retention: retention,
		now:       now,
		cleanup:   cleanup,
	}
}

func (r *Registry) GetOrCreate(roomID string) *Room {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok {
		return room
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok {
		return room
	}
	room = &Room{ID: roomID, createdAt: r.now()}
	r.rooms[roomID] = room
	return room
}

func (r *Registry) Get(roomID string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Acquire returns the room for roomID with its lock held, creating it when
// needed. A room that a concurrent sweep removed is never returned.
func (r *Registry) Acquire(roomID string) *Room {
	for {
		room := r.GetOrCreate(roomID)
		room.mu.Lock()
		if !room.removed {
			return room
		}
		room.mu.Unlock()
	}
}

// Sweep removes expired rooms and runs cleanup on each of them outside the
// registry lock. Rooms whose lock is held are busy and left for the next
// sweep. It returns the number of rooms removed.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now()

	r.mu.Lock()
	var expired []*Room
	for id, room := range r.rooms {
		if !room.mu.TryLock() {
			continue
		}
		if room.expiredLocked(now, r.retention) {
			room.removed = true
			expired = append(expired, room)
			delete(r.rooms, id)
		}
		room.mu.Unlock()
	}
	r.mu.Unlock()

	for _, room := range expired {
		zerolog.Ctx(ctx).Info().Str("room_id", room.ID).Msg("reaping room")
		r.cleanup(ctx, room)
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				zerolog.Ctx(ctx).Info().Int("reaped", n).Int("rooms", r.Len()).Msg("registry sweep finished")
			}
		}
	}
}

// Drain removes every room and runs cleanup on it. Used at shutdown.
func (r *Registry) Drain(ctx context.Context, cleanup func(ctx context.Context, room *Room)) {
	r.mu.Lock()
	rooms := r.rooms
	r.rooms = make(map[string]*Room)
	r.mu.Unlock()

	for _, room := range rooms {
		cleanup(ctx, room)
	}
}
