package canvas

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	domain "github.com/rajdeep564/api-gateway-services-wildmind-sub003/internal/app/domain/canvas"
)

// Project owns one project's in-memory state. Its mutex is the
// per-project serialization primitive: every read and mutation of the
// state goes through Do, so handlers on different connections never
// touch the same ProjectState concurrently.
type Project struct {
	ID string

	mu    sync.Mutex
	state *domain.ProjectState

	hydrateOnce sync.Once
	refs        atomic.Int32
	lastActive  atomic.Int64 // unix nano
}

func newProject(id string) *Project {
	p := &Project{ID: id, state: domain.NewProjectState()}
	p.touch()
	return p
}

// Do runs fn with exclusive access to the project state.
func (p *Project) Do(fn func(*domain.ProjectState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.touch()
	fn(p.state)
}

// Attach records a connection using this project, pinning it in memory.
func (p *Project) Attach() {
	p.refs.Add(1)
	p.touch()
}

// Detach releases a connection's pin.
func (p *Project) Detach() {
	p.refs.Add(-1)
	p.touch()
}

func (p *Project) touch() {
	p.lastActive.Store(time.Now().UnixNano())
}

func (p *Project) idleSince() time.Time {
	return time.Unix(0, p.lastActive.Load())
}

// Registry is the project state store: per-project state objects created
// lazily on first access. Idle projects with no attached connections are
// evicted after IdleTTL (zero disables eviction); their durable state
// lives in the op log and snapshots and is rebuilt on next access.
type Registry struct {
	log     zerolog.Logger
	loader  *Loader
	idleTTL time.Duration

	mu       sync.Mutex
	projects map[string]*Project
}

// NewRegistry creates a registry. loader may be nil, in which case
// projects always start empty.
func NewRegistry(loader *Loader, idleTTL time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		log:      log.With().Str("component", "registry").Logger(),
		loader:   loader,
		idleTTL:  idleTTL,
		projects: make(map[string]*Project),
	}
}

// Get returns the project, creating and hydrating it on first access.
func (r *Registry) Get(ctx context.Context, projectID string) *Project {
	r.mu.Lock()
	p, ok := r.projects[projectID]
	if !ok {
		p = newProject(projectID)
		r.projects[projectID] = p
	}
	r.mu.Unlock()

	p.hydrateOnce.Do(func() {
		if r.loader == nil {
			return
		}
		st, err := r.loader.Load(ctx, projectID)
		if err != nil {
			// Start empty; durability was never guaranteed for state
			// the log could not give back.
			r.log.Warn().Err(err).Str("project", projectID).Msg("state hydration failed")
			return
		}
		p.mu.Lock()
		p.state = st
		p.mu.Unlock()
	})
	return p
}

// Len returns the number of resident projects.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.projects)
}

// Sweep evicts projects with no attached connections that have been
// idle past the TTL. Returns the number of evicted projects.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, p := range r.projects {
		if p.refs.Load() > 0 {
			continue
		}
		if now.Sub(p.idleSince()) < r.idleTTL {
			continue
		}
		delete(r.projects, id)
		evicted++
		r.log.Info().Str("project", id).Msg("evicted idle project state")
	}
	return evicted
}
