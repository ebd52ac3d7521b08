package authkit

import (
	"context"
	"sync"
)

// AuthState is the derived view of the session that UI layers render from.
// It is rebuilt by re-running the engine's validity protocol, never mutated
// piecemeal.
type AuthState struct {
	IsAuthenticated bool
	IsLoading       bool
	User            *User
	Err             error
}

// Facade wraps an Engine in a simple consumable surface: current user,
// is-authenticated, is-loading, last error. Mutating operations capture the
// engine's typed errors into the observable state instead of letting them
// escape to UI code.
//
// The Facade owns its AuthState and is the only writer of it; it never
// touches storage directly, only the engine's methods.
type Facade struct {
	engine *Engine

	mu       sync.RWMutex
	state    AuthState
	onChange func(AuthState)
}

// NewFacade wraps engine. onChange, when non-nil, is invoked with a snapshot
// after every state transition (including the transitions into and out of
// loading); it runs on the calling goroutine and must not block.
func NewFacade(engine *Engine, onChange func(AuthState)) *Facade {
	return &Facade{engine: engine, onChange: onChange}
}

// State returns a snapshot of the current auth state.
func (f *Facade) State() AuthState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Resync rebuilds the state from storage and the server. Call it on
// application start and whenever the app returns to the foreground.
// "No session" is a normal outcome and leaves Err nil.
func (f *Facade) Resync(ctx context.Context) {
	f.setLoading()

	user, err := f.engine.GetUser(ctx)
	if err != nil {
		f.setState(AuthState{Err: err})
		return
	}

	f.setState(AuthState{IsAuthenticated: user != nil, User: user})
}

// Login runs the interactive login flow and folds the outcome into state.
func (f *Facade) Login(ctx context.Context) {
	f.setLoading()

	user, err := f.engine.Login(ctx)
	if err != nil {
		f.setState(AuthState{Err: err})
		return
	}

	f.setState(AuthState{IsAuthenticated: true, User: user})
}

// Logout ends the session. The state always ends unauthenticated; a local
// cleanup failure is surfaced through Err.
func (f *Facade) Logout(ctx context.Context) {
	f.setLoading()

	err := f.engine.Logout(ctx)
	f.setState(AuthState{Err: err})
}

// HasRole delegates to the engine over the current session.
func (f *Facade) HasRole(ctx context.Context, name string) bool {
	return f.engine.HasRole(ctx, name)
}

func (f *Facade) setLoading() {
	f.mu.Lock()
	f.state.IsLoading = true
	snapshot := f.state
	f.mu.Unlock()

	f.notify(snapshot)
}

func (f *Facade) setState(state AuthState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()

	f.notify(state)
}

func (f *Facade) notify(state AuthState) {
	if f.onChange != nil {
		f.onChange(state)
	}
}
