package authkit

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFacadeLoginLogoutLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	var transitions []AuthState
	facade := NewFacade(env.engine, func(s AuthState) {
		transitions = append(transitions, s)
	})

	// Initial state: signed out, nothing loading.
	initial := facade.State()
	require.False(t, initial.IsAuthenticated)
	require.False(t, initial.IsLoading)
	require.Nil(t, initial.User)
	require.NoError(t, initial.Err)

	facade.Login(ctx)

	state := facade.State()
	require.True(t, state.IsAuthenticated)
	require.False(t, state.IsLoading)
	require.NoError(t, state.Err)
	require.Equal(t, "u1", state.User.Sub)

	// Loading flashed on before the terminal state landed.
	require.Len(t, transitions, 2)
	require.True(t, transitions[0].IsLoading)
	require.False(t, transitions[1].IsLoading)

	facade.Logout(ctx)

	state = facade.State()
	require.False(t, state.IsAuthenticated)
	require.Nil(t, state.User)
	require.NoError(t, state.Err)
}

func TestFacadeLoginFailureCapturesError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.engine.authorizer = AuthorizerFunc(func(context.Context, string, string) (string, error) {
		return "", fmt.Errorf("dismissed")
	})

	facade := NewFacade(env.engine, nil)
	facade.Login(context.Background())

	state := facade.State()
	require.False(t, state.IsAuthenticated)
	require.True(t, IsKind(state.Err, KindAuthenticationFailed))
}

func TestFacadeResync(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	// Session established directly through the engine, as a previous app
	// run would have done.
	_, err := env.engine.Login(ctx)
	require.NoError(t, err)

	facade := NewFacade(env.engine, nil)
	facade.Resync(ctx)

	state := facade.State()
	require.True(t, state.IsAuthenticated)
	require.Equal(t, "u1", state.User.Sub)
	require.NoError(t, state.Err)
}

func TestFacadeResyncNoSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	facade := NewFacade(env.engine, nil)
	facade.Resync(context.Background())

	state := facade.State()
	require.False(t, state.IsAuthenticated)
	require.Nil(t, state.User)
	require.NoError(t, state.Err)
}

func TestFacadeHasRole(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	facade := NewFacade(env.engine, nil)
	require.False(t, facade.HasRole(ctx, "admin"))

	facade.Login(ctx)
	require.True(t, facade.HasRole(ctx, "admin"))
	require.False(t, facade.HasRole(ctx, "auditor"))
}
