package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/rocicorp/zero-ivm/internal/enginetest"
	"github.com/rocicorp/zero-ivm/internal/lifecycle"
	"github.com/rocicorp/zero-ivm/internal/schema"
	"github.com/rocicorp/zero-ivm/internal/types"
	"github.com/rocicorp/zero-ivm/internal/view"

	"github.com/stretchr/testify/require"
)

func userSchema() []schema.TableDef {
	return []schema.TableDef{{
		Name:       "user",
		Columns:    []string{"id", "name"},
		PrimaryKey: types.PrimaryKey{"id"},
	}}
}

func TestMaterializeSharesOnePipelinePerHash(t *testing.T) {
	ctx := context.Background()
	f := enginetest.New(ctx, userSchema(), lifecycle.Config{})
	defer f.Close(time.Second)

	v1, err := f.Lifecycle.Materialize(ctx, f.Query("user"), lifecycle.Forever)
	require.NoError(t, err)
	v2, err := f.Lifecycle.Materialize(ctx, f.Query("user"), lifecycle.Forever)
	require.NoError(t, err)

	require.Same(t, v1, v2, "two Materialize calls for the same query must share one View")
}

func TestReleaseWithZeroTTLRetiresImmediately(t *testing.T) {
	ctx := context.Background()
	f := enginetest.New(ctx, userSchema(), lifecycle.Config{})
	defer f.Close(time.Second)

	v, err := f.Lifecycle.Materialize(ctx, f.Query("user"), 0)
	require.NoError(t, err)
	v.Destroy()

	require.Eventually(t, func() bool {
		diag := f.Lifecycle.Diagnostic(ctx).(map[string]any)
		return diag["activeQueries"] == 0
	}, time.Second, time.Millisecond)
}

func TestReleaseWithPositiveTTLKeepsQueryAliveUntilExpiry(t *testing.T) {
	ctx := context.Background()
	f := enginetest.New(ctx, userSchema(), lifecycle.Config{})
	defer f.Close(time.Second)

	v, err := f.Lifecycle.Materialize(ctx, f.Query("user"), 20*time.Millisecond)
	require.NoError(t, err)
	v.Destroy()

	diag := f.Lifecycle.Diagnostic(ctx).(map[string]any)
	require.Equal(t, 1, diag["activeQueries"])

	require.Eventually(t, func() bool {
		diag := f.Lifecycle.Diagnostic(ctx).(map[string]any)
		return diag["activeQueries"] == 0
	}, time.Second, time.Millisecond)
}

func TestReacquireBeforeTTLExpiryCancelsRetirement(t *testing.T) {
	ctx := context.Background()
	f := enginetest.New(ctx, userSchema(), lifecycle.Config{})
	defer f.Close(time.Second)

	v, err := f.Lifecycle.Materialize(ctx, f.Query("user"), 20*time.Millisecond)
	require.NoError(t, err)
	v.Destroy()

	// Re-materialize immediately, before the TTL timer fires.
	v2, err := f.Lifecycle.Materialize(ctx, f.Query("user"), lifecycle.Forever)
	require.NoError(t, err)
	require.Same(t, v, v2)

	time.Sleep(40 * time.Millisecond)
	diag := f.Lifecycle.Diagnostic(ctx).(map[string]any)
	require.Equal(t, 1, diag["activeQueries"], "reacquiring before expiry must cancel the pending retirement")
}

func TestDefaultQueryCompleteSynthesizesCompleteResultType(t *testing.T) {
	ctx := context.Background()
	f := enginetest.New(ctx, userSchema(), lifecycle.Config{DefaultQueryComplete: true})
	defer f.Close(time.Second)

	v, err := f.Lifecycle.Materialize(ctx, f.Query("user"), lifecycle.Forever)
	require.NoError(t, err)
	require.Equal(t, view.ResultComplete, v.ResultType())
}

func TestResultTypeStartsUnknownWithoutDefaultComplete(t *testing.T) {
	ctx := context.Background()
	f := enginetest.New(ctx, userSchema(), lifecycle.Config{})
	defer f.Close(time.Second)

	v, err := f.Lifecycle.Materialize(ctx, f.Query("user"), lifecycle.Forever)
	require.NoError(t, err)
	require.Equal(t, view.ResultUnknown, v.ResultType())
}

func TestTTLGrammar(t *testing.T) {
	cases := []struct {
		in       any
		expected time.Duration
	}{
		{"forever", lifecycle.Forever},
		{"none", 0},
		{"5s", 5 * time.Second},
		{"2m", 2 * time.Minute},
		{"1h", time.Hour},
		{"-1s", lifecycle.Forever},
		{-5, lifecycle.Forever},
	}
	for _, c := range cases {
		got, err := lifecycle.ParseTTL(c.in)
		require.NoError(t, err)
		require.Equal(t, c.expected, got)
	}
}

func TestTTLGrammarRejectsMalformedInput(t *testing.T) {
	_, err := lifecycle.ParseTTL("notaduration")
	require.Error(t, err)
	_, ok := types.IsBuilderError(err)
	require.True(t, ok)
}
