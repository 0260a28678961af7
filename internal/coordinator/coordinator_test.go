package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stately-io/stately/internal/ir"
	"github.com/stately-io/stately/internal/lock"
	"github.com/stately-io/stately/internal/store"
	"github.com/stately-io/stately/provisioners/noop"
)

func rec(name string, deps ...string) *ir.ResourceRecord {
	return &ir.ResourceRecord{
		Type:       "test.Resource",
		Name:       name,
		Attributes: map[string]any{"value": name},
		DependsOn:  deps,
	}
}

func graphOf(records ...*ir.ResourceRecord) *ir.Graph {
	return &ir.Graph{Resources: records}
}

// scriptedProv records every invocation and fails on demand.
type scriptedProv struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	hook  func(op *ir.Operation)
}

func (p *scriptedProv) Apply(ctx context.Context, op *ir.Operation) (*ir.ResourceRecord, error) {
	p.mu.Lock()
	p.calls = append(p.calls, fmt.Sprintf("%s %s", op.Action, op.Address))
	p.mu.Unlock()

	if p.hook != nil {
		p.hook(op)
	}
	if err := p.fail[op.Address]; err != nil {
		return nil, err
	}

	switch op.Action {
	case ir.ActionCreate, ir.ActionUpdate:
		resolved := op.Record.Clone()
		resolved.Outputs = map[string]any{"id": "test-" + op.Record.Name}
		return resolved, nil
	case ir.ActionDelete:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected action %q", op.Action)
	}
}

func (p *scriptedProv) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func newTestCoordinator() (*Coordinator, store.Store, lock.Manager) {
	st := store.NewMem(store.RetentionPolicy{})
	locks := lock.NewMem()
	return New(st, locks, "tester", time.Minute), st, locks
}

func TestApply_Create(t *testing.T) {
	coord, st, _ := newTestCoordinator()
	ctx := context.Background()

	graph := graphOf(rec("r1"), rec("r2", "test.Resource.r1"))
	graph.Outputs = map[string]any{"endpoint": "https://example.test"}

	result, err := coord.Apply(ctx, "envs/prod", graph, &scriptedProv{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Version)
	assert.Equal(t, int64(1), result.Serial)
	assert.Equal(t, 2, result.Summary.Create)
	assert.Equal(t, "https://example.test", result.Outputs["endpoint"])

	doc, version, err := st.Read(ctx, "envs/prod")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.NotEmpty(t, doc.Lineage)
	require.Len(t, doc.Resources, 2)
	assert.Equal(t, "test-r1", doc.Resources[0].Outputs["id"])
}

func TestApply_DependencyOrdering(t *testing.T) {
	coord, _, _ := newTestCoordinator()
	ctx := context.Background()
	prov := &scriptedProv{}

	// r3 -> r2 -> r1: creation must run leaves first.
	graph := graphOf(
		rec("r3", "test.Resource.r2"),
		rec("r2", "test.Resource.r1"),
		rec("r1"),
	)
	_, err := coord.Apply(ctx, "envs/prod", graph, prov)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CREATE test.Resource.r1",
		"CREATE test.Resource.r2",
		"CREATE test.Resource.r3",
	}, prov.callLog())

	// Destroying everything runs in reverse order.
	destroy := &scriptedProv{}
	_, err = coord.Apply(ctx, "envs/prod", graphOf(), destroy)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"DELETE test.Resource.r3",
		"DELETE test.Resource.r2",
		"DELETE test.Resource.r1",
	}, destroy.callLog())
}

func TestApply_Idempotent(t *testing.T) {
	coord, _, _ := newTestCoordinator()
	ctx := context.Background()
	graph := graphOf(rec("r1"))

	first, err := coord.Apply(ctx, "envs/prod", graph, &scriptedProv{})
	require.NoError(t, err)

	// Same graph again: no provisioner calls, no new version.
	prov := &scriptedProv{}
	second, err := coord.Apply(ctx, "envs/prod", graph, prov)
	require.NoError(t, err)
	assert.Empty(t, prov.callLog())
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Serial, second.Serial)
}

func TestApply_Update(t *testing.T) {
	coord, st, _ := newTestCoordinator()
	ctx := context.Background()

	_, err := coord.Apply(ctx, "envs/prod", graphOf(rec("r1")), &scriptedProv{})
	require.NoError(t, err)

	changed := rec("r1")
	changed.Attributes["value"] = "changed"
	prov := &scriptedProv{}
	result, err := coord.Apply(ctx, "envs/prod", graphOf(changed), prov)
	require.NoError(t, err)
	assert.Equal(t, []string{"UPDATE test.Resource.r1"}, prov.callLog())
	assert.Equal(t, int64(2), result.Version)
	assert.Equal(t, 1, result.Summary.Update)

	doc, _, err := st.Read(ctx, "envs/prod")
	require.NoError(t, err)
	require.Len(t, doc.Resources, 1)
	assert.Equal(t, "changed", doc.Resources[0].Attributes["value"])
}

func TestApply_Delete(t *testing.T) {
	coord, st, _ := newTestCoordinator()
	ctx := context.Background()

	_, err := coord.Apply(ctx, "envs/prod", graphOf(rec("r1"), rec("r2")), &scriptedProv{})
	require.NoError(t, err)

	result, err := coord.Apply(ctx, "envs/prod", graphOf(rec("r1")), &scriptedProv{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.Delete)

	doc, _, err := st.Read(ctx, "envs/prod")
	require.NoError(t, err)
	require.Len(t, doc.Resources, 1)
	assert.Equal(t, "test.Resource.r1", doc.Resources[0].Address())
}

func TestApply_PartialFailurePersistsSuccesses(t *testing.T) {
	coord, st, locks := newTestCoordinator()
	ctx := context.Background()

	boom := errors.New("provisioner exploded")
	prov := &scriptedProv{fail: map[string]error{"test.Resource.r2": boom}}

	graph := graphOf(
		rec("r1"),
		rec("r2", "test.Resource.r1"),
		rec("r3", "test.Resource.r2"),
	)
	_, err := coord.Apply(ctx, "envs/prod", graph, prov)
	require.Error(t, err)

	var partial *PartialApplyError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "test.Resource.r2", partial.Address)
	assert.Equal(t, 1, partial.Index)
	assert.ErrorIs(t, err, ErrPartialApply)
	assert.ErrorIs(t, err, boom)

	// r3 never ran.
	assert.Equal(t, []string{"CREATE test.Resource.r1", "CREATE test.Resource.r2"}, prov.callLog())

	// The written document records only the completed operation.
	doc, version, err := st.Read(ctx, "envs/prod")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	require.Len(t, doc.Resources, 1)
	assert.Equal(t, "test.Resource.r1", doc.Resources[0].Address())

	// The lock is not leaked.
	entry, err := locks.Inspect(ctx, "envs/prod")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestApply_FirstOperationFailureWritesNothing(t *testing.T) {
	coord, st, _ := newTestCoordinator()
	ctx := context.Background()

	prov := &scriptedProv{fail: map[string]error{"test.Resource.r1": errors.New("boom")}}
	_, err := coord.Apply(ctx, "envs/prod", graphOf(rec("r1"), rec("r2", "test.Resource.r1")), prov)
	require.ErrorIs(t, err, ErrPartialApply)

	// Zero successes means zero writes.
	_, _, err = st.Read(ctx, "envs/prod")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApply_LockContentionFailsFast(t *testing.T) {
	coord, _, locks := newTestCoordinator()
	ctx := context.Background()

	_, err := locks.Acquire(ctx, "envs/prod", "someone-else", time.Minute)
	require.NoError(t, err)

	prov := &scriptedProv{}
	_, err = coord.Apply(ctx, "envs/prod", graphOf(rec("r1")), prov)
	assert.ErrorIs(t, err, lock.ErrLocked)
	assert.Empty(t, prov.callLog())
}

func TestApply_ReleasesLockOnSuccess(t *testing.T) {
	coord, _, locks := newTestCoordinator()
	ctx := context.Background()

	_, err := coord.Apply(ctx, "envs/prod", graphOf(rec("r1")), &scriptedProv{})
	require.NoError(t, err)

	entry, err := locks.Inspect(ctx, "envs/prod")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestApply_OutOfBandWriteIsFatal(t *testing.T) {
	coord, st, _ := newTestCoordinator()
	ctx := context.Background()

	// A writer bypassing the lock manager moves the version mid-apply; the
	// compare-and-set write must refuse to clobber it.
	prov := &scriptedProv{
		hook: func(op *ir.Operation) {
			_, err := st.Write(ctx, "envs/prod", ir.NewStateDocument(), 0)
			require.NoError(t, err)
		},
	}
	_, err := coord.Apply(ctx, "envs/prod", graphOf(rec("r1")), prov)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestApply_StaleHolderIsFenced(t *testing.T) {
	st := store.NewMem(store.RetentionPolicy{})
	locks := lock.NewMem()
	coord := New(st, locks, "sleepy", 20*time.Millisecond)
	ctx := context.Background()

	// The provisioner outlives the TTL and another holder takes over before
	// the write. The renewal before the write must reject the stale token.
	prov := &scriptedProv{
		hook: func(op *ir.Operation) {
			time.Sleep(50 * time.Millisecond)
			_, err := locks.Acquire(ctx, "envs/prod", "usurper", time.Minute)
			require.NoError(t, err)
		},
	}
	_, err := coord.Apply(ctx, "envs/prod", graphOf(rec("r1")), prov)
	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrExpired)

	// Nothing was written by the fenced holder.
	_, _, err = st.Read(ctx, "envs/prod")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApply_CycleDetected(t *testing.T) {
	coord, _, locks := newTestCoordinator()
	ctx := context.Background()

	graph := graphOf(
		rec("r1", "test.Resource.r2"),
		rec("r2", "test.Resource.r1"),
	)
	_, err := coord.Apply(ctx, "envs/prod", graph, &scriptedProv{})
	assert.ErrorIs(t, err, ErrCycleDetected)

	entry, err := locks.Inspect(ctx, "envs/prod")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestApply_CancelledContextStopsBetweenOperations(t *testing.T) {
	coord, _, _ := newTestCoordinator()
	ctx, cancel := context.WithCancel(context.Background())

	prov := &scriptedProv{hook: func(op *ir.Operation) { cancel() }}
	_, err := coord.Apply(ctx, "envs/prod", graphOf(rec("r1"), rec("r2", "test.Resource.r1")), prov)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The second operation never started.
	assert.Equal(t, []string{"CREATE test.Resource.r1"}, prov.callLog())
}

func TestApply_ConcurrentWritersSerialize(t *testing.T) {
	st := store.NewMem(store.RetentionPolicy{})
	locks := lock.NewMem()
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			coord := New(st, locks, fmt.Sprintf("writer-%d", i), time.Minute)
			changed := rec("shared")
			changed.Attributes["value"] = fmt.Sprintf("round-%d", i)

			policy := &RetryPolicy{MaxRetries: 50, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
			errs[i] = RetryWithBackoff(ctx, policy, func() error {
				_, err := coord.Apply(ctx, "envs/prod", graphOf(changed), noop.New())
				return err
			}, IsRetryable)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	// Every apply changed the document, so the version counted every writer.
	doc, version, err := st.Read(ctx, "envs/prod")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), version)
	assert.Equal(t, int64(writers), doc.Serial)
	require.Len(t, doc.Resources, 1)
}

func TestPlan_DoesNotLock(t *testing.T) {
	coord, _, locks := newTestCoordinator()
	ctx := context.Background()

	_, err := locks.Acquire(ctx, "envs/prod", "someone-else", time.Minute)
	require.NoError(t, err)

	plan, err := coord.Plan(ctx, "envs/prod", graphOf(rec("r1")))
	require.NoError(t, err)
	assert.True(t, plan.Changes())
	assert.Equal(t, 1, plan.Summary.Create)
}

func TestPlan_EmptyStateEmptyGraph(t *testing.T) {
	coord, _, _ := newTestCoordinator()

	plan, err := coord.Plan(context.Background(), "envs/prod", graphOf())
	require.NoError(t, err)
	assert.False(t, plan.Changes())
}

func TestHolder_GeneratedWhenEmpty(t *testing.T) {
	c := New(store.NewMem(store.RetentionPolicy{}), lock.NewMem(), "", 0)
	assert.NotEmpty(t, c.Holder())
	assert.Contains(t, c.Holder(), "stately-")
}
