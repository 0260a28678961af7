package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stately-io/stately/internal/ir"
	"github.com/stately-io/stately/internal/lock"
	"github.com/stately-io/stately/internal/logging"
	"github.com/stately-io/stately/internal/provisioner"
	"github.com/stately-io/stately/internal/store"
)

// DefaultLockTTL bounds how long a crashed holder can block a path before
// expiry frees it.
const DefaultLockTTL = 10 * time.Minute

// ErrPartialApply marks an apply whose side effects were partially performed.
// The written state document reflects only the operations that succeeded;
// already-applied changes are not rolled back.
var ErrPartialApply = errors.New("apply partially completed")

// PartialApplyError identifies where an apply stopped. It matches
// ErrPartialApply via errors.Is and the provisioner's failure via Unwrap.
type PartialApplyError struct {
	Address string // operation that failed
	Index   int    // position in the ordered operations
	Err     error
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("apply partially completed: operation %d (%s) failed: %v", e.Index, e.Address, e.Err)
}

func (e *PartialApplyError) Unwrap() error { return e.Err }

func (e *PartialApplyError) Is(target error) bool { return target == ErrPartialApply }

// Result reports a completed apply.
type Result struct {
	Version int64
	Serial  int64
	Outputs map[string]any
	Summary *ir.PlanSummary
}

// Coordinator executes a locked read-diff-apply-write transaction over a state
// path. It owns neither the store nor the lock manager; both are injected and
// borrowed for the duration of one call. The coordinator never retries:
// contention fails fast with lock.ErrLocked and a version conflict is fatal.
type Coordinator struct {
	store  store.Store
	locks  lock.Manager
	holder string
	ttl    time.Duration
}

// New returns a coordinator writing as holder with the given lock TTL. An
// empty holder gets a generated identity; a non-positive TTL falls back to
// DefaultLockTTL.
func New(st store.Store, locks lock.Manager, holder string, ttl time.Duration) *Coordinator {
	if holder == "" {
		holder = fmt.Sprintf("stately-%s", uuid.NewString())
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Coordinator{
		store:  st,
		locks:  locks,
		holder: holder,
		ttl:    ttl,
	}
}

// Holder returns the identity this coordinator locks under.
func (c *Coordinator) Holder() string { return c.holder }

// Plan computes the diff between the stored document and the desired graph
// without locking and without invoking any provisioner.
func (c *Coordinator) Plan(ctx context.Context, path string, graph *ir.Graph) (*ir.Plan, error) {
	current, _, err := c.read(ctx, path)
	if err != nil {
		return nil, err
	}
	return buildPlan(current, graph)
}

// Apply drives path to the desired graph: acquire the lock, read the current
// document, compute the diff, run the provisioner once per ordered operation,
// write the new document against the version read, release the lock. A
// provisioner failure halts the run, persists a document of the successes and
// returns a PartialApplyError; infrastructure changes are never rolled back.
func (c *Coordinator) Apply(ctx context.Context, path string, graph *ir.Graph, prov provisioner.Provisioner) (*Result, error) {
	entry, err := c.locks.Acquire(ctx, path, c.holder, c.ttl)
	if err != nil {
		return nil, err
	}
	logging.Debug("lock acquired", "path", path, "holder", c.holder, "token", entry.FencingToken)

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		// Release must be attempted even when ctx is already cancelled,
		// otherwise the lock leaks until TTL expiry.
		if err := c.locks.Release(context.WithoutCancel(ctx), path, c.holder, entry.FencingToken); err != nil {
			logging.Warn("failed to release lock", "path", path, "error", err)
		}
	}
	defer release()

	current, version, err := c.read(ctx, path)
	if err != nil {
		return nil, err
	}

	plan, err := buildPlan(current, graph)
	if err != nil {
		return nil, err
	}

	if !plan.Changes() {
		logging.Debug("state already matches desired graph", "path", path, "version", version)
		return &Result{
			Version: version,
			Serial:  current.Serial,
			Outputs: current.Outputs,
			Summary: plan.Summary,
		}, nil
	}

	working := &ir.StateDocument{
		Serial:  current.Serial + 1,
		Lineage: current.Lineage,
		Outputs: current.Outputs,
	}
	if working.Lineage == "" {
		working.Lineage = uuid.NewString()
	}
	for _, rec := range current.Resources {
		working.Resources = append(working.Resources, rec.Clone())
	}

	for i, op := range plan.Operations {
		// Checkpoint: a caller-supplied deadline aborts before the next
		// provisioner invocation.
		if err := ctx.Err(); err != nil {
			c.persistPartial(ctx, path, working, version, &entry, i)
			return nil, fmt.Errorf("apply cancelled before %s: %w", op.Address, err)
		}

		logging.Debug("applying operation", "path", path, "address", op.Address, "action", op.Action)
		resolved, err := prov.Apply(ctx, op)
		if err != nil {
			c.persistPartial(ctx, path, working, version, &entry, i)
			return nil, &PartialApplyError{Address: op.Address, Index: i, Err: err}
		}

		if err := applyToDocument(working, op, resolved); err != nil {
			c.persistPartial(ctx, path, working, version, &entry, i)
			return nil, &PartialApplyError{Address: op.Address, Index: i, Err: err}
		}
	}

	working.Outputs = graph.Outputs

	newVersion, err := c.write(ctx, path, working, version, &entry)
	if err != nil {
		return nil, err
	}

	release()
	logging.Info("apply complete", "path", path, "version", newVersion,
		"created", plan.Summary.Create, "updated", plan.Summary.Update, "deleted", plan.Summary.Delete)

	return &Result{
		Version: newVersion,
		Serial:  working.Serial,
		Outputs: working.Outputs,
		Summary: plan.Summary,
	}, nil
}

func (c *Coordinator) read(ctx context.Context, path string) (*ir.StateDocument, int64, error) {
	current, version, err := c.store.Read(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return ir.NewStateDocument(), 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	if err := current.Validate(); err != nil {
		return nil, 0, fmt.Errorf("stored document for %s is invalid: %w", path, err)
	}
	return current, version, nil
}

// write renews the lock and then writes doc against expectedVersion. The
// renewal rejects a holder whose TTL silently expired (a stale fencing token)
// before any bytes move; the version check backstops the race where expiry
// happens between the two calls.
func (c *Coordinator) write(ctx context.Context, path string, doc *ir.StateDocument, expectedVersion int64, entry **ir.LockEntry) (int64, error) {
	renewed, err := c.locks.Renew(ctx, path, c.holder, (*entry).FencingToken, c.ttl)
	if err != nil {
		return 0, fmt.Errorf("lock lost before state write for %s: %w", path, err)
	}
	*entry = renewed

	newVersion, err := c.store.Write(ctx, path, doc, expectedVersion)
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// persistPartial writes the best-effort document after an interrupted apply,
// so the state on record reflects the operations known to have succeeded.
// Nothing succeeded yet when completed == 0, so there is nothing to record.
func (c *Coordinator) persistPartial(ctx context.Context, path string, doc *ir.StateDocument, expectedVersion int64, entry **ir.LockEntry, completed int) {
	if completed == 0 {
		return
	}
	if _, err := c.write(context.WithoutCancel(ctx), path, doc, expectedVersion, entry); err != nil {
		logging.Error("failed to persist partial state", "path", path, "error", err)
		return
	}
	logging.Warn("persisted partial state", "path", path, "operations", completed)
}

// applyToDocument folds one completed operation into the working document.
func applyToDocument(doc *ir.StateDocument, op *ir.Operation, resolved *ir.ResourceRecord) error {
	switch op.Action {
	case ir.ActionCreate, ir.ActionUpdate:
		if resolved == nil {
			return fmt.Errorf("provisioner returned no record for %s", op.Address)
		}
		rec := resolved.Clone()
		rec.DependsOn = append([]string(nil), op.Record.DependsOn...)
		for i, existing := range doc.Resources {
			if existing.Address() == op.Address {
				doc.Resources[i] = rec
				return nil
			}
		}
		doc.Resources = append(doc.Resources, rec)
		return nil

	case ir.ActionDelete:
		for i, existing := range doc.Resources {
			if existing.Address() == op.Address {
				doc.Resources = append(doc.Resources[:i], doc.Resources[i+1:]...)
				return nil
			}
		}
		return nil

	default:
		return fmt.Errorf("unsupported action %q for %s", op.Action, op.Address)
	}
}
