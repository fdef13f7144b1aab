package remotestore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ccachego/ccache/internal/ccstats"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Policy bundles the per-invocation flags from spec.md §4.7 "Policies".
type Policy struct {
	RemoteOnly bool // never read from or write to local storage
	Reshare    bool // on local hit, push to each non-read-only remote with overwrite=false
}

// shardBackend pairs a resolved Backend with its owning Shard and entry,
// and tracks whether it has already failed this invocation.
type shardBackend struct {
	entry   Entry
	shard   Shard
	backend Backend
	failed  bool
}

// Orchestrator is one invocation's view of the configured remote
// storage: construction is eager (spec.md "construction-time failures
// are treated the same" as runtime ones), failure isolation is
// per-(shard,backend) and never re-contacts a failed one.
type Orchestrator struct {
	entries  []Entry
	backends []*shardBackend
	stats    *ccstats.Set
	log      *logrus.Entry
	policy   Policy
}

// New builds an Orchestrator from a parsed config, constructing a
// Backend for every expanded shard via factory.
func New(entries []Entry, factory BackendFactory, stats *ccstats.Set, log *logrus.Entry, policy Policy) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	o := &Orchestrator{entries: entries, stats: stats, log: log, policy: policy}
	for _, e := range entries {
		for _, sh := range e.Shards {
			sb := &shardBackend{entry: e, shard: sh}
			backend, err := factory(sh.URL)
			if err != nil {
				log.WithError(err).WithField("shard", sh.Name).Warn("remote backend construction failed")
				sb.failed = true
				stats.Inc(ccstats.RemoteStorageError)
			} else {
				sb.backend = backend
			}
			o.backends = append(o.backends, sb)
		}
	}
	return o
}

// RemoteOnly reports whether the engine should skip local storage
// entirely for this invocation (spec.md §4.7 "remote_only").
func (o *Orchestrator) RemoteOnly() bool { return o.policy.RemoteOnly }

// Stop shuts down every live backend (best-effort).
func (o *Orchestrator) Stop() {
	for _, sb := range o.backends {
		if sb.backend != nil {
			sb.backend.Stop()
		}
	}
}

// pick returns the single shardBackend selected by rendezvous hashing
// among the live (non-failed) shards of one entry, or nil if all failed.
func (o *Orchestrator) pick(entry Entry, key string) *shardBackend {
	var live []Shard
	liveByName := map[string]*shardBackend{}
	for _, sb := range o.backends {
		if sb.entry.RawURL != entry.RawURL || sb.failed {
			continue
		}
		live = append(live, sb.shard)
		liveByName[sb.shard.Name] = sb
	}
	if len(live) == 0 {
		return nil
	}
	chosen := SelectShard([]byte(key), live)
	return liveByName[chosen.Name]
}

// Get tries each configured entry in order, skipping entries with no live
// shard, and returns the first hit.
func (o *Orchestrator) Get(ctx context.Context, key string) ([]byte, bool, error) {
	for _, e := range o.entries {
		sb := o.pick(e, key)
		if sb == nil {
			continue
		}
		data, ok, err := o.callGet(ctx, sb, key)
		if err != nil {
			continue
		}
		if ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

func (o *Orchestrator) callGet(ctx context.Context, sb *shardBackend, key string) ([]byte, bool, error) {
	var data []byte
	var ok bool
	err := o.withRetry(ctx, sb, func(ctx context.Context) error {
		var innerErr error
		data, ok, innerErr = sb.backend.Get(ctx, key)
		return innerErr
	})
	return data, ok, err
}

// Put pushes value to every entry's selected shard unless the entry is
// read-only (spec.md "read-only (per entry): skip puts and removes").
func (o *Orchestrator) Put(ctx context.Context, key string, value []byte, overwrite bool) {
	for _, e := range o.entries {
		if e.ReadOnly {
			continue
		}
		sb := o.pick(e, key)
		if sb == nil {
			continue
		}
		_ = o.withRetry(ctx, sb, func(ctx context.Context) error {
			_, err := sb.backend.Put(ctx, key, value, overwrite)
			return err
		})
	}
}

// Reshare pushes value with overwrite=false to every non-read-only
// remote after a local hit, per the `reshare` policy.
func (o *Orchestrator) Reshare(ctx context.Context, key string, value []byte) {
	if !o.policy.Reshare {
		return
	}
	o.Put(ctx, key, value, false)
}

// Remove deletes key from every non-read-only entry's selected shard.
func (o *Orchestrator) Remove(ctx context.Context, key string) {
	for _, e := range o.entries {
		if e.ReadOnly {
			continue
		}
		sb := o.pick(e, key)
		if sb == nil {
			continue
		}
		_ = o.withRetry(ctx, sb, func(ctx context.Context) error {
			_, err := sb.backend.Remove(ctx, key)
			return err
		})
	}
}

// withRetry runs a single backend call through cenkalti/backoff with zero
// retries, so the first error or timeout observed marks sb permanently
// failed (spec.md §4.7 "Failure isolation": "the first error or timeout from a
// backend marks that specific shard-backend as failed for the remainder
// of this invocation; subsequent operations to it are skipped").
func (o *Orchestrator) withRetry(ctx context.Context, sb *shardBackend, op func(context.Context) error) error {
	if sb.backend == nil || sb.failed {
		return errors.New("shard-backend already failed this invocation")
	}

	b := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 0)
	err := backoff.Retry(func() error {
		return op(ctx)
	}, backoff.WithContext(b, ctx))

	if err != nil {
		sb.failed = true
		if ctx.Err() == context.DeadlineExceeded {
			o.stats.Inc(ccstats.RemoteStorageTimeout)
		} else {
			o.stats.Inc(ccstats.RemoteStorageError)
		}
		o.log.WithError(err).WithField("shard", sb.shard.Name).Warn("remote storage operation failed, marking shard-backend dead")
		return err
	}
	o.stats.Inc(ccstats.RemoteStorageWrite)
	return nil
}

// DeadlineFromTimeout is a small helper turning a spec-style timeout
// string duration into a context with deadline, used by callers building
// the per-entry data-timeout/request-timeout/idle-timeout options into an
// actual context.Context.
func DeadlineFromTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
