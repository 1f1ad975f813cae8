// Package registry implements the distributed user-connection binding
// table: a forward map (user -> connection handle), its inverse (handle
// -> user), and a per-user offline notification queue, all backed by a
// shared key-value store so every server process observes the same
// bindings.
//
// Invariants held across every operation in this package:
//
//	R1 forward and inverse entries are always written/removed together
//	R2 at most one live binding exists per user; binding a second handle
//	   evicts the first before the new one is published
//	Q1 a notification is enqueued offline only if the user has no local
//	   or remote live binding at enqueue time
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotBound is returned by lookups that find no live binding.
var ErrNotBound = errors.New("registry: no live binding")

// ErrFault wraps a connection-level failure talking to the backing store.
var ErrFault = errors.New("registry: backing store fault")

const (
	maxTxAttempts  = 3
	txRetryBackoff = 200 * time.Millisecond
)

// Binding identifies the server process and connection handle currently
// serving a user.
type Binding struct {
	ServerID string
	Handle   uint64
}

// EvictFunc is invoked with the handle being displaced whenever Bind
// evicts a pre-existing binding for the same user (R2). The caller
// supplies this to actually close the local socket, if it owns it.
type EvictFunc func(ctx context.Context, evicted Binding)

// Registry is the distributed user<->connection binding table.
type Registry struct {
	rdb      redis.UniversalClient
	serverID string
}

// New builds a Registry bound to this process's serverID, used to
// qualify every handle this process publishes.
func New(rdb redis.UniversalClient, serverID string) *Registry {
	return &Registry{rdb: rdb, serverID: serverID}
}

// Bind publishes a new live binding for userID, evicting any existing
// binding first (R2). The prior binding's removal and the new binding's
// publication happen in one MULTI/EXEC transaction; evict is then called
// with the prior binding, if any, so the caller can close the stale
// socket.
func (r *Registry) Bind(ctx context.Context, userID string, handle uint64, evict EvictFunc) error {
	fKey := userFDKey(userID)

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		txErr := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			prevRaw, err := tx.Get(ctx, fKey).Result()
			if err != nil && err != redis.Nil {
				return err
			}

			var prevBinding Binding
			hasPrev := false
			if err == nil {
				if sid, h, ok := decodeBinding(prevRaw); ok {
					prevBinding = Binding{ServerID: sid, Handle: h}
					hasPrev = true
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if hasPrev {
					pipe.Del(ctx, fdUserMapKey(prevBinding.ServerID, prevBinding.Handle))
				}
				pipe.Set(ctx, fKey, encodeBinding(r.serverID, handle), 0)
				pipe.Set(ctx, fdUserMapKey(r.serverID, handle), userID, 0)
				pipe.SAdd(ctx, keyActiveUsers, userID)
				return nil
			})
			if err != nil {
				return err
			}

			if hasPrev && evict != nil {
				evict(ctx, prevBinding)
			}
			return nil
		}, fKey)

		if txErr == nil {
			return nil
		}
		if errors.Is(txErr, redis.TxFailedErr) {
			continue // optimistic lock lost the race, retry
		}
		if attempt == maxTxAttempts-1 {
			return fmt.Errorf("%w: bind %s: %v", ErrFault, userID, txErr)
		}
		time.Sleep(txRetryBackoff)
	}

	return fmt.Errorf("%w: bind %s: exhausted retries", ErrFault, userID)
}

// LookupByUser returns the live binding for userID, or ErrNotBound.
func (r *Registry) LookupByUser(ctx context.Context, userID string) (Binding, error) {
	raw, err := r.rdb.Get(ctx, userFDKey(userID)).Result()
	if err == redis.Nil {
		return Binding{}, ErrNotBound
	}
	if err != nil {
		return Binding{}, fmt.Errorf("%w: lookup %s: %v", ErrFault, userID, err)
	}
	sid, h, ok := decodeBinding(raw)
	if !ok {
		return Binding{}, ErrNotBound
	}
	return Binding{ServerID: sid, Handle: h}, nil
}

// LookupByHandle returns the userID bound to (serverID, handle), or
// ErrNotBound.
func (r *Registry) LookupByHandle(ctx context.Context, serverID string, handle uint64) (string, error) {
	userID, err := r.rdb.Get(ctx, fdUserMapKey(serverID, handle)).Result()
	if err == redis.Nil {
		return "", ErrNotBound
	}
	if err != nil {
		return "", fmt.Errorf("%w: lookup handle %d: %v", ErrFault, handle, err)
	}
	return userID, nil
}

// Unbind removes userID's binding, but only if it still points at
// (serverID, handle) — a compare-and-delete that prevents a stale close
// from unbinding a handle that has since been superseded.
func (r *Registry) Unbind(ctx context.Context, userID string, handle uint64) error {
	return r.UnbindByHandle(ctx, r.serverID, userID, handle)
}

// UnbindByHandle is Unbind generalized to an arbitrary serverID; Unbind
// calls it with this process's own serverID.
func (r *Registry) UnbindByHandle(ctx context.Context, serverID, userID string, handle uint64) error {
	fKey := userFDKey(userID)
	want := encodeBinding(serverID, handle)

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		txErr := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, fKey).Result()
			if err == redis.Nil {
				return nil // already gone
			}
			if err != nil {
				return err
			}
			if cur != want {
				return nil // superseded by a newer bind, leave it alone
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, fKey)
				pipe.Del(ctx, fdUserMapKey(serverID, handle))
				pipe.SRem(ctx, keyActiveUsers, userID)
				return nil
			})
			return err
		}, fKey)

		if txErr == nil {
			return nil
		}
		if errors.Is(txErr, redis.TxFailedErr) {
			continue
		}
		if attempt == maxTxAttempts-1 {
			return fmt.Errorf("%w: unbind %s: %v", ErrFault, userID, txErr)
		}
		time.Sleep(txRetryBackoff)
	}

	return fmt.Errorf("%w: unbind %s: exhausted retries", ErrFault, userID)
}

// IsLive reports whether userID currently has any live binding, local or
// remote. EnqueueOffline does not call it: it re-reads the forward key
// inside its own WATCH transaction to hold Q1.
func (r *Registry) IsLive(ctx context.Context, userID string) (bool, error) {
	_, err := r.LookupByUser(ctx, userID)
	if errors.Is(err, ErrNotBound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnqueueOffline appends payload to userID's offline queue, refreshing
// its 7-day TTL, but only if the user has no live binding (Q1). Returns
// (false, nil) without enqueuing if the user turned out to be live.
func (r *Registry) EnqueueOffline(ctx context.Context, userID string, payload []byte) (bool, error) {
	qKey := queueKey(userID)

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		enqueued := false
		txErr := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			_, err := tx.Get(ctx, userFDKey(userID)).Result()
			switch err {
			case nil:
				return nil // live binding exists, do not enqueue
			case redis.Nil:
				// fall through, no live binding
			default:
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.RPush(ctx, qKey, payload)
				pipe.Expire(ctx, qKey, queueTTLSeconds*time.Second)
				return nil
			})
			if err != nil {
				return err
			}
			enqueued = true
			return nil
		}, userFDKey(userID))

		if txErr == nil {
			return enqueued, nil
		}
		if errors.Is(txErr, redis.TxFailedErr) {
			continue
		}
		if attempt == maxTxAttempts-1 {
			return false, fmt.Errorf("%w: enqueue %s: %v", ErrFault, userID, txErr)
		}
		time.Sleep(txRetryBackoff)
	}

	return false, fmt.Errorf("%w: enqueue %s: exhausted retries", ErrFault, userID)
}

// DrainOffline atomically reads and clears userID's offline queue.
func (r *Registry) DrainOffline(ctx context.Context, userID string) ([][]byte, error) {
	qKey := queueKey(userID)

	cmds, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRange(ctx, qKey, 0, -1)
		pipe.Del(ctx, qKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: drain %s: %v", ErrFault, userID, err)
	}

	items, err := cmds[0].(*redis.StringSliceCmd).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: drain %s: %v", ErrFault, userID, err)
	}

	out := make([][]byte, len(items))
	for i, s := range items {
		out[i] = []byte(s)
	}
	return out, nil
}

// OfflineLen reports the current length of userID's offline queue
// without draining it.
func (r *Registry) OfflineLen(ctx context.Context, userID string) (int64, error) {
	n, err := r.rdb.LLen(ctx, queueKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: offline len %s: %v", ErrFault, userID, err)
	}
	return n, nil
}

// ActiveUsers returns every userID with a currently live binding
// anywhere in the cluster, used by process_queued_notifications to
// enumerate work without a full key scan.
func (r *Registry) ActiveUsers(ctx context.Context) ([]string, error) {
	users, err := r.rdb.SMembers(ctx, keyActiveUsers).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: active users: %v", ErrFault, err)
	}
	return users, nil
}
