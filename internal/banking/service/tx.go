package service

import (
	"context"
	"sync"
	"time"

	id "homebank/pkg/domain"
	dErrors "homebank/pkg/domain-errors"
)

// shardedClientTx provides fine-grained locking using sharded mutexes.
// Instead of a single global lock, operations are distributed across N shards
// based on a hash of the client ID, so unrelated clients rarely contend.
const numClientShards = 128

// defaultClientTxTimeout is the maximum duration for a client transaction
// when the caller context carries no deadline.
const defaultClientTxTimeout = 5 * time.Second

type shardedClientTx struct {
	shards  [numClientShards]sync.Mutex
	store   Store
	timeout time.Duration
}

// NewShardedTx serializes per-client work in process. It is the StoreTx for
// the in-memory store; a database store supplies its own.
func NewShardedTx(store Store) StoreTx {
	return &shardedClientTx{store: store, timeout: defaultClientTxTimeout}
}

func (t *shardedClientTx) RunInClientTx(ctx context.Context, clientID id.ClientID, fn func(ctx context.Context, store Store) error) error {
	// Check if context is already cancelled
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := &t.shards[hashClientID(clientID)%numClientShards]
	shard.Lock()
	defer shard.Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx, t.store)
}

// hashClientID uses FNV-1a over the UUID bytes.
func hashClientID(clientID id.ClientID) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range clientID {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}
