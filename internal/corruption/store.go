package corruption

import (
	"hash/fnv"
	"sync"

	"github.com/slapchain/oracled/internal/model"
)

const storeShards = 16

// Store is the in-memory player state map, sharded to allow independent
// players to progress concurrently. Updates for the same player are strictly
// serialized through the shard lock held across the read-modify-write.
type Store struct {
	shards [storeShards]storeShard
}

type storeShard struct {
	mu     sync.RWMutex
	states map[string]model.PlayerCorruptionState
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].states = make(map[string]model.PlayerCorruptionState)
	}
	return s
}

func (s *Store) shard(playerID string) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(playerID))
	return &s.shards[h.Sum32()%storeShards]
}

// Get returns the player's current state, or the fresh zero-corruption state
// when the player has not been seen.
func (s *Store) Get(playerID string) model.PlayerCorruptionState {
	sh := s.shard(playerID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if st, ok := sh.states[playerID]; ok {
		return st
	}
	return model.NewPlayerState(playerID)
}

// Update applies fn to the player's state under the shard lock and returns
// the before/after pair. fn must be pure and fast; in particular it must not
// call out to the notification generator.
func (s *Store) Update(playerID string, fn func(model.PlayerCorruptionState) model.PlayerCorruptionState) (before, after model.PlayerCorruptionState) {
	sh := s.shard(playerID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	before, ok := sh.states[playerID]
	if !ok {
		before = model.NewPlayerState(playerID)
	}
	after = fn(before)
	after.PlayerID = playerID
	// Tier is derived state; recompute rather than trust what fn stored.
	// A mismatch here is corrected for this player only, never fatal.
	after.PersonalityTier = model.TierForLevel(after.CorruptionLevel)
	sh.states[playerID] = after
	return before, after
}

// Len reports how many players have state.
func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		total += len(s.shards[i].states)
		s.shards[i].mu.RUnlock()
	}
	return total
}
