package sim

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
)

// SeedFor derives the per-action RNG seed from the session seed, the tick and
// the authoritative action index. Arrival order plays no part, so every
// replica draws the same sequence, including a promoted standby replaying
// the log.
func SeedFor(sessionSeed int64, tick uint64, actionIndex int) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(sessionSeed))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], tick)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(actionIndex))
	h.Write(buf[:])
	return int64(h.Sum64())
}

func newRand(sessionSeed int64, tick uint64, actionIndex int) *rand.Rand {
	return rand.New(rand.NewSource(SeedFor(sessionSeed, tick, actionIndex)))
}

// systemActionIndex offsets system RNG streams away from action streams so a
// system and an action on the same tick never share a seed.
const systemActionIndex = -1000
