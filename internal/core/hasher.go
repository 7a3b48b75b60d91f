package core

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"PerpVAMM/internal/ledger"
	"PerpVAMM/internal/store"
)

const GenesisHashSeed = "PerpVAMM:genesis:v1"

// StateHasher chains the state hash of every applied directive to the one
// before it.
type StateHasher struct {
	prevHash [32]byte
}

// GenesisHash is the prev hash of the first output.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// Reset moves the chain tip, used when resuming from a persisted output.
func (h *StateHasher) Reset(tip [32]byte) {
	h.prevHash = tip
}

// computeStateDigest encodes the committed writes and journals of one
// directive in a canonical order: writes by key, journals in emission order.
func computeStateDigest(writes []store.Write, journals []ledger.Journal) []byte {
	sorted := make([]store.Write, len(writes))
	copy(sorted, writes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	digest := make([]byte, 0, 256)
	for _, w := range sorted {
		digest = appendBytes(digest, []byte(w.Key))
		if w.Delete {
			digest = append(digest, 0)
			continue
		}
		digest = append(digest, 1)
		digest = appendBytes(digest, w.Value)
	}
	for _, j := range journals {
		digest = appendBytes(digest, []byte(j.DebitAccount.AccountPath()))
		digest = appendBytes(digest, []byte(j.CreditAccount.AccountPath()))
		digest = appendBytes(digest, []byte(j.Amount.String()))
		digest = appendBytes(digest, []byte(j.JournalType.String()))
	}
	return digest
}

// appendBytes writes b prefixed with its length (4 bytes LE).
func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}
