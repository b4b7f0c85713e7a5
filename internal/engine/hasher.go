package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/google/uuid"
)

const genesisHashSeed = "StableVault:genesis:v1"

// StateHasher chains a SHA-256 hash over every applied operation. Each hash
// commits to the previous hash, the operation sequence, and a digest of the
// positions the operation touched, so two replicas that processed the same
// operations in the same order hold the same hash.
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(genesisHashSeed))}
}

// ComputeHash advances the chain and returns the new state hash.
func (h *StateHasher) ComputeHash(sequence int64, digest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(digest)

	var out [32]byte
	hasher.Sum(out[:0])
	h.prevHash = out
	return out
}

func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash resets the chain head, used when resuming from a snapshot.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// positionDigest serializes the current state of the given accounts in a
// canonical order: accounts sorted by their byte representation, then per
// account the debt followed by the nonzero collateral balances in ascending
// asset order.
func (e *Engine) positionDigest(accounts ...uuid.UUID) []byte {
	sorted := make([]uuid.UUID, len(accounts))
	copy(sorted, accounts)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	digest := make([]byte, 0, len(sorted)*112)
	for i, account := range sorted {
		if i > 0 && account == sorted[i-1] {
			continue
		}
		digest = append(digest, account[:]...)

		debt := e.book.Debt(account).Bytes32()
		digest = append(digest, debt[:]...)

		for _, asset := range e.book.CollateralAssets(account) {
			digest = append(digest, byte(asset>>8), byte(asset))
			amount := e.book.Collateral(account, asset).Bytes32()
			digest = append(digest, amount[:]...)
		}
	}
	return digest
}
