// Package ledger holds the wire-level data model shared by miners,
// bridges, and users: UTXOs, transactions, blocks, and the witness
// request/response/update messages that flow over the broadcast buses.
package ledger

import (
	"crypto/sha256"
	"math/big"

	uuid "github.com/satori/go.uuid"

	"github.com/cambrianlabs/accsim/internal/group"
	"github.com/cambrianlabs/accsim/internal/primehash"
)

// Utxo is an opaque unspent-output identity plus its owning user. It never
// carries a value or script: transaction value semantics are a spec
// Non-goal.
type Utxo struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

// Prime derives this UTXO's accumulator element via the hash-to-prime
// collaborator (spec §6's "Element encoding").
func (u Utxo) Prime() *big.Int {
	return primehash.FromBytes(u.ID.Bytes(), u.UserID.Bytes())
}

// UtxoWitness pairs a UTXO with a membership witness for it.
type UtxoWitness struct {
	Utxo    Utxo
	Witness group.Witness
}

// Transaction is a user's request to destroy the UTXOs it spends and create
// new ones in their place. It is immutable once submitted.
type Transaction struct {
	UtxosCreated            []Utxo
	UtxosSpentWithWitnesses []UtxoWitness
}

// Digest returns a stable fingerprint used to deduplicate pending
// transactions without an O(n) equality scan, per spec §4.1 and §9 ("a
// keyed set on a stable transaction digest is the correct structure").
func (t Transaction) Digest() [32]byte {
	h := sha256.New()
	for _, u := range t.UtxosCreated {
		h.Write(u.ID.Bytes())
		h.Write(u.UserID.Bytes())
	}
	for _, sw := range t.UtxosSpentWithWitnesses {
		h.Write(sw.Utxo.ID.Bytes())
		h.Write(sw.Utxo.UserID.Bytes())
		h.Write(sw.Witness.Value().Bytes())
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Block is a leader-forged batch of transactions plus the accumulator
// transition and succinct proofs that justify it.
type Block struct {
	Height       uint64
	Transactions []Transaction
	AccNew       group.Accumulator
	ProofAdded   group.MembershipProof
	ProofDeleted group.MembershipProof
}

// WitnessRequest asks a bridge for fresh membership witnesses over a batch
// of UTXOs. RequestID correlates the eventual WitnessResponse.
type WitnessRequest struct {
	UserID    uuid.UUID
	RequestID uuid.UUID
	Utxos     []Utxo
}

// WitnessResponse answers a WitnessRequest. It intentionally carries no
// UserID: responses are multiplexed over a shared broadcast bus (spec §9),
// so RequestID is the only correlation mechanism a receiver can use.
type WitnessResponse struct {
	RequestID          uuid.UUID
	UtxosWithWitnesses []UtxoWitness
}

// UserUpdate is the per-block delta a bridge pushes to one user: the UTXOs
// it gained and lost. It carries no user id because it travels on a
// point-to-point channel dedicated to that user.
type UserUpdate struct {
	UtxosAdded   []Utxo
	UtxosDeleted []Utxo
}

// Empty reports whether this update touches nothing, the case a user's
// reconciliation loop must skip over (spec §4.3).
func (u UserUpdate) Empty() bool {
	return len(u.UtxosAdded) == 0 && len(u.UtxosDeleted) == 0
}

// DeletedElem is the element-level counterpart of UtxoWitness, used when
// feeding deletions into the accumulator group.
type DeletedElem = group.DeletedElem

// ElemsFromTransactions flattens a list of transactions into the elements
// added and the elements-with-witnesses deleted, preserving per-transaction
// order then per-transaction UTXO order. Every consumer of a batch of
// transactions (a forging miner, a validating miner, an updating bridge)
// calls this so their derived exponent products agree bit-for-bit, per
// spec §4.4.
func ElemsFromTransactions(txs []Transaction) (added []*big.Int, deleted []DeletedElem) {
	for _, tx := range txs {
		for _, u := range tx.UtxosCreated {
			added = append(added, u.Prime())
		}
		for _, sw := range tx.UtxosSpentWithWitnesses {
			deleted = append(deleted, DeletedElem{Elem: sw.Utxo.Prime(), Witness: sw.Witness})
		}
	}
	return added, deleted
}

// ElemsOnly strips the witnesses from a slice of DeletedElem, returning just
// the prime elements in the same order.
func ElemsOnly(deleted []DeletedElem) []*big.Int {
	out := make([]*big.Int, len(deleted))
	for i, d := range deleted {
		out[i] = d.Elem
	}
	return out
}
