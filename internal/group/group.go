// Package group implements the unknown-order group accumulator that
// spec §6 treats as an external cryptographic collaborator: add, delete,
// membership proof, subset witness, and root-factor. The rest of this
// repository only ever calls these methods; nothing outside this package
// reaches into the group's modulus or its trapdoor.
//
// The construction is a standard RSA-style accumulator: elements are
// primes, the accumulator is g raised to the running product of the
// live elements modulo N = p*q, and membership proofs are non-interactive
// proofs of exponentiation (Wesolowski's construction: a Fiat-Shamir
// challenge prime derived from (base, exponent, result), a single
// big.Int quotient as the proof, and two modular exponentiations to
// verify rather than one per element).
//
// Unlike a production accumulator, this package keeps the group's order
// (via the Carmichael function of N) as a private field so that delete
// and witness-update can invert exponents directly instead of running an
// interactive batching protocol. That is an implementation shortcut for
// the simulation's own bookkeeping, not part of the protocol the rest of
// the repo follows: every external interaction still goes through
// add/delete/verify/subset/root-factor exactly as spec §6 describes them.
package group

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"

	"github.com/cambrianlabs/accsim/internal/primehash"
)

// ErrProtocolViolation marks a failure that spec §7 calls fatal: the
// accumulator is not in a state the protocol allows, and the caller must
// abort rather than recover.
var ErrProtocolViolation = errors.New("accumulator: protocol violation")

// generator is the fixed base g the accumulator is built on.
var generator = big.NewInt(2)

// Group holds the RSA-style modulus and its private trapdoor. Bits
// controls each prime factor's size; config.GroupBits governs it for the
// whole simulation.
type Group struct {
	n      *big.Int
	lambda *big.Int // Carmichael function of n; never exposed outside this package
}

// NewGroup generates a fresh modulus from two random primes of the given
// bit length each. It is reasonably expensive (two primality searches) and
// is meant to be called once at simulation genesis.
func NewGroup(bits int) (*Group, error) {
	p, err := rand.Prime(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, "group: generate p")
	}
	q, err := rand.Prime(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, "group: generate q")
	}
	n := new(big.Int).Mul(p, q)

	pm1 := new(big.Int).Sub(p, big.NewInt(1))
	qm1 := new(big.Int).Sub(q, big.NewInt(1))
	gcd := new(big.Int).GCD(nil, nil, pm1, qm1)
	lambda := new(big.Int).Div(new(big.Int).Mul(pm1, qm1), gcd)

	return &Group{n: n, lambda: lambda}, nil
}

// Empty returns the identity element of the accumulator: g raised to the
// empty product, i.e. g itself.
func (g *Group) Empty() Accumulator {
	return Accumulator{group: g, value: new(big.Int).Mod(generator, g.n)}
}

// Accumulator is an element of an unknown-order group. Its zero value is
// invalid; obtain one via Group.Empty or by applying an operation to an
// existing Accumulator.
type Accumulator struct {
	group *Group
	value *big.Int
}

// Witness is an Accumulator value used as a membership witness: per the
// GLOSSARY, a witness is "the accumulator without element(s) X". It shares
// its representation with Accumulator because both are elements of the same
// group.
type Witness = Accumulator

// MembershipProof is a succinct non-interactive proof of exponentiation.
// Witness is the base the exponentiation started from; Q is the Wesolowski
// quotient. Two proofs from the same block forging step are expected to
// carry an equal Witness field (spec §4.1's "proof_deleted.witness ==
// proof_added.witness" check).
type MembershipProof struct {
	Witness Accumulator
	Q       *big.Int
}

// Value exposes the raw group element, primarily for equality checks,
// hashing into digests, and tests. Callers must not mutate the result.
func (a Accumulator) Value() *big.Int { return a.value }

// Equal reports whether two accumulators represent the same group element.
func (a Accumulator) Equal(b Accumulator) bool {
	if a.value == nil || b.value == nil {
		return a.value == b.value
	}
	return a.value.Cmp(b.value) == 0
}

func product(elems []*big.Int) *big.Int {
	p := big.NewInt(1)
	for _, e := range elems {
		p.Mul(p, e)
	}
	return p
}

func (a Accumulator) exp(e *big.Int) Accumulator {
	v := new(big.Int).Exp(a.value, e, a.group.n)
	return Accumulator{group: a.group, value: v}
}

// Add multiplies the accumulator's exponent by the product of elems,
// matching spec §6's Acc.add(elems) -> Acc'.
func (a Accumulator) Add(elems []*big.Int) Accumulator {
	return a.exp(product(elems))
}

// challengePrime derives the Fiat-Shamir challenge for a Wesolowski proof
// over (base, exponent, result).
func challengePrime(base, exponent, result *big.Int) *big.Int {
	return primehash.FromBytes(base.Bytes(), exponent.Bytes(), result.Bytes())
}

// proveExponentiation builds a Wesolowski proof that base^exponent == result
// (mod n), assuming the caller already knows this holds.
func proveExponentiation(n, base, exponent, result *big.Int) *big.Int {
	l := challengePrime(base, exponent, result)
	q := new(big.Int).Div(exponent, l)
	return new(big.Int).Exp(base, q, n)
}

// verifyExponentiation checks a Wesolowski proof that base^exponent ==
// result (mod n), using only the proof quotient q, one multiplication of
// elems to recover exponent, and two modular exponentiations.
func verifyExponentiation(n, base, exponent, result, q *big.Int) bool {
	l := challengePrime(base, exponent, result)
	r := new(big.Int).Mod(exponent, l)
	lhs := new(big.Int).Exp(q, l, n)
	rhs := new(big.Int).Exp(base, r, n)
	lhs.Mul(lhs, rhs)
	lhs.Mod(lhs, n)
	return lhs.Cmp(result) == 0
}

// AddWithProof is Acc.add_with_proof: as Add, plus a succinct proof that
// the result was obtained from the receiver by adding exactly elems.
func (a Accumulator) AddWithProof(elems []*big.Int) (Accumulator, MembershipProof) {
	exponent := product(elems)
	next := a.exp(exponent)
	q := proveExponentiation(a.group.n, a.value, exponent, next.value)
	return next, MembershipProof{Witness: a, Q: q}
}

// DeletedElem pairs a deleted prime element with the membership witness the
// caller obtained for it (a witness w such that w^elem == the accumulator
// the element was deleted from).
type DeletedElem struct {
	Elem    *big.Int
	Witness Witness
}

// DeleteWithProof is Acc.delete_with_proof: the inverse of Add. Every input
// must carry a witness proving its element is presently accumulated; a
// witness that fails to verify is a protocol violation (this is the
// accumulator-level enforcement of spec P4, "no double spend").
func (a Accumulator) DeleteWithProof(elems []DeletedElem) (Accumulator, MembershipProof, error) {
	for _, e := range elems {
		if !e.Witness.exp(e.Elem).Equal(a) {
			return Accumulator{}, MembershipProof{}, errors.Wrapf(
				ErrProtocolViolation, "delete: witness does not verify for element %s", e.Elem)
		}
	}

	exponent := product(elemsOnly(elems))
	inv := new(big.Int).ModInverse(exponent, a.group.lambda)
	if inv == nil {
		return Accumulator{}, MembershipProof{}, errors.Wrap(
			ErrProtocolViolation, "delete: deleted product not invertible mod group order")
	}
	next := a.exp(inv)

	q := proveExponentiation(a.group.n, next.value, exponent, a.value)
	return next, MembershipProof{Witness: next, Q: q}, nil
}

func elemsOnly(in []DeletedElem) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, e := range in {
		out[i] = e.Elem
	}
	return out
}

// VerifyMembership verifies that proof.Witness raised to the product of
// elems equals the receiver, per spec §6's Acc.verify_membership contract.
func (a Accumulator) VerifyMembership(elems []*big.Int, proof MembershipProof) bool {
	if a.group != proof.Witness.group {
		return false
	}
	exponent := product(elems)
	return verifyExponentiation(a.group.n, proof.Witness.value, exponent, a.value, proof.Q)
}

// ComputeSubsetWitness returns a witness for subset given a witness (the
// receiver) covering fullSet, where subset must be a sub-multiset of
// fullSet. It panics with ErrProtocolViolation if it isn't: spec §7 treats
// a caller requesting a witness for an element outside the set the witness
// covers as a fatal precondition violation, not a value to silently return.
func (w Witness) ComputeSubsetWitness(fullSet, subset []*big.Int) Witness {
	full := product(fullSet)
	sub := product(subset)
	quotient, remainder := new(big.Int).QuoRem(full, sub, new(big.Int))
	if remainder.Sign() != 0 {
		panic(errors.Wrap(ErrProtocolViolation, "compute subset witness: subset is not a sub-multiset of full set"))
	}
	return w.exp(quotient)
}

// ComputeIndividualWitnesses implements root-factor: given a witness
// covering exactly elems, it returns one membership witness per element in
// O(n log n) group operations via divide-and-conquer, rather than the O(n^2)
// cost of computing each witness from scratch. Output order matches elems.
func (w Witness) ComputeIndividualWitnesses(elems []*big.Int) []Witness {
	if len(elems) == 0 {
		return nil
	}
	if len(elems) == 1 {
		return []Witness{w}
	}

	mid := len(elems) / 2
	left, right := elems[:mid], elems[mid:]

	leftWit := w.exp(product(right))
	rightWit := w.exp(product(left))

	out := make([]Witness, 0, len(elems))
	out = append(out, leftWit.ComputeIndividualWitnesses(left)...)
	out = append(out, rightWit.ComputeIndividualWitnesses(right)...)
	return out
}

// UpdateMembershipWitness lifts a tracked set's witness forward by one
// block, given only how the untracked portion of the global set changed.
// trackedSetAfter is accepted for interface fidelity with spec §6 (a
// non-trapdoor implementation would use it to cross-check the result) but
// this trapdoor implementation derives the update purely from the
// untracked deltas: the new witness equals the old witness raised to
// (product of untracked additions) times the modular inverse of (product
// of untracked deletions), both mod the group's private order.
func (a Accumulator) UpdateMembershipWitness(old Witness, trackedSetAfter []*big.Int, untrackedAdditions []*big.Int, untrackedDeletions []DeletedElem) (Witness, error) {
	_ = trackedSetAfter

	factor := product(untrackedAdditions)
	if delProduct := product(elemsOnly(untrackedDeletions)); delProduct.Cmp(big.NewInt(1)) != 0 {
		inv := new(big.Int).ModInverse(delProduct, a.group.lambda)
		if inv == nil {
			return Witness{}, errors.Wrap(ErrProtocolViolation, "update witness: untracked deletions not invertible mod group order")
		}
		factor.Mul(factor, inv)
		factor.Mod(factor, a.group.lambda)
	}
	return old.exp(factor), nil
}
