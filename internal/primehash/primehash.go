// Package primehash derives deterministic prime elements from arbitrary
// byte strings. It stands in for the "hash_to_prime" collaborator that the
// accumulator group treats as an opaque dependency: callers never see how a
// UTXO or a Fiat-Shamir challenge becomes a prime, only that the same input
// always yields the same prime.
package primehash

import (
	"crypto/sha256"
	"math/big"
)

// bits is the bit length of the search window primes are drawn from. It is
// intentionally far below real accumulator-security sizes (the accumulator
// modulus itself, not this package, is where that budget is spent) but large
// enough that collisions between independently hashed UTXOs are negligible
// for a simulation.
const bits = 128

// FromBytes folds parts together with SHA-256 and returns the first
// probable prime at or after the resulting 128-bit seed, searching only odd
// candidates. The search is deterministic: the same parts always yield the
// same prime, which is what lets a miner and a bridge independently derive
// identical elements for the same UTXO.
func FromBytes(parts ...[]byte) *big.Int {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	digest := h.Sum(nil)

	seed := new(big.Int).SetBytes(digest[:bits/8])
	seed.SetBit(seed, 0, 1) // odd candidates only
	seed.SetBit(seed, bits-1, 1)

	candidate := new(big.Int).Set(seed)
	two := big.NewInt(2)
	for !candidate.ProbablyPrime(20) {
		candidate.Add(candidate, two)
	}
	return candidate
}
