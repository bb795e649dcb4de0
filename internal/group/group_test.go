package group

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// testGroup returns a small group, big enough for correctness testing but
// far below production security parameters so tests run fast.
func testGroup(t *testing.T) *Group {
	t.Helper()
	g, err := NewGroup(64)
	require.NoError(t, err)
	return g
}

func elems(vals ...int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestAddWithProofVerifies(t *testing.T) {
	g := testGroup(t)
	acc := g.Empty()

	added := elems(7, 11, 13)
	next, proof := acc.AddWithProof(added)

	require.True(t, next.VerifyMembership(added, proof))
}

func TestAddWithProofRejectsWrongElems(t *testing.T) {
	g := testGroup(t)
	acc := g.Empty()

	next, proof := acc.AddWithProof(elems(7, 11))
	require.False(t, next.VerifyMembership(elems(7, 13), proof))
}

func TestDeleteWithProofRoundTrip(t *testing.T) {
	g := testGroup(t)
	acc := g.Empty()

	allElems := elems(7, 11, 13)
	withAll, _ := acc.AddWithProof(allElems)

	// Witness for element 11 is the accumulator over the other elements.
	witFor11 := acc.Add(elems(7, 13))
	deleted := []DeletedElem{{Elem: big.NewInt(11), Witness: witFor11}}

	afterDelete, proofDeleted, err := withAll.DeleteWithProof(deleted)
	require.NoError(t, err)
	require.True(t, afterDelete.Equal(witFor11))
	require.True(t, withAll.VerifyMembership(elems(11), proofDeleted))
}

func TestDeleteWithProofRejectsBadWitness(t *testing.T) {
	g := testGroup(t)
	acc := g.Empty()
	withAll, _ := acc.AddWithProof(elems(7, 11, 13))

	badWitness := acc.Add(elems(7)) // wrong: doesn't cover 11's complement
	_, _, err := withAll.DeleteWithProof([]DeletedElem{{Elem: big.NewInt(11), Witness: badWitness}})
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestComputeSubsetWitness(t *testing.T) {
	g := testGroup(t)
	full := elems(7, 11, 13, 17)
	acc := g.Empty().Add(full)

	subsetWitness := g.Empty().ComputeSubsetWitness(full, elems(11, 17))
	require.True(t, verifySubset(acc, subsetWitness, elems(11, 17)))
}

func TestComputeSubsetWitnessPanicsOnNonDivisibleSubset(t *testing.T) {
	g := testGroup(t)
	full := elems(7, 11, 13, 17)

	require.Panics(t, func() {
		g.Empty().ComputeSubsetWitness(full, elems(19)) // 19 not in full
	})
}

// verifySubset expresses "witness raised to the subset product equals the
// accumulator", since the package's real VerifyMembership takes a succinct
// proof rather than a raw witness.
func verifySubset(a Accumulator, w Witness, subset []*big.Int) bool {
	return w.exp(product(subset)).Equal(a)
}

func TestComputeIndividualWitnessesRootFactor(t *testing.T) {
	g := testGroup(t)
	full := elems(7, 11, 13, 17, 19)
	acc := g.Empty().Add(full)

	witnesses := g.Empty().ComputeIndividualWitnesses(full)
	require.Len(t, witnesses, len(full))

	for i, e := range full {
		require.True(t, verifySubset(acc, witnesses[i], []*big.Int{e}),
			"witness for element %v does not verify", e)
	}
}

func TestUpdateMembershipWitnessTracksUntrackedChurn(t *testing.T) {
	g := testGroup(t)

	tracked := elems(7, 11)
	untracked := elems(13, 17)
	full := append(append([]*big.Int{}, tracked...), untracked...)

	acc := g.Empty().Add(full)
	trackedWitness := g.Empty().ComputeSubsetWitness(full, tracked)
	require.True(t, verifySubset(acc, trackedWitness, tracked))

	// Untracked churn: delete 13, add 23. Tracked set itself is unchanged.
	untrackedDeletedWitness := g.Empty().Add(append(append([]*big.Int{}, tracked...), big.NewInt(17)))
	newAcc, _, err := acc.DeleteWithProof([]DeletedElem{{Elem: big.NewInt(13), Witness: untrackedDeletedWitness}})
	require.NoError(t, err)
	newAcc, _ = newAcc.AddWithProof(elems(23))

	newWitness, err := newAcc.UpdateMembershipWitness(trackedWitness, tracked, elems(23), []DeletedElem{{Elem: big.NewInt(13), Witness: untrackedDeletedWitness}})
	require.NoError(t, err)
	require.True(t, verifySubset(newAcc, newWitness, tracked))
}
