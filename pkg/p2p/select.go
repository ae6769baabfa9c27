package p2p

// SelectPackager deterministically maps a VRF-derived random number r in
// [0,1) onto the staked+invested set, weighted by voting power: peers are
// walked in snapshot order accumulating a running fraction of total voting
// power, and the first peer whose cumulative fraction exceeds r is elected.
// Given the same (snapshot, r), every node reaches the same answer — this
// is what makes packager selection satisfy VRF determinism (P7).
func SelectPackager(snapshot StakeSnapshot, r float64) (Peer, bool) {
	total := snapshot.TotalVotingPower()
	if total <= 0 || len(snapshot.Peers) == 0 {
		return Peer{}, false
	}
	if r < 0 {
		r = 0
	}
	if r >= 1 {
		r = 0.999999999
	}

	var cumulative int64
	target := r * float64(total)
	for _, p := range snapshot.Peers {
		cumulative += p.VotingPower
		if float64(cumulative) > target {
			return p, true
		}
	}
	// Floating-point rounding at the boundary: fall back to the last peer.
	return snapshot.Peers[len(snapshot.Peers)-1], true
}
