package p2p

import "testing"

func snap() StakeSnapshot {
	return StakeSnapshot{
		Height: 1,
		Peers: []Peer{
			{ID: "a", VotingPower: 10},
			{ID: "b", VotingPower: 20},
			{ID: "c", VotingPower: 70},
		},
	}
}

func TestSelectPackagerDeterministic(t *testing.T) {
	s := snap()
	p1, ok1 := SelectPackager(s, 0.05)
	p2, ok2 := SelectPackager(s, 0.05)
	if !ok1 || !ok2 {
		t.Fatal("expected a selection")
	}
	if p1.ID != p2.ID {
		t.Errorf("expected identical selection for identical input, got %s and %s", p1.ID, p2.ID)
	}
}

func TestSelectPackagerBoundaries(t *testing.T) {
	s := snap()
	cases := []struct {
		r    float64
		want string
	}{
		{0.0, "a"},
		{0.05, "a"},  // within first 10%
		{0.2, "b"},   // within 10-30%
		{0.5, "c"},   // within 30-100%
		{0.999, "c"},
	}
	for _, c := range cases {
		got, ok := SelectPackager(s, c.r)
		if !ok {
			t.Fatalf("r=%v: expected selection", c.r)
		}
		if got.ID != c.want {
			t.Errorf("r=%v: got %s, want %s", c.r, got.ID, c.want)
		}
	}
}

func TestSelectPackagerEmptySnapshot(t *testing.T) {
	if _, ok := SelectPackager(StakeSnapshot{}, 0.5); ok {
		t.Error("expected no selection for empty snapshot")
	}
}
