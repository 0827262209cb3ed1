package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPastVotesEmpty(t *testing.T) {
	vc := VoterCheckpoints{Voter: "0xabc"}
	assert.Equal(t, uint64(0), vc.GetPastVotes(100))
}

func TestGetPastVotesBeforeFirst(t *testing.T) {
	vc := VoterCheckpoints{
		Checkpoints: []Checkpoint{{Slot: 100, Balance: 5}},
	}
	assert.Equal(t, uint64(0), vc.GetPastVotes(50))
}

func TestGetPastVotesLookup(t *testing.T) {
	vc := VoterCheckpoints{
		Checkpoints: []Checkpoint{
			{Slot: 100, Balance: 3},
			{Slot: 200, Balance: 5},
			{Slot: 300, Balance: 7},
		},
	}

	tests := []struct {
		name   string
		slot   uint64
		expect uint64
	}{
		{"before first", 50, 0},
		{"exact first", 100, 3},
		{"between first and second", 150, 3},
		{"exact second", 200, 5},
		{"between second and third", 250, 5},
		{"exact last", 300, 7},
		{"after last", 400, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, vc.GetPastVotes(tt.slot))
		})
	}
}

func TestGetPastVotesManyCheckpoints(t *testing.T) {
	vc := VoterCheckpoints{}
	for i := uint64(0); i < 50; i++ {
		require.NoError(t, vc.Update((i+1)*100, i+1))
	}

	assert.Equal(t, uint64(1), vc.GetPastVotes(150))
	assert.Equal(t, uint64(25), vc.GetPastVotes(2550))
	assert.Equal(t, uint64(50), vc.GetPastVotes(5000))
}

func TestUpdateSameSlotOverwrites(t *testing.T) {
	vc := VoterCheckpoints{}
	require.NoError(t, vc.Update(100, 3))
	require.NoError(t, vc.Update(100, 9))

	require.Len(t, vc.Checkpoints, 1)
	assert.Equal(t, uint64(9), vc.GetPastVotes(100))
}

func TestUpdateRejectsBackdatedSlot(t *testing.T) {
	vc := VoterCheckpoints{}
	require.NoError(t, vc.Update(200, 3))

	err := vc.Update(100, 5)
	assert.ErrorIs(t, err, ErrValidation)
	require.Len(t, vc.Checkpoints, 1)
}

func TestUpdateEvictsOldestWhenFull(t *testing.T) {
	vc := VoterCheckpoints{}
	for i := uint64(0); i < MaxCheckpoints; i++ {
		require.NoError(t, vc.Update((i+1)*10, i+1))
	}
	require.Len(t, vc.Checkpoints, MaxCheckpoints)

	require.NoError(t, vc.Update(9999, 77))
	require.Len(t, vc.Checkpoints, MaxCheckpoints)

	// Oldest entry is gone, newest is queryable.
	assert.Equal(t, uint64(20), vc.Checkpoints[0].Slot)
	assert.Equal(t, uint64(77), vc.GetPastVotes(9999))
	assert.Equal(t, uint64(0), vc.GetPastVotes(15))
}
