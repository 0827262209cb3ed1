package domain

// MaxCheckpoints bounds a voter's checkpoint history. When the history is
// full the oldest entry is evicted to make room, so very old slots stop
// resolving but recent snapshots always can.
const MaxCheckpoints = 50

// Checkpoint records a voter's voting power at a specific slot.
type Checkpoint struct {
	Slot    uint64
	Balance uint64
}

// VoterCheckpoints is a voter's slot-ordered checkpoint history, shared
// across all quests. Queries never mutate it; only an explicit refresh does.
type VoterCheckpoints struct {
	Voter       string
	Checkpoints []Checkpoint
}

// GetPastVotes returns the voter's balance at or before targetSlot using
// binary search, or 0 when the history is empty or starts after targetSlot.
func (vc *VoterCheckpoints) GetPastVotes(targetSlot uint64) uint64 {
	cps := vc.Checkpoints
	if len(cps) == 0 || cps[0].Slot > targetSlot {
		return 0
	}

	low, high := 0, len(cps)
	for low < high {
		mid := (low + high) / 2
		if cps[mid].Slot > targetSlot {
			high = mid
		} else {
			low = mid + 1
		}
	}
	return cps[high-1].Balance
}

// Update records the voter's balance at currentSlot. A write at the same
// slot as the last entry overwrites it in place, so only the most recent
// value per slot is kept. Slots must not move backwards.
func (vc *VoterCheckpoints) Update(currentSlot, balance uint64) error {
	if n := len(vc.Checkpoints); n > 0 {
		last := &vc.Checkpoints[n-1]
		if last.Slot == currentSlot {
			last.Balance = balance
			return nil
		}
		if last.Slot > currentSlot {
			return ErrValidation
		}
	}

	if len(vc.Checkpoints) >= MaxCheckpoints {
		vc.Checkpoints = vc.Checkpoints[1:]
	}
	vc.Checkpoints = append(vc.Checkpoints, Checkpoint{Slot: currentSlot, Balance: balance})
	return nil
}
