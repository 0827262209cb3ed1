package domain

// MaxLockedUsers caps the banned-voter set.
const MaxLockedUsers = 100

// EngineConfig is the singleton market-engine configuration: the owner
// authority, the base betting token, the three fee payout destinations, and
// the banned-voter set.
type EngineConfig struct {
	Owner             string
	BaseToken         string
	ServiceFeeAccount string
	CharityFeeAccount string
	RemainderAccount  string
	LockedUsers       map[string]bool
}

// IsLocked reports whether the voter is banned from betting.
func (c *EngineConfig) IsLocked(voter string) bool {
	return c.LockedUsers[voter]
}

// LockUser adds a voter to the banned set. It fails with ErrAlreadyExists on
// repeats and with ErrValidation once the capacity cap is reached.
func (c *EngineConfig) LockUser(voter string) error {
	if c.LockedUsers == nil {
		c.LockedUsers = make(map[string]bool)
	}
	if c.LockedUsers[voter] {
		return ErrAlreadyExists
	}
	if len(c.LockedUsers) >= MaxLockedUsers {
		return ErrValidation
	}
	c.LockedUsers[voter] = true
	return nil
}

// UnlockUser removes a voter from the banned set.
func (c *EngineConfig) UnlockUser(voter string) error {
	if !c.LockedUsers[voter] {
		return ErrNotFound
	}
	delete(c.LockedUsers, voter)
	return nil
}
