package domain

import (
	"math/big"
	"time"
)

// MintState is the step a pending mint is currently in.
type MintState string

const (
	MintPending           MintState = "PENDING"
	MintCollectingFee     MintState = "COLLECTING_FEE"
	MintSnapshotting      MintState = "SNAPSHOTTING"
	MintCollectingDeposit MintState = "COLLECTING_DEPOSIT"
	MintCalculating       MintState = "CALCULATING"
	MintMinting           MintState = "MINTING"
	MintComplete          MintState = "COMPLETE"
	MintFailed            MintState = "FAILED"
	MintFailedRefunded    MintState = "FAILED_REFUNDED"
	MintFailedNoRefund    MintState = "FAILED_NO_REFUND"
	MintExpired           MintState = "EXPIRED"
)

// MintStatus is the state of a pending mint plus its terminal payload:
// the minted share amount on success, the failure reason otherwise.
type MintStatus struct {
	State  MintState
	Minted *big.Int // set only when State == MintComplete
	Reason string   // set only for failed/expired states
}

// IsTerminal reports whether no further transitions are allowed.
func (s MintStatus) IsTerminal() bool {
	switch s.State {
	case MintComplete, MintFailed, MintFailedRefunded, MintFailedNoRefund, MintExpired:
		return true
	}
	return false
}

// Snapshot is a (supply, totalValue) pair captured together so the two
// values describe the same instant. TakenAt drives the staleness policy.
type Snapshot struct {
	Supply     *big.Int
	TotalValue *big.Int
	TakenAt    time.Time
}

// Validate enforces the staleness policy: a snapshot older than failAfter is
// unusable and the caller must retake it. Returns (stale-warning, error).
func (s Snapshot) Validate(now time.Time, warnAfter, failAfter time.Duration) (bool, error) {
	age := now.Sub(s.TakenAt)
	if age > failAfter {
		return true, Errorf(KindConsistency, "snapshot.validate",
			"snapshot is %s old, limit %s: retake required", age.Round(time.Second), failAfter)
	}
	return age > warnAfter, nil
}

// PendingMint is one in-flight deposit. Created by Initiate, mutated only by
// the orchestrator executing the owning account's request, deleted by the
// sweeper.
type PendingMint struct {
	ID        string
	Account   Account
	Amount    *big.Int
	Status    MintStatus
	Snapshot  *Snapshot
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetSnapshot records the pre-deposit snapshot. A fresh attempt at an
// interrupted mint replaces the snapshot the earlier attempt left behind;
// within one attempt the snapshot is written exactly once, before the
// deposit moves.
func (m *PendingMint) SetSnapshot(s Snapshot) {
	m.Snapshot = &s
}

// mintSteps orders the non-terminal states along the completion pipeline.
var mintSteps = map[MintState]int{
	MintPending:           0,
	MintCollectingFee:     1,
	MintSnapshotting:      2,
	MintCollectingDeposit: 3,
	MintCalculating:       4,
	MintMinting:           5,
}

// Reached reports whether the state is at or past the given pipeline step.
// Terminal states are outside the pipeline and never report true.
func (s MintState) Reached(step MintState) bool {
	have, okHave := mintSteps[s]
	want, okWant := mintSteps[step]
	return okHave && okWant && have >= want
}

// Transition moves the mint to the next status, enforcing the state machine:
// terminal states are frozen, and CollectingDeposit cannot follow
// Snapshotting unless the snapshot is present.
func (m *PendingMint) Transition(now time.Time, next MintStatus) error {
	if m.Status.IsTerminal() {
		return Errorf(KindValidation, "mint.transition",
			"mint %s is already %s", m.ID, m.Status.State)
	}
	if next.State == MintCollectingDeposit && m.Snapshot == nil {
		return Errorf(KindConsistency, "mint.transition",
			"mint %s cannot collect deposit without a snapshot", m.ID)
	}
	m.Status = next
	m.UpdatedAt = now
	return nil
}
