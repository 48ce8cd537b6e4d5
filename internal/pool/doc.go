// Package pool implements the shielded pool state machine.
//
// Overview:
//   - Service exposes Initialize, OpenAccount, Shield, Transfer, Unshield and
//     the admin operations SetFee, Pause and Unpause
//   - Every operation runs inside one Store transaction; nothing is written
//     unless the whole operation succeeds
//   - Events are published only after the transaction commits
//
// Invariants:
//   - TotalLocked grows only by the net of a Shield and shrinks only by the
//     amount of an Unshield
//   - The vault holds exactly TotalLocked + FeesCollected
//   - A nullifier is registered before any value leaves the vault, and at
//     most once per pool
//   - A proof is verified before any state is touched
package pool
