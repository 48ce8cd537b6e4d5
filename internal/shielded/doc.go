// Package shielded holds the cryptographic primitives shared by the pool.
//
// Overview:
//   - Address and Digest are the 32-byte identities used across the pool
//   - Commitments and nullifiers are MiMC digests over the BN254 scalar field
//   - Spend keys bind an account commitment to the nullifiers it can produce
//   - Role addresses (vault, registries) are derived from the pool ID with sha3
//   - Encryption keys are BN254 G1 points used by the ElGamal balance algebra
//
// Security Model:
//   - MiMC is used so commitments and nullifiers can be recomputed in-circuit
//   - All randomness comes from crypto/rand through gnark-crypto's SetRandom
//   - A nullifier is MiMC(secret, rho); only the holder of the secret can
//     produce one that matches the account commitment MiMC(secret)
package shielded
