package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"shieldpool/internal/proof"
	"shieldpool/internal/shielded"
)

var keysCmd = &cobra.Command{Use: "keys", Short: "Generate account keys and circuit keys"}

var keysNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a spend key and an ElGamal keypair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sk, err := shielded.NewSpendKey()
		if err != nil {
			return err
		}
		kp, err := shielded.GenerateKeyPair()
		if err != nil {
			return err
		}
		secret := kp.Secret.Bytes()
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"spend_key":         sk.String(),
			"commitment":        sk.Commitment().String(),
			"encryption_key":    kp.EncryptionKey().String(),
			"encryption_secret": hex.EncodeToString(secret[:]),
		})
	},
}

var keyDir string

var keysSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Compile the circuits and run the Groth16 setup into --dir",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, c := range []proof.Circuit{proof.CircuitSpend, proof.CircuitTransfer} {
			keys, err := proof.LoadKeys(c, keyDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d constraints\n", c, keys.CCS.GetNbConstraints())
		}
		return nil
	},
}

var proveCmd = &cobra.Command{
	Use:   "prove",
	Short: "Produce spend and transfer proofs",
	Long: `Without --groth16 the proofs are digest seals accepted by daemons
running the digest backend.`,
}

var (
	proveKey      string
	proveRho      uint64
	proveGroth16  string
	proveAccount  string
	proveReceiver string
)

var proveUnshieldCmd = &cobra.Command{
	Use:   "unshield",
	Short: "Prove a spend and print the nullifier it reveals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sk, err := shielded.ParseSpendKey(proveKey)
		if err != nil {
			return err
		}
		var (
			prf []byte
			nf  shielded.Digest
		)
		if proveGroth16 != "" {
			_, prover, err := proof.Groth16Set(proveGroth16)
			if err != nil {
				return err
			}
			if prf, nf, err = prover.ProveSpend(sk, proveRho); err != nil {
				return err
			}
		} else {
			cm := sk.Commitment()
			if proveAccount != "" {
				if cm, err = shielded.ParseDigest(proveAccount); err != nil {
					return fmt.Errorf("--account-commitment: %w", err)
				}
			}
			nf = sk.Nullifier(proveRho)
			prf = proof.Seal(proof.TagUnshield, nil, []shielded.Digest{cm, nf})
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"nullifier": nf.String(),
			"proof":     hex.EncodeToString(prf),
		})
	},
}

var proveTransferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Prove a transfer to the account holding --recipient-commitment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sk, err := shielded.ParseSpendKey(proveKey)
		if err != nil {
			return err
		}
		recipient, err := shielded.ParseDigest(proveReceiver)
		if err != nil {
			return fmt.Errorf("--recipient-commitment: %w", err)
		}
		var prf []byte
		if proveGroth16 != "" {
			_, prover, err := proof.Groth16Set(proveGroth16)
			if err != nil {
				return err
			}
			if prf, err = prover.ProveTransfer(sk, recipient); err != nil {
				return err
			}
		} else {
			cm := sk.Commitment()
			if proveAccount != "" {
				if cm, err = shielded.ParseDigest(proveAccount); err != nil {
					return fmt.Errorf("--account-commitment: %w", err)
				}
			}
			prf = proof.Seal(proof.TagTransfer, nil, []shielded.Digest{cm, recipient})
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(prf))
		return nil
	},
}

func init() {
	keysSetupCmd.Flags().StringVar(&keyDir, "dir", "keys", "directory holding the circuit keys")
	keysCmd.AddCommand(keysNewCmd, keysSetupCmd)

	pf := proveCmd.PersistentFlags()
	pf.StringVar(&proveKey, "key", "", "hex spend key")
	pf.StringVar(&proveGroth16, "groth16", "", "key directory; prove with Groth16 instead of a digest seal")
	pf.StringVar(&proveAccount, "account-commitment", "", "digest backend only: the commitment stored on the account, when it differs from the key's")
	_ = proveCmd.MarkPersistentFlagRequired("key")
	proveUnshieldCmd.Flags().Uint64Var(&proveRho, "rho", 0, "spend counter; use a fresh value per unshield")
	proveTransferCmd.Flags().StringVar(&proveReceiver, "recipient-commitment", "", "hex commitment of the recipient account")
	_ = proveTransferCmd.MarkFlagRequired("recipient-commitment")
	proveCmd.AddCommand(proveUnshieldCmd, proveTransferCmd)
}
