package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"shieldpool/internal/api"
	"shieldpool/internal/shielded"
)

var maxAmount = decimal.NewFromBigInt(new(big.Int).SetUint64(^uint64(0)), 0)

// parseAmount reads s in display units, shifting it by --decimals into base
// units.
func parseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	d = d.Shift(decimals)
	if !d.IsInteger() || d.IsNegative() || d.GreaterThan(maxAmount) {
		return 0, fmt.Errorf("amount %q is not a whole number of base units", s)
	}
	return d.BigInt().Uint64(), nil
}

// formatAmount renders base units with --decimals places.
func formatAmount(v uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals).StringFixed(decimals)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func poolArg(s string) (shielded.Digest, error) {
	id, err := shielded.ParseDigest(s)
	if err != nil {
		return id, fmt.Errorf("pool id: %w", err)
	}
	return id, nil
}

var poolCmd = &cobra.Command{Use: "pool", Short: "Create and inspect pools"}

var (
	initFee        uint16
	initCapacity   uint64
	initSkipCm     bool
	initStrategy   string
	initNfCapacity uint64
	initMode       string
)

var poolInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a pool administered by --caller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.InitPool(cmd.Context(), api.InitPoolRequest{
			FeeBPS:             initFee,
			CommitmentCapacity: initCapacity,
			SkipCommitments:    initSkipCm,
			NullifierStrategy:  initStrategy,
			NullifierCapacity:  initNfCapacity,
			BalanceMode:        initMode,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var poolShowCmd = &cobra.Command{
	Use:   "show <pool>",
	Short: "Show a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := poolArg(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.GetPool(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var poolAuditCmd = &cobra.Command{
	Use:   "audit <pool>",
	Short: "Check the vault against the pool's books",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := poolArg(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		r, err := c.Audit(cmd.Context(), id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "vault          %s\n", formatAmount(r.VaultBalance))
		fmt.Fprintf(out, "total locked   %s\n", formatAmount(r.TotalLocked))
		fmt.Fprintf(out, "fees collected %s\n", formatAmount(r.FeesCollected))
		fmt.Fprintf(out, "accounts       %d\n", r.TotalAccounts)
		fmt.Fprintf(out, "nullifiers     %d\n", r.Nullifiers)
		fmt.Fprintf(out, "balanced       %t\n", r.Balanced)
		if !r.Balanced {
			return fmt.Errorf("pool %s is out of balance", id)
		}
		return nil
	},
}

var accountCmd = &cobra.Command{Use: "account", Short: "Open and inspect shielded accounts"}

var (
	openCommitment string
	openEncKey     string
)

var accountOpenCmd = &cobra.Command{
	Use:   "open <pool>",
	Short: "Open an account for --caller with a spend commitment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := poolArg(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.OpenAccount(cmd.Context(), id, api.OpenAccountRequest{
			Commitment:    openCommitment,
			EncryptionKey: openEncKey,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), v)
	},
}

var accountShowCmd = &cobra.Command{
	Use:   "show <pool>",
	Short: "Show the account of --caller",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := poolArg(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		owner, err := shielded.ParseAddress(callerHex)
		if err != nil {
			return fmt.Errorf("--caller: %w", err)
		}
		v, err := c.GetAccount(cmd.Context(), id, owner)
		if err != nil {
			return err
		}
		if v.PlainBalance != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "balance %s\n", formatAmount(*v.PlainBalance))
		}
		return printJSON(cmd.OutOrStdout(), v)
	},
}

var shieldCmd = &cobra.Command{
	Use:   "shield <pool> <amount>",
	Short: "Move public value of --caller into the pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := poolArg(args[0])
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		r, err := c.Shield(cmd.Context(), id, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "shielded %s (fee %s), pool holds %s\n",
			formatAmount(r.Net), formatAmount(r.Fee), formatAmount(r.TotalLocked))
		return nil
	},
}

var (
	transferDebit  string
	transferCredit string
	transferProof  string
)

var transferCmd = &cobra.Command{
	Use:   "transfer <pool> <recipient> [amount]",
	Short: "Move shielded value from --caller to recipient",
	Long: `Plain pools take an amount. ElGamal pools take --debit and --credit
ciphertexts instead.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := poolArg(args[0])
		if err != nil {
			return err
		}
		req := api.TransferRequest{
			Recipient: args[1],
			Debit:     transferDebit,
			Credit:    transferCredit,
			Proof:     transferProof,
		}
		if len(args) == 3 {
			if req.Amount, err = parseAmount(args[2]); err != nil {
				return err
			}
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if _, err := c.Transfer(cmd.Context(), id, req); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "transfer committed")
		return nil
	},
}

var (
	unshieldRecipient string
	unshieldNullifier string
	unshieldProof     string
)

var unshieldCmd = &cobra.Command{
	Use:   "unshield <pool> <amount>",
	Short: "Pay shielded value of --caller out of the pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := poolArg(args[0])
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		r, err := c.Unshield(cmd.Context(), id, api.UnshieldRequest{
			Amount:    amount,
			Recipient: unshieldRecipient,
			Nullifier: unshieldNullifier,
			Proof:     unshieldProof,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "paid %s to %s (fee %s), pool holds %s\n",
			formatAmount(r.Net), r.Recipient, formatAmount(r.Fee), formatAmount(r.TotalLocked))
		return nil
	},
}

var nullifierCmd = &cobra.Command{
	Use:   "nullifier <pool> <nullifier>",
	Short: "Report whether a nullifier has been consumed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := poolArg(args[0])
		if err != nil {
			return err
		}
		n, err := shielded.ParseDigest(args[1])
		if err != nil {
			return fmt.Errorf("nullifier: %w", err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		used, err := c.NullifierUsed(cmd.Context(), id, n)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "used %t\n", used)
		return nil
	},
}

var adminCmd = &cobra.Command{Use: "admin", Short: "Administer a pool as --caller"}

var adminFeeCmd = &cobra.Command{
	Use:   "fee <pool> <bps>",
	Short: "Set the pool fee in basis points",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := poolArg(args[0])
		if err != nil {
			return err
		}
		var bps uint16
		if _, err := fmt.Sscan(args[1], &bps); err != nil {
			return fmt.Errorf("bps: %w", err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.SetFee(cmd.Context(), id, bps)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "fee set to %d bps\n", p.Fee.BPS)
		return nil
	},
}

func pauseCommand(use string, paused bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <pool>",
		Short: use + " user operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := poolArg(args[0])
			if err != nil {
				return err
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			op := c.Unpause
			if paused {
				op = c.Pause
			}
			p, err := op(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pool %s is %s\n", p.ID, p.State())
			return nil
		},
	}
}

var faucetCmd = &cobra.Command{
	Use:   "faucet <address> <amount>",
	Short: "Credit public value on a development daemon",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := shielded.ParseAddress(args[0])
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Faucet(cmd.Context(), addr, amount); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "credited %s to %s\n", formatAmount(amount), addr)
		return nil
	},
}

func init() {
	f := poolInitCmd.Flags()
	f.Uint16Var(&initFee, "fee-bps", 0, "fee in basis points")
	f.Uint64Var(&initCapacity, "commitment-capacity", 0, "commitment registry capacity (0 selects the default)")
	f.BoolVar(&initSkipCm, "skip-commitments", false, "do not record note commitments")
	f.StringVar(&initStrategy, "nullifier-strategy", "", "keyed or bounded")
	f.Uint64Var(&initNfCapacity, "nullifier-capacity", 0, "bounded nullifier registry capacity")
	f.StringVar(&initMode, "balance-mode", "", "plain or elgamal")
	poolCmd.AddCommand(poolInitCmd, poolShowCmd, poolAuditCmd)

	accountOpenCmd.Flags().StringVar(&openCommitment, "commitment", "", "hex spend commitment")
	accountOpenCmd.Flags().StringVar(&openEncKey, "encryption-key", "", "hex ElGamal public key")
	_ = accountOpenCmd.MarkFlagRequired("commitment")
	accountCmd.AddCommand(accountOpenCmd, accountShowCmd)

	transferCmd.Flags().StringVar(&transferDebit, "debit", "", "hex debit ciphertext")
	transferCmd.Flags().StringVar(&transferCredit, "credit", "", "hex credit ciphertext")
	transferCmd.Flags().StringVar(&transferProof, "proof", "", "hex transfer proof")
	_ = transferCmd.MarkFlagRequired("proof")

	unshieldCmd.Flags().StringVar(&unshieldRecipient, "recipient", "", "payout address (defaults to the owner)")
	unshieldCmd.Flags().StringVar(&unshieldNullifier, "nullifier", "", "hex nullifier")
	unshieldCmd.Flags().StringVar(&unshieldProof, "proof", "", "hex spend proof")
	_ = unshieldCmd.MarkFlagRequired("nullifier")
	_ = unshieldCmd.MarkFlagRequired("proof")

	adminCmd.AddCommand(adminFeeCmd, pauseCommand("pause", true), pauseCommand("unpause", false))
}
