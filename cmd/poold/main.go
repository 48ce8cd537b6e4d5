// main.go - Entry point of the shielded pool daemon and its CLI.
//
// Usage:
//
//	poold serve --config config.yaml
//	poold pool init --fee-bps 500 --caller <admin>
//	poold shield <pool> 1000000 --caller <owner>
//
// Every command other than serve and keys talks to a running daemon over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shieldpool/internal/client"
	"shieldpool/internal/shielded"
)

// version is set at build time.
var version = "dev"

var (
	configPath string
	serverURL  string
	callerHex  string
	decimals   int32
)

var rootCmd = &cobra.Command{
	Use:           "poold",
	Short:         "Shielded value pool daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "config.yaml", "path to the daemon config")
	pf.StringVar(&serverURL, "server", envOr("SHIELDPOOL_SERVER", "http://localhost:8080"), "daemon base URL")
	pf.StringVar(&callerHex, "caller", os.Getenv("SHIELDPOOL_CALLER"), "hex address to act as")
	pf.Int32Var(&decimals, "decimals", 0, "decimal places used to display and parse amounts")

	rootCmd.AddCommand(serveCmd, versionCmd, keysCmd, proveCmd)
	rootCmd.AddCommand(poolCmd, accountCmd, shieldCmd, transferCmd, unshieldCmd, adminCmd, faucetCmd, nullifierCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// newClient returns a client acting as --caller.
func newClient() (*client.Client, error) {
	var caller shielded.Address
	if callerHex != "" {
		var err error
		if caller, err = shielded.ParseAddress(callerHex); err != nil {
			return nil, fmt.Errorf("--caller: %w", err)
		}
	}
	return client.New(serverURL, caller), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
