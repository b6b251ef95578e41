package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyfrworks/cyfr/internal/domain/auth"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate SHA-256 hash for an API key",
	Long: `Generate the SHA-256 hash of a raw API key for use in a seed
config or direct sqlstore insert, matching the value api_keys.key_hash
stores.

Example:
  cyfrd hash-key "cyfr_sk_..."

Security note: the key will appear in shell history. Consider clearing
history after use or passing it via an environment variable.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(auth.HashKey(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
