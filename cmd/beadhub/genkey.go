package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a random internal-auth secret",
	Long: `Generate a random 32-byte hex secret suitable for
BEADHUB_INTERNAL_AUTH_SECRET, the HMAC key a trusted reverse proxy uses
to sign the X-BH-Auth header when forwarding a dashboard's proxy-mode
requests.`,
	RunE: runGenkey,
}

func init() {
	rootCmd.AddCommand(genkeyCmd)
}

func runGenkey(cmd *cobra.Command, args []string) error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("generating secret: %w", err)
	}
	fmt.Println(hex.EncodeToString(buf))
	return nil
}
