package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/hostscan/pkg/auth"
	hstls "github.com/psantana5/hostscan/pkg/tls"
)

var (
	certFile     string
	keyFile      string
	certHosts    []string
	certValidFor time.Duration
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an API key for the HTTP agent",
	Long: `Prints a new API key and its bcrypt hash. Put the hash under serve.api_key_hashes
and give the key to the callers; it is not stored anywhere.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, hash, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		fmt.Printf("API key:  %s\n", key)
		fmt.Printf("Hash:     %s\n", hash)
		fmt.Println("\nAdd the hash to your config:")
		fmt.Printf("  serve:\n    api_key_hashes: [%q]\n", hash)
		return nil
	},
}

var certgenCmd = &cobra.Command{
	Use:   "certgen",
	Short: "Write a self-signed TLS certificate for the HTTP agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "hostscan"
		}
		if err := hstls.GenerateSelfSignedCert(certFile, keyFile, hostname, certValidFor, certHosts...); err != nil {
			return err
		}
		fmt.Printf("✓ Certificate written to %s (key: %s)\n", certFile, keyFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(certgenCmd)

	certgenCmd.Flags().StringVar(&certFile, "cert", "hostscan.crt", "certificate output path")
	certgenCmd.Flags().StringVar(&keyFile, "key", "hostscan.key", "private key output path")
	certgenCmd.Flags().StringSliceVar(&certHosts, "host", nil, "extra IP addresses or DNS names")
	certgenCmd.Flags().DurationVar(&certValidFor, "valid-for", 365*24*time.Hour, "certificate lifetime")
}
