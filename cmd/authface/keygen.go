package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rl337/authface/services/token"
	"github.com/spf13/cobra"
)

const (
	privateKeyFile = "jwt_private_key.pem"
	publicKeyFile  = "jwt_public_key.pem"
)

func newKeygenCmd() *cobra.Command {
	var (
		outDir string
		bits   int
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RS256 signing key pair",
		Long: `Generate an RSA key pair for signing bearer tokens.

The private key is written as PKCS#8 PEM with mode 0600 and the public key as
PKIX PEM with mode 0644. Point JWT_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH at
the two files.

Examples:
  authface keygen --out-dir /etc/authface
  authface keygen --out-dir ./keys --bits 4096`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			privatePath, publicPath, err := writeKeyPair(outDir, bits, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "JWT_PRIVATE_KEY_PATH=%s\nJWT_PUBLIC_KEY_PATH=%s\n", privatePath, publicPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out-dir", ".", "Directory to write the key pair into")
	cmd.Flags().IntVar(&bits, "bits", token.MinKeyBits, "RSA modulus size in bits")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing key files")
	return cmd
}

func writeKeyPair(outDir string, bits int, force bool) (privatePath, publicPath string, err error) {
	privatePath = filepath.Join(outDir, privateKeyFile)
	publicPath = filepath.Join(outDir, publicKeyFile)

	if !force {
		for _, p := range []string{privatePath, publicPath} {
			if _, err := os.Stat(p); err == nil {
				return "", "", fmt.Errorf("%s already exists (use --force to overwrite)", p)
			}
		}
	}

	privPEM, pubPEM, err := token.GenerateKeyPair(bits)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(privatePath, privPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, pubPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("write public key: %w", err)
	}
	return privatePath, publicPath, nil
}
