// Command authface runs the authentication gateway and its key tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "authface",
		Short: "OIDC authentication gateway",
		Long: `authface signs users in through external OpenID Connect providers,
assigns each identity a service tier, and issues RS256 bearer tokens that
downstream services verify with the published key set.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newKeygenCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
