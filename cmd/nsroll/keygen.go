package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/ed25519"
	"github.com/colorfulnotion/nsroll/voting"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	var (
		owners     int
		validators int
		label      string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print deterministic dev owner and validator keys",
		Run: func(cmd *cobra.Command, args []string) {
			printKeys(cmd.OutOrStdout(), owners, validators, label)
		},
	}
	cmd.Flags().IntVar(&owners, "owners", 5, "Number of owner accounts (at most 5)")
	cmd.Flags().IntVar(&validators, "validators", 4, "Number of validator keys")
	cmd.Flags().StringVar(&label, "label", "genesis", "Validator committee label")
	return cmd
}

func printKeys(w io.Writer, owners, validators int, label string) {
	fmt.Fprintf(w, "owners (secp256k1)\n")
	for i := 0; i < min(owners, 5); i++ {
		addr, priv := common.GetDevAccount(i)
		fmt.Fprintf(w, "  %d %s 0x%s\n", i, addr.Hex(), priv)
	}
	fmt.Fprintf(w, "validators %q (ed25519)\n", label)
	for i, k := range devValidators(label, validators) {
		pub := ed25519.Public(k)
		fmt.Fprintf(w, "  %d pub=%s identity=%s\n", i, hex.EncodeToString(pub), voting.IdentityHash(pub))
	}
}
