package cmd

import (
	"errors"
	"fmt"

	"github.com/autisense/autisense/internal/identity"

	"github.com/spf13/cobra"
)

var flagIdentityYes bool

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show or reset this device's anonymous user id",
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the anonymous user id, creating one on first use",
	Args:  cobra.NoArgs,
	RunE:  runIdentityShow,
}

var identityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the anonymous id; the next session gets a fresh one",
	Args:  cobra.NoArgs,
	RunE:  runIdentityReset,
}

func init() {
	identityResetCmd.Flags().BoolVar(&flagIdentityYes, "yes", false, "Confirm the reset")
	identityCmd.AddCommand(identityShowCmd, identityResetCmd)
	rootCmd.AddCommand(identityCmd)
}

func runIdentityShow(_ *cobra.Command, _ []string) error {
	id, err := currentUser()
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runIdentityReset(_ *cobra.Command, _ []string) error {
	if !flagIdentityYes {
		return errors.New("existing sessions keep the old id; re-run with --yes to reset")
	}
	if err := identity.Clear(flagDataDir); err != nil {
		return err
	}
	fmt.Printf("  Removed %s\n", identity.Path(flagDataDir))
	return nil
}
