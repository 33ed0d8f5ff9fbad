package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <handle>",
	Short: "Send a one-time sign-in code to an email address or phone number",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <handle> <code>",
	Short: "Complete sign-in with the code sent by login",
	Args:  cobra.ExactArgs(2),
	RunE:  runVerify,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear local identity state",
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(loginCmd, verifyCmd, logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	env, err := openLocal()
	if err != nil {
		return err
	}
	if err := env.manager.SendChallenge(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Code sent to %s. Run `roster verify %s <code>`.\n", args[0], args[0])
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	env, err := openLocal()
	if err != nil {
		return err
	}
	res, err := env.manager.VerifyChallenge(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	snap := env.manager.Snapshot()
	fmt.Fprintf(out, "Signed in as %s.\n", snap.Session.OwnerID)
	switch {
	case res.IsNewIdentity || res.Profile == nil:
		fmt.Fprintln(out, "No profile yet. Run `roster profile create`.")
	case !res.Profile.HasOrganization():
		fmt.Fprintf(out, "Welcome, %s. Create or join an organization with `roster org`.\n", res.Profile.DisplayName)
	default:
		fmt.Fprintf(out, "Welcome back, %s.\n", res.Profile.DisplayName)
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	env, err := openLocal()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if snap := env.manager.Bootstrap(ctx); snap.Session == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
		return nil
	}
	env.manager.SignOut(ctx)
	fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
	return nil
}
