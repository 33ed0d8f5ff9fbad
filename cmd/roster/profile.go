package main

import (
	"errors"
	"fmt"

	"github.com/alecgard/roster/internal/profile"
	"github.com/spf13/cobra"
)

// creatorRole is the role given to the identity that creates an organization.
const creatorRole = "admin"

var (
	profileFirst string
	profileLast  string
	profileEmail string
	joinRole     string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or register the signed-in identity's profile",
	RunE:  runProfileShow,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a profile for the signed-in identity",
	RunE:  runProfileCreate,
}

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Create or join an organization",
}

var orgCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an organization and join it",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrgCreate,
}

var orgJoinCmd = &cobra.Command{
	Use:   "join <org-id>",
	Short: "Join an existing organization",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrgJoin,
}

func init() {
	profileCreateCmd.Flags().StringVar(&profileFirst, "first", "", "first name (required)")
	profileCreateCmd.Flags().StringVar(&profileLast, "last", "", "last name")
	profileCreateCmd.Flags().StringVar(&profileEmail, "email", "", "contact email (required)")
	_ = profileCreateCmd.MarkFlagRequired("first")
	_ = profileCreateCmd.MarkFlagRequired("email")
	profileCmd.AddCommand(profileCreateCmd)

	orgJoinCmd.Flags().StringVar(&joinRole, "role", profile.DefaultRole, "role within the organization")
	orgCmd.AddCommand(orgCreateCmd, orgJoinCmd)

	rootCmd.AddCommand(profileCmd, orgCmd)
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	env, err := openLocal()
	if err != nil {
		return err
	}
	snap, err := env.signedIn(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if snap.Profile == nil {
		if snap.Err != nil {
			return fmt.Errorf("profile unavailable: %w", snap.Err)
		}
		fmt.Fprintln(out, "No profile yet. Run `roster profile create`.")
		return nil
	}
	p := snap.Profile
	fmt.Fprintf(out, "ID:       %s\n", p.ID)
	fmt.Fprintf(out, "Name:     %s\n", p.DisplayName)
	fmt.Fprintf(out, "Email:    %s\n", p.Email)
	fmt.Fprintf(out, "Role:     %s\n", p.Role)
	if p.HasOrganization() {
		fmt.Fprintf(out, "Org:      %s\n", *p.OrgID)
	}
	if !snap.Verified {
		fmt.Fprintln(out, "(cached, not confirmed with the server)")
	}
	return nil
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	env, err := openLocal()
	if err != nil {
		return err
	}
	snap, err := env.signedIn(cmd.Context())
	if err != nil {
		return err
	}
	if snap.Profile != nil {
		return errors.New("a profile already exists for this identity")
	}

	p, err := env.manager.CreateProfile(cmd.Context(), profile.CreateInput{
		FirstName: profileFirst,
		LastName:  profileLast,
		Email:     profileEmail,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Profile created for %s. Create or join an organization with `roster org`.\n", p.DisplayName)
	return nil
}

func runOrgCreate(cmd *cobra.Command, args []string) error {
	env, err := openLocal()
	if err != nil {
		return err
	}
	if _, err := env.signedIn(cmd.Context()); err != nil {
		return err
	}

	org, err := env.client.CreateOrganization(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("creating organization: %w", err)
	}
	if err := join(cmd, env, org.ID, creatorRole); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s) and joined as %s.\n", org.Name, org.ID, creatorRole)
	return nil
}

func runOrgJoin(cmd *cobra.Command, args []string) error {
	env, err := openLocal()
	if err != nil {
		return err
	}
	if _, err := env.signedIn(cmd.Context()); err != nil {
		return err
	}
	if err := join(cmd, env, args[0], joinRole); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Joined %s as %s.\n", args[0], joinRole)
	return nil
}

// join performs the remote attach and then records it locally.
func join(cmd *cobra.Command, env *localEnv, orgID, role string) error {
	p, err := env.client.AttachOrganization(cmd.Context(), orgID, role)
	if err != nil {
		return fmt.Errorf("joining organization: %w", err)
	}
	if p.OrgID != nil {
		orgID = *p.OrgID
	}
	if p.Role != "" {
		role = p.Role
	}
	return env.manager.AttachOrganization(orgID, role)
}
