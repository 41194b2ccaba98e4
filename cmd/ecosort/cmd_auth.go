package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ecosort/internal/remote"
)

var (
	registerEmail   string
	registerName    string
	registerAddress string
	registerRole    string
	registerSecret  string

	loginSecret string

	profileName    string
	profileAddress string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closer, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		err = s.Register(cmd.Context(), remote.Profile{
			Email:       registerEmail,
			DisplayName: registerName,
			Address:     registerAddress,
			Role:        strings.ToUpper(registerRole),
		}, registerSecret)
		if err != nil {
			return err
		}

		ident := s.Identity()
		fmt.Printf("Registered %s (%s) as %s\n", ident.DisplayName, ident.Email, ident.Role)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in with an existing account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closer, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		if err := s.Login(cmd.Context(), args[0], loginSecret); err != nil {
			return err
		}

		ident := s.Identity()
		fmt.Printf("Signed in as %s (%s)\n", ident.DisplayName, ident.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the local session",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closer, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		s.Logout(cmd.Context())
		fmt.Println("Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closer, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		ident := s.Identity()
		if ident == nil {
			fmt.Println("Not signed in")
			return nil
		}
		fmt.Printf("%s <%s>\nRole:    %s\nAddress: %s\n",
			ident.DisplayName, ident.Email, ident.Role, ident.Address)
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update the current identity's name or address",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closer, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closer()

		patch := remote.ProfilePatch{}
		if cmd.Flags().Changed("name") {
			patch.DisplayName = &profileName
		}
		if cmd.Flags().Changed("address") {
			patch.Address = &profileAddress
		}
		if patch.DisplayName == nil && patch.Address == nil {
			return fmt.Errorf("nothing to update, pass --name or --address")
		}

		ident, err := s.UpdateProfile(cmd.Context(), patch)
		if err != nil {
			return err
		}
		fmt.Printf("Profile updated: %s, %s\n", ident.DisplayName, ident.Address)
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "account email")
	registerCmd.Flags().StringVar(&registerName, "name", "", "display name")
	registerCmd.Flags().StringVar(&registerAddress, "address", "", "pickup address")
	registerCmd.Flags().StringVar(&registerRole, "role", "REQUESTER", "REQUESTER or COLLECTOR")
	registerCmd.Flags().StringVar(&registerSecret, "password", "", "account password")
	_ = registerCmd.MarkFlagRequired("email")
	_ = registerCmd.MarkFlagRequired("password")

	loginCmd.Flags().StringVar(&loginSecret, "password", "", "account password")
	_ = loginCmd.MarkFlagRequired("password")

	profileCmd.Flags().StringVar(&profileName, "name", "", "new display name")
	profileCmd.Flags().StringVar(&profileAddress, "address", "", "new pickup address")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd, profileCmd)
}
