package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bloomworks/bloom/internal/auth"
	"github.com/bloomworks/bloom/internal/model"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage staff accounts",
		Long:  "Create and list staff accounts that log into the admin CMS.",
	}

	cmd.AddCommand(newAdminCreateCmd())
	cmd.AddCommand(newAdminListCmd())

	return cmd
}

// ---------- admin create ----------

func newAdminCreateCmd() *cobra.Command {
	var (
		username string
		password string
		name     string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new staff account",
		Example: `  bloom admin create --username anna --role super_admin
  bloom admin create --username boris --role editor --password secret123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminCreate(username, password, name, role)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Login username (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&role, "role", string(model.RoleSuperAdmin), "Role: super_admin, manager, or editor")
	cmd.MarkFlagRequired("username")

	return cmd
}

func runAdminCreate(username, password, name, role string) error {
	if !model.ValidRole(model.Role(role)) {
		return fmt.Errorf("unknown role %q (use super_admin, manager, or editor)", role)
	}

	if password == "" {
		fmt.Print("Password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Println()
		password = string(pwBytes)

		fmt.Print("Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Println()

		if password != string(confirmBytes) {
			return fmt.Errorf("passwords do not match")
		}
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	if name == "" {
		name = username
	}
	user := &model.User{
		Username:     username,
		PasswordHash: hash,
		Name:         name,
		Role:         model.Role(role),
		IsActive:     true,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	fmt.Printf("Created %s account %q (id %d)\n", role, username, user.ID)
	return nil
}

// ---------- admin list ----------

func newAdminListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List staff accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAdminList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No staff accounts yet. Use 'bloom admin create' to add one.")
		return nil
	}

	fmt.Printf("%-20s %-24s %-12s %-8s\n", "USERNAME", "NAME", "ROLE", "ACTIVE")
	fmt.Printf("%-20s %-24s %-12s %-8s\n", "--------", "----", "----", "------")
	for _, u := range users {
		active := "yes"
		if !u.IsActive {
			active = "no"
		}
		fmt.Printf("%-20s %-24s %-12s %-8s\n", u.Username, u.Name, u.Role, active)
	}

	return nil
}
