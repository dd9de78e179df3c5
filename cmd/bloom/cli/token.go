package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/token"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
		Long:  "Create, list, and revoke API tokens used to authenticate against the Bloom REST API.",
	}

	cmd.AddCommand(newTokenCreateCmd())
	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenRevokeCmd())

	return cmd
}

// ---------- token create ----------

func newTokenCreateCmd() *cobra.Command {
	var (
		username    string
		name        string
		permissions []string
		days        int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API token",
		Long:  "Generate a new API token owned by a staff account. The raw token is shown once and cannot be retrieved again.",
		Example: `  bloom token create --user anna --name "CI pipeline" --permissions read,write
  bloom token create --user anna --name "read only" --permissions read --days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenCreate(username, name, permissions, days)
		},
	}

	cmd.Flags().StringVar(&username, "user", "", "Owning staff username (required)")
	cmd.Flags().StringVar(&name, "name", "", "Token label (required)")
	cmd.Flags().StringSliceVar(&permissions, "permissions", []string{"read"}, "Comma-separated permissions: read, write, admin")
	cmd.Flags().IntVar(&days, "days", 90, "Days until expiry (max 365)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runTokenCreate(username, name string, permissions []string, days int) error {
	if n := utf8.RuneCountInString(name); n < 1 || n > 100 {
		return fmt.Errorf("name must be 1-100 characters")
	}
	if days < 1 || days > 365 {
		return fmt.Errorf("days must be 1-365")
	}
	perms := make([]model.Permission, 0, len(permissions))
	for _, p := range permissions {
		perm := model.Permission(strings.TrimSpace(p))
		if !model.ValidPermission(perm) {
			return fmt.Errorf("unknown permission %q (use read, write, admin)", p)
		}
		perms = append(perms, perm)
	}
	if len(perms) == 0 {
		return fmt.Errorf("at least one permission is required")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	user, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("staff account %q not found", username)
	}

	cred, err := token.Generate()
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}

	tok := &model.APIToken{
		UserID:      user.ID,
		Name:        name,
		TokenHash:   cred.Hash,
		TokenPrefix: cred.Prefix,
		Permissions: perms,
		IsActive:    true,
		ExpiresAt:   time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour),
	}
	if err := st.CreateAPIToken(ctx, tok); err != nil {
		return fmt.Errorf("create token: %w", err)
	}

	fmt.Println("API token created:")
	fmt.Println()
	fmt.Printf("  Token:       %s\n", cred.Raw)
	fmt.Printf("  Owner:       %s\n", username)
	fmt.Printf("  Permissions: %s\n", strings.Join(permissions, ", "))
	fmt.Printf("  Expires:     %s\n", tok.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Save this token now - it cannot be retrieved again.")
	return nil
}

// ---------- token list ----------

func newTokenListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runTokenList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	tokens, err := st.ListAPITokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}

	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	usernames := make(map[int64]string, len(users))
	for _, u := range users {
		usernames[u.ID] = u.Username
	}

	type tokenRow struct {
		Prefix      string             `json:"prefix"`
		Name        string             `json:"name"`
		Owner       string             `json:"owner"`
		Permissions []model.Permission `json:"permissions"`
		Active      bool               `json:"active"`
		Expires     string             `json:"expires"`
		Uses        int64              `json:"uses"`
	}

	rows := make([]tokenRow, len(tokens))
	for i, t := range tokens {
		owner := usernames[t.UserID]
		if owner == "" {
			owner = fmt.Sprintf("user:%d", t.UserID)
		}
		rows[i] = tokenRow{
			Prefix:      t.TokenPrefix,
			Name:        t.Name,
			Owner:       owner,
			Permissions: t.Permissions,
			Active:      t.Usable(time.Now()),
			Expires:     t.ExpiresAt.Format("2006-01-02"),
			Uses:        t.UsageCount,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API tokens. Use 'bloom token create' to create one.")
		return nil
	}

	fmt.Printf("%-14s %-24s %-16s %-8s %-12s %-8s\n", "PREFIX", "NAME", "OWNER", "ACTIVE", "EXPIRES", "USES")
	fmt.Printf("%-14s %-24s %-16s %-8s %-12s %-8s\n", "------", "----", "-----", "------", "-------", "----")
	for _, row := range rows {
		active := "yes"
		if !row.Active {
			active = "no"
		}
		fmt.Printf("%-14s %-24s %-16s %-8s %-12s %-8d\n", row.Prefix, row.Name, row.Owner, active, row.Expires, row.Uses)
	}

	return nil
}

// ---------- token revoke ----------

func newTokenRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke an API token by its prefix",
		Long:  "Deactivate an API token, preventing any further authenticated requests with it. Revocation is permanent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenRevoke(args[0])
		},
	}
	return cmd
}

func runTokenRevoke(prefix string) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	tokens, err := st.ListAPITokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}

	var matches []model.APIToken
	for _, t := range tokens {
		if strings.HasPrefix(t.TokenPrefix, prefix) {
			matches = append(matches, t)
		}
	}
	if len(matches) == 0 {
		return fmt.Errorf("no token with prefix %q", prefix)
	}
	if len(matches) > 1 {
		return fmt.Errorf("prefix %q matches %d tokens, be more specific", prefix, len(matches))
	}

	tok := matches[0]
	if tok.RevokedAt != nil {
		fmt.Printf("Token %s is already revoked.\n", tok.TokenPrefix)
		return nil
	}

	if err := st.RevokeAPIToken(ctx, tok.ID, tok.UserID); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}

	fmt.Printf("Revoked token %s (%q)\n", tok.TokenPrefix, tok.Name)
	return nil
}
