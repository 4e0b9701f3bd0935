package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Martian-dev/watchlane/internal/config"
	"github.com/Martian-dev/watchlane/internal/model"
)

func newUserCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "User management",
	}

	var email, name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a user by email",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var n *string
			if name != "" {
				n = &name
			}
			u, err := a.store.UpsertUser(ctx, email, n)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&email, "email", "", "Email address")
	add.Flags().StringVar(&name, "name", "", "Display name")

	cmd.AddCommand(add)
	return cmd
}

func newOrgCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Organization management",
	}

	var name, owner string
	var slaMinutes int
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an organization owned by a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return errors.New("--owner is required")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.store.CreateOrganization(ctx, name, owner)
			if err != nil {
				return err
			}
			if slaMinutes > 0 {
				settings, err := a.store.GetSettings(ctx, m.OrganizationID)
				if err != nil {
					return err
				}
				settings.SLAMinutes = &slaMinutes
				if err := a.store.UpsertSettings(ctx, settings); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.OrganizationID)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "Organization name")
	create.Flags().StringVar(&owner, "owner", "", "Owner user id")
	create.Flags().IntVar(&slaMinutes, "sla-minutes", 0, "Response SLA in minutes (default 560)")

	cmd.AddCommand(create)
	return cmd
}

func newAccountCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Email account management",
	}

	var (
		userID, orgID, provider, email, providerID string
		accessToken, refreshToken                  string
		expiresIn                                  time.Duration
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Connect a mailbox with tokens obtained from the provider's OAuth flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := model.Provider(strings.ToUpper(provider))
			if !p.Valid() {
				return fmt.Errorf("unsupported provider %q", provider)
			}
			if userID == "" || orgID == "" || email == "" || accessToken == "" {
				return errors.New("--user, --org, --email and --access-token are required")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			cipher, err := a.cipher()
			if err != nil {
				return err
			}
			access, err := cipher.Encrypt(accessToken)
			if err != nil {
				return err
			}
			var refresh string
			if refreshToken != "" {
				if refresh, err = cipher.Encrypt(refreshToken); err != nil {
					return err
				}
			}

			if providerID == "" {
				providerID = email
			}
			expires := time.Now().Add(expiresIn)
			acct, err := a.store.UpsertAccount(ctx, model.EmailAccount{
				UserID:            userID,
				OrganizationID:    orgID,
				Provider:          p,
				ProviderAccountID: providerID,
				EmailAddress:      email,
				AccessToken:       access,
				RefreshToken:      refresh,
				TokenExpiresAt:    &expires,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), acct.ID)
			return nil
		},
	}
	add.Flags().StringVar(&userID, "user", "", "Owning user id")
	add.Flags().StringVar(&orgID, "org", "", "Organization id")
	add.Flags().StringVar(&provider, "provider", "", "MICROSOFT, GOOGLE or IMAP")
	add.Flags().StringVar(&email, "email", "", "Mailbox address")
	add.Flags().StringVar(&providerID, "provider-id", "", "Provider account id (default the address)")
	add.Flags().StringVar(&accessToken, "access-token", "", "OAuth access token")
	add.Flags().StringVar(&refreshToken, "refresh-token", "", "OAuth refresh token")
	add.Flags().DurationVar(&expiresIn, "expires-in", time.Hour, "Access token lifetime")

	cmd.AddCommand(add)
	return cmd
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config management",
	}

	var showSecrets bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if !showSecrets {
				cfg = config.Redact(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	show.Flags().BoolVar(&showSecrets, "show-secrets", false, "Show secrets in output")

	cmd.AddCommand(show)
	return cmd
}
