// Command threadkit is the operator CLI: tenant provisioning and role
// management against the same Redis the API serves from.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/config"
	"github.com/threadkit/threadkit/internal/indexes"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/sites"
	"github.com/threadkit/threadkit/internal/users"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type cliEnv struct {
	rdb    *cache.RedisClient
	sites  *sites.Store
	users  *users.Store
	keeper *indexes.Keeper
}

func connect() (*cliEnv, error) {
	_ = godotenv.Load()
	cfg := config.Load()
	rdb, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return &cliEnv{
		rdb:    rdb,
		sites:  sites.NewStore(rdb),
		users:  users.NewStore(rdb),
		keeper: indexes.NewKeeper(rdb),
	}, nil
}

func cliContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "threadkit",
		Short:         "ThreadKit operations CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(siteCmd(), adminCmd())
	return root
}

func siteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "site", Short: "Manage tenant sites"}
	cmd.AddCommand(siteCreateCmd(), siteListCmd(), siteShowCmd())
	return cmd
}

func siteCreateCmd() *cobra.Command {
	var name, domain, moderation string
	var allowAnonymous bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a site and print its API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := connect()
			if err != nil {
				return err
			}
			defer env.rdb.Close()
			ctx, cancel := cliContext()
			defer cancel()

			site := models.NewSite(name, domain)
			site.Settings.AllowAnonymous = allowAnonymous
			if moderation != "" {
				mode := models.ModerationMode(moderation)
				if !mode.Valid() {
					return fmt.Errorf("invalid moderation mode %q", moderation)
				}
				site.Settings.ModerationMode = mode
			}
			if err := env.sites.Save(ctx, site); err != nil {
				return err
			}

			fmt.Println("site created")
			printSite(site, true)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&domain, "domain", "", "site domain, used for origin checks")
	cmd.Flags().StringVar(&moderation, "moderation", "", "moderation mode: none, pre, or post")
	cmd.Flags().BoolVar(&allowAnonymous, "allow-anonymous", false, "allow unauthenticated comments")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func siteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sites",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := connect()
			if err != nil {
				return err
			}
			defer env.rdb.Close()
			ctx, cancel := cliContext()
			defer cancel()

			all, err := env.sites.List(ctx)
			if err != nil {
				return err
			}
			for _, site := range all {
				fmt.Printf("%s  %-24s %s\n", site.ID, site.Name, site.Domain)
			}
			fmt.Printf("%d site(s)\n", len(all))
			return nil
		},
	}
}

func siteShowCmd() *cobra.Command {
	var withSecrets bool
	cmd := &cobra.Command{
		Use:   "show <site-id>",
		Short: "Show one site's config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := connect()
			if err != nil {
				return err
			}
			defer env.rdb.Close()
			ctx, cancel := cliContext()
			defer cancel()

			site, err := env.sites.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if site == nil {
				return fmt.Errorf("site %s not found", args[0])
			}
			printSite(site, withSecrets)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSecrets, "secrets", false, "include the secret API key")
	return cmd
}

func printSite(site *models.Site, withSecrets bool) {
	fmt.Printf("id:              %s\n", site.ID)
	fmt.Printf("name:            %s\n", site.Name)
	fmt.Printf("domain:          %s\n", site.Domain)
	fmt.Printf("public key:      %s\n", site.APIKeyPublic)
	if withSecrets {
		fmt.Printf("secret key:      %s\n", site.APIKeySecret)
	}
	fmt.Printf("moderation:      %s\n", site.Settings.ModerationMode)
	fmt.Printf("anonymous:       %v\n", site.Settings.AllowAnonymous)
	fmt.Printf("created:         %s\n", time.UnixMilli(site.CreatedAt).Format(time.RFC3339))
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Manage site admins"}
	cmd.AddCommand(adminPromoteCmd())
	return cmd
}

func adminPromoteCmd() *cobra.Command {
	var siteID, emailAddr string
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Grant a user the admin role on a site",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := connect()
			if err != nil {
				return err
			}
			defer env.rdb.Close()
			ctx, cancel := cliContext()
			defer cancel()

			site, err := env.sites.Get(ctx, siteID)
			if err != nil {
				return err
			}
			if site == nil {
				return fmt.Errorf("site %s not found", siteID)
			}
			user, err := env.users.ByEmail(ctx, emailAddr)
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("no user with email %s", emailAddr)
			}
			if err := env.keeper.SetRole(ctx, site.ID, user.ID, models.RoleAdmin); err != nil {
				return err
			}
			fmt.Printf("%s is now an admin of %s\n", user.Name, site.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&siteID, "site", "", "site id")
	cmd.Flags().StringVar(&emailAddr, "email", "", "user's email address")
	_ = cmd.MarkFlagRequired("site")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
