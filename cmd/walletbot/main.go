package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"walletbot/internal/account"
	"walletbot/internal/config"
	"walletbot/internal/registry"
	"walletbot/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "walletbot",
		Short:   "walletbot: wallet-identity-addressed messaging endpoint",
		Long:    "walletbot resolves per-wallet accounts, gates inbound messages through trust policies, relays approved messages to an agent, and registers wallets on the on-chain identity registry.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.walletbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(accountsCmd())
	root.AddCommand(addressesCmd())
	root.AddCommand(registerCmd())
	root.AddCommand(pairCmd())
	root.AddCommand(activityCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	return config.Load(resolveConfigPath())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and storage directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.Channel.StoragePath), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "storage", cfg.Channel.StoragePath)
			return nil
		},
	}
}

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List configured accounts and their resolution state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ids := account.ListIDs(cfg)
			if len(ids) == 0 {
				fmt.Println("No accounts configured. Set channel secrets or an accounts map.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tENABLED\tCONFIGURED\tWALLET KEY\tSESSION KEY\tADDRESS")
			for _, id := range ids {
				acct := account.Resolve(cfg, id)
				addr := acct.Address
				if addr == "" {
					addr = "-"
				}
				fmt.Fprintf(w, "%s\t%v\t%v\t%s\t%s\t%s\n",
					acct.ID, acct.Enabled, acct.Configured,
					acct.WalletKeySource, acct.SessionKeySource, addr)
			}
			return w.Flush()
		},
	}
}

func addressesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "addresses",
		Short: "Show derived wallet addresses for all accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ids := account.ListIDs(cfg)
			if len(ids) == 0 {
				fmt.Println("No accounts configured.")
				return nil
			}
			for _, id := range ids {
				acct := account.Resolve(cfg, id)
				if acct.Address == "" {
					fmt.Printf("%s: no address (wallet key %s)\n", acct.ID, acct.WalletKeySource)
					continue
				}
				fmt.Printf("%s: %s\n", acct.ID, acct.Address)
			}
			return nil
		},
	}
}

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "register [flags]",
		Short:              "Register an account's wallet on the identity registry",
		DisableFlagParsing: true, // the engine owns the flag surface
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng := registry.NewEngine(logger)
			fmt.Println(eng.Execute(cmd.Context(), cfg, strings.Join(args, " ")))
			return nil
		},
	}
	return cmd
}

func pairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Manage pairing requests",
	}

	var channel string
	cmd.PersistentFlags().StringVar(&channel, "channel", "wallet", "pairing channel")

	list := &cobra.Command{
		Use:   "list",
		Short: "List pairing requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, s *store.Store) error {
				pairings, err := s.ListPairings(ctx, channel)
				if err != nil {
					return err
				}
				if len(pairings) == 0 {
					fmt.Println("No pairing requests.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SENDER\tACCOUNT\tCODE\tSTATE\tCREATED")
				for _, p := range pairings {
					state := "pending"
					if p.Approved {
						state = "approved"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						p.SenderID, p.AccountID, p.Code, state,
						p.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}

	approve := &cobra.Command{
		Use:   "approve",
		Short: "Approve a pending pairing request by code",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("code")
			if code == "" {
				return fmt.Errorf("--code is required")
			}
			return withStore(func(ctx context.Context, s *store.Store) error {
				sender, err := s.Approve(ctx, channel, code)
				if err != nil {
					return err
				}
				fmt.Printf("Approved %s. The sender can now message this account.\n", sender)
				return nil
			})
		},
	}
	approve.Flags().String("code", "", "pairing code from the request")

	revoke := &cobra.Command{
		Use:   "revoke <sender>",
		Short: "Remove a sender's pairing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, s *store.Store) error {
				if err := s.Revoke(ctx, channel, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s.\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, approve, revoke)
	return cmd
}

func activityCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent message activity per account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, s *store.Store) error {
				since := time.Now().AddDate(0, 0, -days)
				summaries, err := s.ActivitySummaries(ctx, since)
				if err != nil {
					return err
				}
				if len(summaries) == 0 {
					fmt.Println("No activity recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ACCOUNT\tINBOUND\tOUTBOUND")
				for _, a := range summaries {
					fmt.Fprintf(w, "%s\t%d\t%d\n", a.AccountID, a.Inbound, a.Outbound)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "look-back window in days")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <path>",
		Short: "Get a config value by dot-notation path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(val)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a config value by dot-notation path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			return config.Save(resolveConfigPath(), cfg)
		},
	}

	cmd.AddCommand(show, get, set)
	return cmd
}

// withStore opens the pairing/activity database for a one-shot CLI action.
func withStore(fn func(ctx context.Context, s *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := store.New(cfg.General.DBPath, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(context.Background(), s)
}
