package main

import (
	"fmt"
	"os"

	"walletbot/internal/account"
	"walletbot/internal/config"
	"walletbot/internal/registry"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the walletbot configuration",
		Long: `Verifies that the configuration, account secrets, derived addresses and
registration targets are correctly set up. Reports pass/fail for each check.
No network calls are made.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("walletbot doctor v%s\n\n", version)

			passed := 0
			failed := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'walletbot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			ids := account.ListIDs(cfg)
			if len(ids) == 0 {
				printFail("Accounts", "no accounts configured (no secrets, no accounts map)")
				failed++
			} else {
				printPass("Accounts", fmt.Sprintf("%d found", len(ids)))
				passed++
			}

			for _, id := range ids {
				acct := account.Resolve(cfg, id)
				label := "Account " + id

				switch {
				case !acct.Configured:
					printFail(label, fmt.Sprintf("missing secrets (wallet: %s, session: %s)",
						acct.WalletKeySource, acct.SessionKeySource))
					failed++
				case acct.Address == "":
					printFail(label, "wallet key present but no address derivable")
					failed++
				default:
					printPass(label, acct.Address)
					passed++
				}

				if _, err := registry.ResolveTargets(nil, acct.Settings.Registration); err != nil {
					printFail(label+" registration chains", err.Error())
					failed++
				} else {
					printPass(label+" registration chains", "resolvable")
					passed++
				}
			}

			fmt.Printf("\n%d passed, %d failed\n", passed, failed)
			return nil
		},
	}
}

func printPass(check, detail string) {
	fmt.Printf("  ok    %-32s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  FAIL  %-32s %s\n", check, detail)
}
