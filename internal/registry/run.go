package registry

import (
	"context"
	"fmt"
	"strings"

	"walletbot/internal/account"
	"walletbot/internal/config"
)

const helpText = `Register this account's wallet on the on-chain identity registry.

Usage: register [flags]

  --account <id>      account to register (default: the default account)
  --chains <list>     comma-separated chain ids, eip155 forms, or names
  --token-uri <uri>   metadata URI to register (default: from config, else generated)
  --dry-run           resolve chains and read fees without sending transactions
  --help              show this help`

// Execute parses and runs one registration request, always returning a
// human-readable text result: a report, a help text, an error list, or a
// prompt. It never panics and only returns once every chain is accounted for.
func (e *Engine) Execute(ctx context.Context, cfg *config.Config, raw string) string {
	args := ParseArgs(raw)
	if args.Help {
		return helpText
	}
	if len(args.Errors) > 0 {
		return "Cannot run registration:\n  - " + strings.Join(args.Errors, "\n  - ")
	}

	acct := account.Resolve(cfg, args.AccountID)
	if !acct.Configured {
		return fmt.Sprintf("Account %q is not configured: wallet and session secrets are both required.", acct.ID)
	}
	if acct.Address == "" {
		return fmt.Sprintf("Account %q has no derivable wallet address; check its wallet key.", acct.ID)
	}

	targets, err := ResolveTargets(args.Chains, acct.Settings.Registration)
	if err != nil {
		return "Cannot run registration: " + err.Error()
	}

	uriRes := ResolveTokenURI(args.TokenURI, acct.Settings.Registration.TokenURI, acct.ID, acct.Address)
	if uriRes.Prompt != "" {
		return uriRes.Prompt
	}

	report := Report{
		AccountID:      acct.ID,
		Address:        acct.Address,
		TokenURI:       uriRes.URI,
		TokenURISource: uriRes.Source,
		Results:        e.Register(ctx, acct, targets, uriRes.URI, args.DryRun),
	}
	return FormatReport(report)
}

// FormatReport renders the per-chain outcomes plus the summary line.
func FormatReport(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Registration for account %s (%s)\n", r.AccountID, r.Address)
	fmt.Fprintf(&b, "Token URI source: %s\n\n", r.TokenURISource)
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess:
			fmt.Fprintf(&b, "  %s (eip155:%d): registered, fee %s wei, tx %s\n",
				res.Chain, res.ChainID, res.FeeWei, res.TxHash)
		case StatusAlreadyRegistered:
			fmt.Fprintf(&b, "  %s (eip155:%d): already registered\n", res.Chain, res.ChainID)
		case StatusDryRun:
			fmt.Fprintf(&b, "  %s (eip155:%d): dry-run, fee %s wei\n",
				res.Chain, res.ChainID, res.FeeWei)
		case StatusFailed:
			fmt.Fprintf(&b, "  %s (eip155:%d): failed: %s\n", res.Chain, res.ChainID, res.Err)
		}
	}
	fmt.Fprintf(&b, "\n%s", r.Summary())
	return b.String()
}
