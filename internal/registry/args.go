package registry

import (
	"fmt"
	"strings"
)

// Args is the parsed form of a registration request.
type Args struct {
	Help      bool
	AccountID string
	TokenURI  string
	Chains    []string
	DryRun    bool
	// Errors collects unknown flags and malformed values; parsing never
	// aborts early, so every recognizable flag is still honored.
	Errors []string
}

// ParseArgs parses the free-text argument string of a registration request.
// Quoted substrings stay intact; flags accept both "--key=value" and
// "--key value" forms.
func ParseArgs(raw string) Args {
	var args Args
	tokens := tokenize(raw)

	// Tolerate the triggering command itself being included.
	if len(tokens) > 0 && strings.HasPrefix(tokens[0], "/") {
		tokens = tokens[1:]
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		name, val, hasVal := strings.Cut(tok, "=")

		takeValue := func() (string, bool) {
			if hasVal {
				return val, true
			}
			if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "-") {
				i++
				return tokens[i], true
			}
			return "", false
		}

		switch name {
		case "--help", "-h", "help":
			args.Help = true
		case "--dry-run", "--dryrun":
			args.DryRun = true
		case "--account":
			v, ok := takeValue()
			if !ok {
				args.Errors = append(args.Errors, "--account requires a value")
				continue
			}
			args.AccountID = v
		case "--token-uri", "--uri":
			v, ok := takeValue()
			if !ok {
				args.Errors = append(args.Errors, name+" requires a value")
				continue
			}
			args.TokenURI = v
		case "--chains", "--chain":
			v, ok := takeValue()
			if !ok {
				args.Errors = append(args.Errors, name+" requires a value")
				continue
			}
			for _, c := range strings.Split(v, ",") {
				if strings.TrimSpace(c) != "" {
					args.Chains = append(args.Chains, strings.TrimSpace(c))
				}
			}
		default:
			if strings.HasPrefix(name, "-") {
				args.Errors = append(args.Errors, fmt.Sprintf("unknown flag: %s", name))
			} else {
				args.Errors = append(args.Errors, fmt.Sprintf("unexpected argument: %s", tok))
			}
		}
	}
	return args
}

// tokenize splits on whitespace while keeping single- or double-quoted
// substrings together (quotes stripped).
func tokenize(raw string) []string {
	var (
		tokens  []string
		current strings.Builder
		quote   rune
		have    bool
	)
	flush := func() {
		if have {
			tokens = append(tokens, current.String())
			current.Reset()
			have = false
		}
	}
	for _, r := range raw {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			have = true
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			current.WriteRune(r)
			have = true
		}
	}
	flush()
	return tokens
}
