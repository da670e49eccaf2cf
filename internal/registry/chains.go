package registry

import (
	"fmt"
	"strconv"
	"strings"

	"walletbot/internal/config"

	"github.com/ethereum/go-ethereum/common"
)

// defaultRegistry is the identity registry's deterministic deployment
// address, shared across supported chains.
const defaultRegistry = "0x00000000fc6c5f01fc30151999387bb99a9f489b"

// chainInfo is one supported chain: canonical name, resolution aliases,
// public default RPC endpoint and registry address.
type chainInfo struct {
	id       uint64
	name     string
	aliases  []string
	rpcURL   string
	registry string
}

var knownChains = []chainInfo{
	{1, "mainnet", []string{"ethereum", "eth", "eth-mainnet"}, "https://eth.llamarpc.com", defaultRegistry},
	{11155111, "sepolia", []string{"eth-sepolia", "ethereum-sepolia"}, "https://ethereum-sepolia-rpc.publicnode.com", defaultRegistry},
	{8453, "base", []string{"base-mainnet"}, "https://mainnet.base.org", defaultRegistry},
	{84532, "base-sepolia", []string{"basesepolia"}, "https://sepolia.base.org", defaultRegistry},
	{10, "optimism", []string{"op", "op-mainnet"}, "https://mainnet.optimism.io", defaultRegistry},
	{42161, "arbitrum", []string{"arbitrum-one", "arb"}, "https://arb1.arbitrum.io/rpc", defaultRegistry},
	{137, "polygon", []string{"matic", "polygon-pos"}, "https://polygon-rpc.com", defaultRegistry},
}

// aliasIndex maps every accepted spelling (numeric id, eip155 form, names
// and aliases in canonical form) to its chain. Built once at startup.
var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]*chainInfo {
	idx := make(map[string]*chainInfo)
	for i := range knownChains {
		c := &knownChains[i]
		id := strconv.FormatUint(c.id, 10)
		idx[id] = c
		idx["eip155:"+id] = c
		idx[canonicalAlias(c.name)] = c
		for _, a := range c.aliases {
			idx[canonicalAlias(a)] = c
		}
	}
	return idx
}

// canonicalAlias lower-cases and strips punctuation so "Base Sepolia",
// "base-sepolia" and "base_sepolia" all resolve alike.
func canonicalAlias(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lookupChain(input string) *chainInfo {
	in := strings.ToLower(strings.TrimSpace(input))
	if c, ok := aliasIndex[in]; ok {
		return c
	}
	if c, ok := aliasIndex[canonicalAlias(in)]; ok {
		return c
	}
	return nil
}

// Target is one fully resolved registration destination.
type Target struct {
	ChainID  uint64
	Name     string
	RPCURL   string
	Registry common.Address
}

// ResolveTargets resolves the requested chain inputs, falling back to the
// account's configured default chains, then to mainnet alone. Duplicates
// dedupe in first-seen order; any unresolvable input fails the whole call,
// naming every unresolved input.
func ResolveTargets(requested []string, reg config.RegistrationConfig) ([]Target, error) {
	inputs := requested
	if len(inputs) == 0 {
		inputs = reg.Chains
	}
	if len(inputs) == 0 {
		inputs = []string{"mainnet"}
	}

	var (
		targets    []Target
		seen       = make(map[uint64]bool)
		unresolved []string
	)
	for _, in := range inputs {
		if strings.TrimSpace(in) == "" {
			continue
		}
		c := lookupChain(in)
		if c == nil {
			unresolved = append(unresolved, strings.TrimSpace(in))
			continue
		}
		if seen[c.id] {
			continue
		}
		seen[c.id] = true

		rpcURL, err := resolveRPC(c, reg.RPCOverrides)
		if err != nil {
			return nil, err
		}
		registry, err := resolveRegistry(c, reg.RegistryOverrides)
		if err != nil {
			return nil, err
		}
		targets = append(targets, Target{
			ChainID:  c.id,
			Name:     c.name,
			RPCURL:   rpcURL,
			Registry: registry,
		})
	}

	if len(unresolved) > 0 {
		return nil, fmt.Errorf("unknown chain(s): %s", strings.Join(unresolved, ", "))
	}
	return targets, nil
}

// resolveRPC prefers a configured override (keyed by id, name, or eip155
// form) over the chain's public default endpoint.
func resolveRPC(c *chainInfo, overrides map[string]string) (string, error) {
	if url := lookupOverride(c, overrides); url != "" {
		return url, nil
	}
	if c.rpcURL != "" {
		return c.rpcURL, nil
	}
	return "", fmt.Errorf("no RPC endpoint known for chain %s (eip155:%d); set registration.rpcOverrides", c.name, c.id)
}

func resolveRegistry(c *chainInfo, overrides map[string]string) (common.Address, error) {
	addr := lookupOverride(c, overrides)
	if addr == "" {
		addr = c.registry
	}
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("invalid registry address %q for chain %s", addr, c.name)
	}
	return common.HexToAddress(addr), nil
}

func lookupOverride(c *chainInfo, overrides map[string]string) string {
	if len(overrides) == 0 {
		return ""
	}
	id := strconv.FormatUint(c.id, 10)
	for key, val := range overrides {
		k := strings.ToLower(strings.TrimSpace(key))
		if k == id || k == "eip155:"+id || canonicalAlias(k) == canonicalAlias(c.name) {
			return val
		}
	}
	return ""
}
