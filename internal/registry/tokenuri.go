package registry

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// TokenURISource records which layer supplied the registration token URI.
type TokenURISource string

const (
	SourceArg       TokenURISource = "arg"
	SourceConfig    TokenURISource = "config"
	SourceGenerated TokenURISource = "generated"
)

// TokenURIResolution is the outcome of token URI resolution. When Prompt is
// non-empty no URI could be produced and the caller must surface the prompt
// instead of starting registration.
type TokenURIResolution struct {
	URI    string
	Source TokenURISource
	Prompt string
}

// agentDescriptor is the auto-generated registration metadata document.
type agentDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Account     string `json:"account"`
	Address     string `json:"address"`
	Endpoint    string `json:"endpoint"`
}

// ResolveTokenURI applies the precedence arg > config > generated
// descriptor. Generation needs the wallet address; without one the caller
// gets a prompt, not an error.
func ResolveTokenURI(argValue, configValue, accountID, address string) TokenURIResolution {
	if argValue != "" {
		return TokenURIResolution{URI: argValue, Source: SourceArg}
	}
	if configValue != "" {
		return TokenURIResolution{URI: configValue, Source: SourceConfig}
	}

	uri := generateTokenURI(accountID, address)
	if uri == "" {
		return TokenURIResolution{
			Prompt: "No token URI configured and no wallet address to generate one from. " +
				"Pass --token-uri or set registration.tokenUri in the config.",
		}
	}
	return TokenURIResolution{URI: uri, Source: SourceGenerated}
}

// generateTokenURI builds the deterministic data-URI descriptor for the
// agent. Returns "" when there is no address to describe.
func generateTokenURI(accountID, address string) string {
	if address == "" {
		return ""
	}
	doc := agentDescriptor{
		Name:        fmt.Sprintf("walletbot:%s", accountID),
		Description: "walletbot messaging endpoint",
		Account:     accountID,
		Address:     address,
		Endpoint:    fmt.Sprintf("wallet:%s", address),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(data)
}
