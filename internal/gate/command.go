package gate

import "strings"

// CommandGateParams feeds one command-authorization evaluation.
type CommandGateParams struct {
	// UseAccessGroups restricts command authorization to allowlisted senders.
	UseAccessGroups bool
	// Authorizers is the effective allowlist for this surface.
	Authorizers []string
	// AllowTextCommands reports whether free-text commands are handled here.
	AllowTextCommands bool
	// HasControlCommand reports whether the message body is a control command.
	HasControlCommand bool
	// SenderMatched reports whether the sender matched the effective allowlist.
	SenderMatched bool
}

// CommandGateResult is the evaluation outcome. ShouldBlock drops the message
// before dispatch; CommandAuthorized travels downstream so the responder can
// enforce privileged commands.
type CommandGateResult struct {
	ShouldBlock       bool
	CommandAuthorized bool
}

// EvaluateCommandGate applies the command capability check. Messages without
// a recognized control command are never blocked by it.
func EvaluateCommandGate(p CommandGateParams) CommandGateResult {
	authorized := p.SenderMatched
	if len(p.Authorizers) == 0 {
		// No authorizer configured: commands stay available unless the
		// install restricts them to access groups.
		authorized = !p.UseAccessGroups
	}

	if !p.HasControlCommand {
		return CommandGateResult{ShouldBlock: false, CommandAuthorized: authorized}
	}
	if !p.AllowTextCommands {
		return CommandGateResult{ShouldBlock: true, CommandAuthorized: authorized}
	}
	return CommandGateResult{
		ShouldBlock:       p.UseAccessGroups && !authorized,
		CommandAuthorized: authorized,
	}
}

// HasControlCommand reports whether the message body starts with a slash
// command ("/word ...").
func HasControlCommand(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < 2 || t[0] != '/' {
		return false
	}
	c := t[1]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
