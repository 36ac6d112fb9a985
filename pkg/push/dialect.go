package push

import (
	"regexp"
	"strings"
	"time"
)

// Dialect names the device CLI's transaction commands.
type Dialect struct {
	Configure   string `json:"configure"`
	Commit      string `json:"commit"`
	CommitCheck string `json:"commit_check"`
	Exit        string `json:"exit"`

	// VerifyCommand is a read-only query; {target} is replaced with the
	// verify target.
	VerifyCommand string `json:"verify_command"`
}

// DefaultDialect matches transactional CLIs with a candidate configuration.
func DefaultDialect() Dialect {
	return Dialect{
		Configure:     "configure",
		Commit:        "commit",
		CommitCheck:   "commit check",
		Exit:          "end",
		VerifyCommand: "show running-config | include {target}",
	}
}

func (d Dialect) withDefaults() Dialect {
	def := DefaultDialect()
	if d.Configure == "" {
		d.Configure = def.Configure
	}
	if d.Commit == "" {
		d.Commit = def.Commit
	}
	if d.CommitCheck == "" {
		d.CommitCheck = def.CommitCheck
	}
	if d.Exit == "" {
		d.Exit = def.Exit
	}
	if d.VerifyCommand == "" {
		d.VerifyCommand = def.VerifyCommand
	}
	return d
}

// VerifyQuery renders the verify command for target.
func (d Dialect) VerifyQuery(target string) string {
	return strings.ReplaceAll(d.VerifyCommand, "{target}", target)
}

// isCommitType reports whether cmd gets the longer post-send delay.
func (d Dialect) isCommitType(cmd string) bool {
	return cmd == d.Commit || cmd == d.CommitCheck
}

// Timing paces a session. Delays are minimums after each send; Receive still
// waits for the prompt up to ReceiveTimeout.
type Timing struct {
	CommandDelay   time.Duration `json:"command_delay"`
	CommitDelay    time.Duration `json:"commit_delay"`
	ReceiveTimeout time.Duration `json:"receive_timeout"`
}

// DefaultTiming returns the production pacing.
func DefaultTiming() Timing {
	return Timing{
		CommandDelay:   100 * time.Millisecond,
		CommitDelay:    time.Second,
		ReceiveTimeout: 30 * time.Second,
	}
}

// DefaultPromptPattern matches common CLI prompts such as "leaf1#",
// "admin@leaf1>", and "leaf1(config-if)#".
const DefaultPromptPattern = `[\w.\-@()\[\]:/~]+[#>$]\s*$`

// DefaultPrompt is the compiled DefaultPromptPattern.
var DefaultPrompt = regexp.MustCompile(DefaultPromptPattern)

// Response tokens, matched case-insensitively.
var (
	// NegativeTokens in priority order.
	NegativeTokens = []string{"error", "invalid", "failed", "not found", "syntax error", "permission denied"}

	NoOpTokens     = []string{"no configuration changes were made", "no changes were made"}
	PositiveTokens = []string{"commit succeeded", "commit complete"}

	// AbsenceTokens confirm a removed target during verify.
	AbsenceTokens = []string{"unknown", "invalid", "not found"}
)
