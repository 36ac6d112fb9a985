package rollback

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
	"github.com/newtron-network/newtdeploy/pkg/validation"
)

// ValidationReport is the result of Validate.
type ValidationReport struct {
	Valid     bool                            `json:"valid"`
	Errors    []string                        `json:"errors,omitempty"`
	Warnings  []string                        `json:"warnings,omitempty"`
	Dangerous []*util.DangerousCommandWarning `json:"-"`
}

type dangerPattern struct {
	re     *regexp.Regexp
	reason string
}

var dangerousPatterns = []dangerPattern{
	{regexp.MustCompile(`(?i)^no\s+(username|user)\s+admin\b`), "removes admin credentials"},
	{regexp.MustCompile(`(?i)^no\s+(aaa|enable\s+(secret|password))\b`), "removes admin credentials"},
	{regexp.MustCompile(`(?i)^no\s+ip\s+route\s+0\.0\.0\.0(/0|\s+0\.0\.0\.0)\b`), "removes the default route"},
	{regexp.MustCompile(`(?i)^no\s+ipv6\s+route\s+::/0\b`), "removes the IPv6 default route"},
	{regexp.MustCompile(`(?i)^no\s+vlan\s+1$`), "removes the default VLAN"},
}

// persistCommands are accepted as a save marker besides the configured one.
var persistCommands = []string{"commit", "write memory", "copy running-config startup-config", "save"}

var (
	// Blocks that close siblings implicitly when a new one opens.
	reTopBlock = regexp.MustCompile(`^(interface|vlan)\s+\S+`)
	// Blocks that nest.
	reNestedBlock = regexp.MustCompile(`^(router|address-family|vrf|route-map|policy-map|class-map|line)\b`)
)

// Validate checks a rollback before it is stored or replayed. Only an empty
// command list or a syntax error make it invalid; dangerous commands and a
// missing persist marker are warnings.
func (m *Manager) Validate(rc *model.RollbackConfig) *ValidationReport {
	r := &ValidationReport{Valid: true}
	if rc == nil || (len(rc.Commands) == 0 && len(rc.DeviceCommands) == 0) {
		r.Valid = false
		r.Errors = append(r.Errors, "rollback has no commands")
		return r
	}

	for _, dev := range deviceOrder(rc) {
		cmds := commandsFor(rc, dev)
		label := dev
		if label == "" {
			label = "rollback"
		}

		if !hasPersist(cmds, m.persistCommand) {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: no persist command (%s)", label, m.persistCommand))
		}

		for _, line := range cmds {
			line = strings.TrimSpace(line)
			for _, p := range dangerousPatterns {
				if p.re.MatchString(line) {
					w := &util.DangerousCommandWarning{Command: line, Reason: p.reason}
					r.Dangerous = append(r.Dangerous, w)
					r.Warnings = append(r.Warnings, label+": "+w.Error())
				}
			}
		}

		for _, e := range syntaxErrors(cmds) {
			r.Errors = append(r.Errors, label+": "+e)
		}
	}

	if len(r.Errors) > 0 {
		r.Valid = false
	}
	return r
}

func deviceOrder(rc *model.RollbackConfig) []string {
	if len(rc.DeviceCommands) == 0 {
		return []string{""}
	}
	ids := make([]string, 0, len(rc.DeviceCommands))
	for id := range rc.DeviceCommands {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func commandsFor(rc *model.RollbackConfig, dev string) []string {
	if dev == "" {
		return rc.Commands
	}
	return rc.DeviceCommands[dev]
}

func hasPersist(cmds []string, configured string) bool {
	for _, c := range cmds {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == strings.ToLower(configured) {
			return true
		}
		for _, p := range persistCommands {
			if c == p {
				return true
			}
		}
	}
	return false
}

// syntaxErrors runs a shallow structural check: every line has balanced
// brackets and no exit appears outside a block. Open blocks at the end of the
// list are closed by the session and are not errors.
func syntaxErrors(cmds []string) []string {
	var errs []string
	depth := 0
	for i, raw := range cmds {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if !validation.BracketsBalanced(line) {
			errs = append(errs, fmt.Sprintf("line %d has unbalanced brackets: %s", i+1, line))
		}

		switch {
		case line == "end" || line == "!":
			depth = 0
		case line == "exit" || line == "quit":
			if depth == 0 {
				errs = append(errs, fmt.Sprintf("line %d: exit outside a block", i+1))
				continue
			}
			depth--
		case reTopBlock.MatchString(line):
			if depth == 0 {
				depth = 1
			}
		case reNestedBlock.MatchString(line):
			depth++
		}
	}
	return errs
}
