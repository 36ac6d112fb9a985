// Package diff computes per-device and per-VLAN changes between a deployed
// configuration and a desired one.
package diff

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Token patterns matched against each command line.
var (
	reVLAN       = regexp.MustCompile(`^vlan\s+(\d+)\b`)
	reInterface  = regexp.MustCompile(`^interface\s+(\S+)`)
	reVLANID     = regexp.MustCompile(`^vlan-id\s+(\d+)\b`)
	reSwitchport = regexp.MustCompile(`^switchport\s+(?:mode\s+)?(access|trunk|general|hybrid|dot1q-tunnel|routed)\b`)
	reMemberList = regexp.MustCompile(`^switchport\s+(?:access\s+|trunk\s+(?:allowed|native)\s+)?vlan\s+(?:add\s+)?([\d,\-\s]+)$`)
)

// InterfaceConfig is the parsed block of one interface.
type InterfaceConfig struct {
	Name     string
	Commands []string
	VLANs    map[int]bool
	Mode     string
}

// VLANIDs returns the interface's VLANs in ascending order.
func (i *InterfaceConfig) VLANIDs() []int {
	return sortedKeys(i.VLANs)
}

func (i *InterfaceConfig) equal(o *InterfaceConfig) bool {
	if i.Mode != o.Mode || !equalStrings(i.Commands, o.Commands) || len(i.VLANs) != len(o.VLANs) {
		return false
	}
	for id := range i.VLANs {
		if !o.VLANs[id] {
			return false
		}
	}
	return true
}

// VLANBlock is the parsed block of one `vlan <id>` declaration.
type VLANBlock struct {
	ID       int
	Commands []string
}

// DeviceConfig is the structured form of one device's command list.
type DeviceConfig struct {
	Commands   []string
	Interfaces map[string]*InterfaceConfig
	VLANs      map[int]*VLANBlock
}

// InterfaceNames returns interface names in sorted order.
func (c *DeviceConfig) InterfaceNames() []string {
	names := make([]string, 0, len(c.Interfaces))
	for n := range c.Interfaces {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// VLANIDs returns declared VLAN IDs in ascending order.
func (c *DeviceConfig) VLANIDs() []int {
	ids := make([]int, 0, len(c.VLANs))
	for id := range c.VLANs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Equal reports whether two parsed configurations are identical.
func (c *DeviceConfig) Equal(o *DeviceConfig) bool {
	if !equalStrings(c.Commands, o.Commands) {
		return false
	}
	if len(c.Interfaces) != len(o.Interfaces) || len(c.VLANs) != len(o.VLANs) {
		return false
	}
	for name, intf := range c.Interfaces {
		other, ok := o.Interfaces[name]
		if !ok || !intf.equal(other) {
			return false
		}
	}
	for id, v := range c.VLANs {
		other, ok := o.VLANs[id]
		if !ok || !equalStrings(v.Commands, other.Commands) {
			return false
		}
	}
	return true
}

// Parse scans a command list into interfaces and VLANs. A `vlan <id>` or
// `interface <name>` line opens a block; `exit`, `!` and `end` close it.
// Lines inside a block are recorded on that block and on the flat list.
func Parse(commands []string) *DeviceConfig {
	cfg := &DeviceConfig{
		Commands:   make([]string, 0, len(commands)),
		Interfaces: make(map[string]*InterfaceConfig),
		VLANs:      make(map[int]*VLANBlock),
	}

	var curIntf *InterfaceConfig
	var curVLAN *VLANBlock

	for _, raw := range commands {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		cfg.Commands = append(cfg.Commands, line)

		if isBlockClose(line) {
			curIntf, curVLAN = nil, nil
			continue
		}

		if m := reInterface.FindStringSubmatch(line); m != nil {
			curVLAN = nil
			curIntf = cfg.Interfaces[m[1]]
			if curIntf == nil {
				curIntf = &InterfaceConfig{Name: m[1], VLANs: make(map[int]bool)}
				cfg.Interfaces[m[1]] = curIntf
			}
			continue
		}

		if m := reVLAN.FindStringSubmatch(line); m != nil {
			id, _ := strconv.Atoi(m[1])
			curIntf = nil
			curVLAN = cfg.VLANs[id]
			if curVLAN == nil {
				curVLAN = &VLANBlock{ID: id}
				cfg.VLANs[id] = curVLAN
			}
			continue
		}

		switch {
		case curIntf != nil:
			curIntf.Commands = append(curIntf.Commands, line)
			parseInterfaceLine(curIntf, line)
		case curVLAN != nil:
			curVLAN.Commands = append(curVLAN.Commands, line)
		}
	}

	return cfg
}

func parseInterfaceLine(intf *InterfaceConfig, line string) {
	if m := reVLANID.FindStringSubmatch(line); m != nil {
		id, _ := strconv.Atoi(m[1])
		intf.VLANs[id] = true
		return
	}
	if m := reMemberList.FindStringSubmatch(line); m != nil {
		ids, err := util.ExpandVLANList(strings.ReplaceAll(m[1], " ", ""))
		if err != nil {
			util.Debugf("diff: ignoring unparseable VLAN list %q on %s: %v", m[1], intf.Name, err)
			return
		}
		for _, id := range ids {
			intf.VLANs[id] = true
		}
		return
	}
	if m := reSwitchport.FindStringSubmatch(line); m != nil {
		intf.Mode = m[1]
	}
}

func isBlockClose(line string) bool {
	switch line {
	case "exit", "!", "end", "quit":
		return true
	}
	return false
}

// TeardownCommands undoes the given VLANs and interfaces: each VLAN is
// deleted and each interface is administratively shut down.
func TeardownCommands(vlans []int, interfaces []string) []string {
	cmds := make([]string, 0, len(vlans)+3*len(interfaces))
	for _, id := range vlans {
		cmds = append(cmds, "no vlan "+strconv.Itoa(id))
	}
	for _, name := range interfaces {
		cmds = append(cmds, "interface "+name, "shutdown", "exit")
	}
	return cmds
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[int]bool) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
