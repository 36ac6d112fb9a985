// Package inventory resolves device identifiers to management endpoints and
// credentials from a YAML inventory file.
package inventory

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtdeploy/pkg/push"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Entry is one device, or the defaults applied to every device. Password and
// key file values may reference environment variables as ${NAME}.
type Entry struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// File is a loaded inventory.
type File struct {
	Defaults Entry            `yaml:"defaults"`
	Devices  map[string]Entry `yaml:"devices"`

	// password fills in any device left without a secret.
	password string
}

// Load reads and validates an inventory file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes inventory YAML.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}
	if f.Devices == nil {
		f.Devices = make(map[string]Entry)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	v := &util.ValidationBuilder{}
	for _, id := range f.DeviceIDs() {
		e := f.merged(id)
		if e.Port < 0 || e.Port > 65535 {
			v.AddErrorf("device %s: port %d out of range", id, e.Port)
		}
	}
	return v.Build()
}

// DeviceIDs returns the inventory's devices in sorted order.
func (f *File) DeviceIDs() []string {
	ids := make([]string, 0, len(f.Devices))
	for id := range f.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetPassword supplies a password for devices that have no secret of their
// own, typically read from a terminal prompt.
func (f *File) SetPassword(pw string) {
	f.password = pw
}

// NeedsPassword reports whether any device would resolve without a secret.
func (f *File) NeedsPassword() bool {
	for _, id := range f.DeviceIDs() {
		e := f.merged(id)
		if e.Password == "" && e.KeyFile == "" {
			return true
		}
	}
	return false
}

func (f *File) merged(id string) Entry {
	e := f.Devices[id]
	d := f.Defaults
	if e.Host == "" {
		e.Host = d.Host
	}
	if e.Host == "" {
		e.Host = id
	}
	if e.Port == 0 {
		e.Port = d.Port
	}
	if e.Username == "" {
		e.Username = d.Username
	}
	if e.Password == "" {
		e.Password = d.Password
	}
	if e.KeyFile == "" {
		e.KeyFile = d.KeyFile
	}
	e.Password = os.ExpandEnv(e.Password)
	e.KeyFile = os.ExpandEnv(e.KeyFile)
	if e.Password == "" && e.KeyFile == "" {
		e.Password = f.password
	}
	return e
}

// Resolve implements push.Directory.
func (f *File) Resolve(deviceID string) (push.Target, error) {
	if _, ok := f.Devices[deviceID]; !ok {
		return push.Target{}, fmt.Errorf("device %s not in inventory: %w", deviceID, util.ErrNotFound)
	}
	e := f.merged(deviceID)
	return push.Target{
		Endpoint: push.Endpoint{Host: e.Host, Port: e.Port},
		Credentials: push.Credentials{
			Username: e.Username,
			Password: e.Password,
			KeyFile:  e.KeyFile,
		},
	}, nil
}
