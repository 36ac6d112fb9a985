// Package rollback derives, stores, validates, and replays compensating
// command sets for deployments.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/diff"
	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// DefaultMaxAge is how long CleanupOld keeps rollbacks by default.
const DefaultMaxAge = 7 * 24 * time.Hour

// DefaultPersistCommand ends every rollback command list.
const DefaultPersistCommand = "commit"

// Manager fronts a Store with a read-through cache and serializes writes per
// deployment id.
type Manager struct {
	store          Store
	persistCommand string

	cacheMu sync.RWMutex
	cache   map[string]*model.RollbackConfig

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	now func() time.Time
}

// NewManager creates a Manager over store. A nil store uses a MemoryStore.
func NewManager(store Store) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{
		store:          store,
		persistCommand: DefaultPersistCommand,
		cache:          make(map[string]*model.RollbackConfig),
		locks:          make(map[string]*sync.Mutex),
		now:            time.Now,
	}
}

// SetPersistCommand overrides the command appended to every list.
func (m *Manager) SetPersistCommand(cmd string) {
	if cmd != "" {
		m.persistCommand = cmd
	}
}

// PersistCommand returns the command appended to every list.
func (m *Manager) PersistCommand() string { return m.persistCommand }

// PrepareRollback derives compensating commands from a diff. Added devices
// get a teardown of every VLAN and interface they introduced; modified and
// removed devices get their previous commands back verbatim.
//
// The persist command closes each device's list. An empty diff yields a
// rollback with no commands at all, which Validate reports as invalid so it
// can never be replayed.
func (m *Manager) PrepareRollback(deploymentID string, d *model.DeploymentDiff, configID string) (*model.RollbackConfig, error) {
	if d == nil {
		return nil, fmt.Errorf("prepare rollback %s: nil diff", deploymentID)
	}

	rc := &model.RollbackConfig{
		DeploymentID:     deploymentID,
		OriginalConfigID: configID,
		Kind:             model.RollbackFromDiff,
		Commands:         []string{},
		DeviceCommands:   make(map[string][]string),
		CreatedAt:        m.now(),
		Metadata: map[string]string{
			"source":  string(model.RollbackFromDiff),
			"add":     strconv.Itoa(len(d.DevicesToAdd)),
			"modify":  strconv.Itoa(len(d.DevicesToModify)),
			"remove":  strconv.Itoa(len(d.DevicesToRemove)),
			"persist": m.persistCommand,
		},
	}

	for _, c := range d.AllChanges() {
		var cmds []string
		switch c.ChangeType {
		case model.ChangeAdd:
			cmds = diff.TeardownCommands(addedVLANs(&c), c.AffectedInterfaces)
		case model.ChangeModify, model.ChangeRemove:
			cmds = append([]string(nil), c.OldCommands...)
		}
		cmds = append(cmds, m.persistCommand)
		rc.DeviceCommands[c.DeviceID] = cmds
		rc.Commands = append(rc.Commands, cmds...)
	}

	util.WithDeployment(deploymentID).Debugf("prepared diff rollback: %d devices, %d commands",
		len(rc.DeviceCommands), len(rc.Commands))
	return rc, nil
}

// addedVLANs falls back to parsing the new commands when the change carries
// no VLAN detail.
func addedVLANs(c *model.DeviceChange) []int {
	if ids := c.AddedVLANs(); len(ids) > 0 {
		return ids
	}
	return diff.Parse(c.NewCommands).VLANIDs()
}

// PrepareRollbackFromConfig snapshots the current configuration of every
// device, independent of any diff.
func (m *Manager) PrepareRollbackFromConfig(deploymentID string, current *model.ConfigSet, configID string) (*model.RollbackConfig, error) {
	if current == nil {
		return nil, fmt.Errorf("snapshot rollback %s: nil configuration", deploymentID)
	}

	rc := &model.RollbackConfig{
		DeploymentID:     deploymentID,
		OriginalConfigID: configID,
		Kind:             model.RollbackFromSnapshot,
		Commands:         []string{},
		DeviceCommands:   make(map[string][]string),
		CreatedAt:        m.now(),
		Metadata: map[string]string{
			"source":  string(model.RollbackFromSnapshot),
			"devices": strconv.Itoa(len(current.Devices)),
			"persist": m.persistCommand,
		},
	}
	if current.ServiceName != "" {
		rc.Metadata["service_name"] = current.ServiceName
	}

	for _, id := range current.DeviceIDs() {
		cmds := append(append([]string(nil), current.Commands(id)...), m.persistCommand)
		rc.DeviceCommands[id] = cmds
		rc.Commands = append(rc.Commands, cmds...)
	}
	return rc, nil
}

func (m *Manager) lockDeployment(id string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

func deploymentOfKey(key string) string {
	return strings.TrimSuffix(key, model.SnapshotSuffix)
}

// Store persists a rollback under its key.
func (m *Manager) Store(ctx context.Context, rc *model.RollbackConfig) error {
	if rc == nil || rc.DeploymentID == "" {
		return util.NewMalformedInputError("rollback", "missing deployment id")
	}
	unlock := m.lockDeployment(rc.DeploymentID)
	defer unlock()

	key := rc.Key()
	if err := m.store.Put(ctx, key, rc); err != nil {
		return err
	}
	m.cacheMu.Lock()
	m.cache[key] = clone(rc)
	m.cacheMu.Unlock()

	util.WithDeployment(rc.DeploymentID).Debugf("stored rollback %s", key)
	return nil
}

// Get returns the rollback stored under key.
func (m *Manager) Get(ctx context.Context, key string) (*model.RollbackConfig, error) {
	m.cacheMu.RLock()
	rc, ok := m.cache[key]
	m.cacheMu.RUnlock()
	if ok {
		return clone(rc), nil
	}

	rc, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return nil, &util.RollbackNotFoundError{ID: key}
		}
		return nil, err
	}
	m.cacheMu.Lock()
	m.cache[key] = clone(rc)
	m.cacheMu.Unlock()
	return rc, nil
}

// List returns every stored rollback, oldest first.
func (m *Manager) List(ctx context.Context) ([]*model.RollbackConfig, error) {
	list, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	sortByCreated(list)
	return list, nil
}

// Delete removes one rollback.
func (m *Manager) Delete(ctx context.Context, key string) error {
	unlock := m.lockDeployment(deploymentOfKey(key))
	defer unlock()

	if err := m.store.Delete(ctx, key); err != nil {
		return err
	}
	m.cacheMu.Lock()
	delete(m.cache, key)
	m.cacheMu.Unlock()
	return nil
}

// CleanupOld deletes rollbacks older than maxAge and returns how many went.
// A non-positive maxAge uses DefaultMaxAge.
func (m *Manager) CleanupOld(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	list, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-maxAge)
	removed := 0
	for _, rc := range list {
		if !rc.CreatedAt.Before(cutoff) {
			continue
		}
		if err := m.Delete(ctx, rc.Key()); err != nil {
			return removed, fmt.Errorf("cleanup %s: %w", rc.Key(), err)
		}
		removed++
	}
	if removed > 0 {
		util.Infof("rollback cleanup removed %d entries older than %s", removed, maxAge)
	}
	return removed, nil
}

// Find locates a rollback by store key, then deployment id, then original
// configuration id. Diff rollbacks win over snapshots, newer over older.
func (m *Manager) Find(ctx context.Context, id string) (*model.RollbackConfig, error) {
	rc, err := m.Get(ctx, id)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, util.ErrRollbackNotFound) {
		return nil, err
	}

	list, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var best *model.RollbackConfig
	better := func(c *model.RollbackConfig) bool {
		if best == nil {
			return true
		}
		if best.Kind != c.Kind {
			return c.Kind == model.RollbackFromDiff
		}
		return c.CreatedAt.After(best.CreatedAt)
	}
	for _, c := range list {
		if c.DeploymentID == id && better(c) {
			best = c
		}
	}
	if best == nil {
		for _, c := range list {
			if c.OriginalConfigID == id && better(c) {
				best = c
			}
		}
	}
	if best == nil {
		return nil, &util.RollbackNotFoundError{ID: id}
	}
	return best, nil
}
