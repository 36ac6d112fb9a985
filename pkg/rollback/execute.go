package rollback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// Replayer sends rollback commands to one device. It returns one log entry
// per command attempted; a returned error means the device could not be
// reached at all.
type Replayer interface {
	Replay(ctx context.Context, deviceID string, commands []string) ([]model.CommandLog, error)
}

// Result aggregates one rollback execution.
type Result struct {
	DeploymentID string             `json:"deployment_id"`
	Key          string             `json:"key"`
	Succeeded    int                `json:"succeeded"`
	Failed       int                `json:"failed"`
	Devices      []string           `json:"devices"`
	Logs         []model.CommandLog `json:"logs"`
	Duration     time.Duration      `json:"duration"`
}

// Success reports whether every command applied.
func (r *Result) Success() bool {
	return r.Failed == 0
}

// Execute finds a rollback by key, deployment id, or original config id and
// replays it device by device. Individual command failures are counted and
// logged; they never stop the replay.
func (m *Manager) Execute(ctx context.Context, id string, replayer Replayer) (*Result, error) {
	if replayer == nil {
		return nil, errors.New("rollback execute: no replayer")
	}
	rc, err := m.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rc.DeviceCommands) == 0 {
		return nil, fmt.Errorf("rollback %s has no per-device commands", rc.Key())
	}

	start := time.Now()
	res := &Result{DeploymentID: rc.DeploymentID, Key: rc.Key()}
	log := util.WithDeployment(rc.DeploymentID)
	log.Infof("executing rollback %s on %d devices", rc.Key(), len(rc.DeviceCommands))

	for _, dev := range deviceOrder(rc) {
		if ctx.Err() != nil {
			log.Warnf("rollback %s cancelled before %s", rc.Key(), dev)
			break
		}
		cmds := rc.DeviceCommands[dev]
		res.Devices = append(res.Devices, dev)

		logs, err := replayer.Replay(ctx, dev, cmds)
		if err != nil {
			log.WithField("device", dev).Warnf("rollback replay failed: %v", err)
			// Anything not attempted counts as failed.
			for i := len(logs); i < len(cmds); i++ {
				logs = append(logs, model.CommandLog{DeviceID: dev, Command: cmds[i], Error: err.Error()})
			}
		}
		for _, l := range logs {
			if l.OK {
				res.Succeeded++
			} else {
				res.Failed++
			}
		}
		res.Logs = append(res.Logs, logs...)
	}

	res.Duration = time.Since(start)
	log.Infof("rollback %s finished: %d succeeded, %d failed", rc.Key(), res.Succeeded, res.Failed)
	return res, nil
}
