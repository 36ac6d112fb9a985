package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// MaxLogLines bounds the log buffer of a status record.
const MaxLogLines = 1000

// tracker owns one deployment's status and publishes a copy after every
// change. Snapshots reach the observer in the order the changes were made.
type tracker struct {
	// pub is held across update and publish; mu guards status only, so
	// readers are not blocked behind a slow observer.
	pub      sync.Mutex
	mu       sync.Mutex
	status   model.DeploymentStatus
	observer Observer
}

func newTracker(id string, obs Observer) *tracker {
	now := time.Now()
	return &tracker{
		observer: obs,
		status: model.DeploymentStatus{
			DeploymentID:  id,
			Status:        model.StatusPending,
			Logs:          []string{},
			Errors:        []string{},
			DeviceResults: make(map[string]model.DeviceResult),
			StartedAt:     now,
			UpdatedAt:     now,
		},
	}
}

func (t *tracker) update(fn func(s *model.DeploymentStatus)) {
	t.pub.Lock()
	defer t.pub.Unlock()

	t.mu.Lock()
	fn(&t.status)
	t.status.UpdatedAt = time.Now()
	snap := t.status.Clone()
	t.mu.Unlock()

	if t.observer != nil {
		t.observer.Publish(snap.DeploymentID, snap)
	}
}

func (t *tracker) snapshot() model.DeploymentStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.Clone()
}

func (t *tracker) logf(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	util.WithDeployment(t.status.DeploymentID).Info(line)
	t.update(func(s *model.DeploymentStatus) {
		s.Logs = append(s.Logs, line)
		if over := len(s.Logs) - MaxLogLines; over > 0 {
			s.Logs = append([]string(nil), s.Logs[over:]...)
		}
	})
}

func (t *tracker) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	util.WithDeployment(t.status.DeploymentID).Warn(msg)
	t.update(func(s *model.DeploymentStatus) {
		s.Errors = append(s.Errors, msg)
	})
}

func (t *tracker) stage(name string, progress float64) {
	t.update(func(s *model.DeploymentStatus) {
		s.Status = model.StatusRunning
		s.CurrentStage = name
		if progress > s.Progress {
			s.Progress = progress
		}
	})
}

func (t *tracker) device(r model.DeviceResult) {
	r.Updated = time.Now()
	t.update(func(s *model.DeploymentStatus) {
		s.DeviceResults[r.DeviceID] = r
	})
}

func (t *tracker) finish(status string) {
	t.update(func(s *model.DeploymentStatus) {
		s.Status = status
		s.CurrentStage = "finished"
		if status == model.StatusCompleted {
			s.Progress = 1
		}
	})
}

func (t *tracker) logs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.status.Logs...)
}
