// Package progress delivers deployment status snapshots to logs, terminals,
// Redis subscribers, and WebSocket clients.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/newtdeploy/pkg/cli"
	"github.com/newtron-network/newtdeploy/pkg/model"
)

// LogObserver logs stage and status changes through logrus.
type LogObserver struct {
	log *logrus.Logger

	mu   sync.Mutex
	last map[string]string
}

// NewLogObserver creates an observer on logger.
func NewLogObserver(logger *logrus.Logger) *LogObserver {
	return &LogObserver{log: logger, last: make(map[string]string)}
}

// Publish implements orchestrator.Observer.
func (o *LogObserver) Publish(id string, s model.DeploymentStatus) {
	key := s.Status + "/" + s.CurrentStage
	o.mu.Lock()
	changed := o.last[id] != key
	o.last[id] = key
	if s.Finished() {
		delete(o.last, id)
	}
	o.mu.Unlock()
	if !changed {
		return
	}

	o.log.WithFields(logrus.Fields{
		"deployment": id,
		"status":     s.Status,
		"stage":      s.CurrentStage,
		"progress":   fmt.Sprintf("%.0f%%", s.Progress*100),
	}).Info("deployment progress")
}

// ConsoleObserver prints each new log line of a deployment to a terminal.
// It only appends, so output stays readable in pipes and CI logs.
type ConsoleObserver struct {
	w io.Writer

	mu      sync.Mutex
	printed map[string]int
}

// NewConsoleObserver creates an observer writing to w.
func NewConsoleObserver(w io.Writer) *ConsoleObserver {
	return &ConsoleObserver{w: w, printed: make(map[string]int)}
}

// Publish implements orchestrator.Observer.
func (c *ConsoleObserver) Publish(id string, s model.DeploymentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.printed[id]
	if n > len(s.Logs) {
		// The bounded log buffer dropped lines; resume at its end.
		n = len(s.Logs)
	}
	for _, line := range s.Logs[n:] {
		fmt.Fprintf(c.w, "  %s  %s\n", cli.Dim(cli.Percent(s.Progress)), line)
	}
	c.printed[id] = len(s.Logs)
	if s.Finished() {
		delete(c.printed, id)
	}
}
