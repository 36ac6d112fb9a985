//go:build integration

package progress

import (
	"testing"
	"time"

	"github.com/newtron-network/newtdeploy/internal/testutil"
	"github.com/newtron-network/newtdeploy/pkg/model"
)

func TestRedisPublisher_Subscribe(t *testing.T) {
	client := testutil.RedisClient(t)
	ctx := testutil.Context(t)

	ch, err := Subscribe(ctx, client, "dep-redis")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	p := NewRedisPublisher(client)
	p.Publish("dep-other", snapshot("dep-other", model.StatusRunning, "x"))
	p.Publish("dep-redis", snapshot("dep-redis", model.StatusRunning, "add:check"))
	p.Publish("dep-redis", snapshot("dep-redis", model.StatusCompleted, "finished"))

	var got []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				if len(got) != 2 || got[1] != model.StatusCompleted {
					t.Errorf("received %v", got)
				}
				return
			}
			if s.DeploymentID != "dep-redis" {
				t.Errorf("received snapshot for %s", s.DeploymentID)
			}
			got = append(got, s.Status)
		case <-timeout:
			t.Fatalf("timed out, received %v", got)
		}
	}
}
