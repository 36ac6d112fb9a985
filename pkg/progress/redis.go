package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// ChannelPrefix prefixes the pub/sub channel of every deployment.
const ChannelPrefix = "newtdeploy:progress:"

// Channel returns the pub/sub channel for a deployment.
func Channel(deploymentID string) string {
	return ChannelPrefix + deploymentID
}

// RedisPublisher PUBLISHes each snapshot as JSON on the deployment's channel.
type RedisPublisher struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisPublisher wraps client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, timeout: 2 * time.Second}
}

// Publish implements orchestrator.Observer. Delivery failures are logged and
// never reach the deployment.
func (p *RedisPublisher) Publish(id string, s model.DeploymentStatus) {
	data, err := json.Marshal(s)
	if err != nil {
		util.WithDeployment(id).Warnf("progress: encoding snapshot: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, Channel(id), data).Err(); err != nil {
		util.WithDeployment(id).Warnf("progress: publishing to redis: %v", err)
	}
}

// Subscribe streams snapshots of one deployment until ctx is done or the
// deployment finishes. The returned channel is closed on exit.
func Subscribe(ctx context.Context, client *redis.Client, deploymentID string) (<-chan model.DeploymentStatus, error) {
	sub := client.Subscribe(ctx, Channel(deploymentID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan model.DeploymentStatus, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var s model.DeploymentStatus
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					util.WithDeployment(deploymentID).Debugf("progress: bad payload: %v", err)
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
				if s.Finished() {
					return
				}
			}
		}
	}()
	return out, nil
}
