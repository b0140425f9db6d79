package ws

import (
	"context"
	"log"

	"github.com/kay120/Code-reader/internal/pkg/pubsub"
)

// Bridge 把 Redis 进度消息转发给对应任务的 WebSocket 连接
type Bridge struct {
	hub        *Hub
	subscriber *pubsub.Subscriber
}

func NewBridge(hub *Hub, subscriber *pubsub.Subscriber) *Bridge {
	return &Bridge{hub: hub, subscriber: subscriber}
}

// Run 阻塞订阅，直到 ctx 取消
func (b *Bridge) Run(ctx context.Context) error {
	return b.subscriber.Subscribe(ctx, func(msg *pubsub.ProgressMessage) {
		if !b.hub.HasWatchers(msg.TaskID) {
			return
		}
		if err := b.hub.SendToTask(msg.TaskID, &Message{
			Type: msg.Type,
			Data: msg,
		}); err != nil {
			log.Printf("Bridge forward error for task %d: %v", msg.TaskID, err)
		}
	})
}
