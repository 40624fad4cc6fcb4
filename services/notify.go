package services

import "context"

// Notifier pushes a hint to every connection of a user, wherever it lives.
// Delivery is best effort: offline users get nothing and must query state
// when they reconnect.
type Notifier interface {
	NotifyUser(ctx context.Context, user string, ev Event) error
}

// LocalNotifier delivers through this node's registry only.
type LocalNotifier struct {
	registry *ConnRegistry
}

func NewLocalNotifier(registry *ConnRegistry) *LocalNotifier {
	return &LocalNotifier{registry: registry}
}

func (n *LocalNotifier) NotifyUser(_ context.Context, user string, ev Event) error {
	n.registry.BroadcastToUser(user, ev)
	return nil
}
