package jobs

import (
	"context"
	"time"

	"tariffsync/internal/logger"

	"github.com/lib/pq"
)

// Listen subscribes to NotifyChannel and returns a channel that receives a
// value whenever a job is enqueued. The channel never blocks the listener:
// bursts collapse into one wakeup. It closes when ctx is done.
func Listen(ctx context.Context, dsn string) (<-chan struct{}, error) {
	l := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WithError(err).WithField("event", ev).Warn("jobs.listen event")
		}
	})
	if err := l.Listen(NotifyChannel); err != nil {
		_ = l.Close()
		return nil, err
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer l.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.Notify:
				// a nil notification follows a reconnect; wake anyway
				select {
				case wake <- struct{}{}:
				default:
				}
			case <-time.After(90 * time.Second):
				go func() { _ = l.Ping() }()
			}
		}
	}()
	return wake, nil
}
