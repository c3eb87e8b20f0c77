package redis

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/answercache/internal/kv"
)

type subscription struct {
	ps   *goredis.PubSub
	out  chan string
	once sync.Once
	done chan struct{}
}

// Subscribe confirms the subscription with the server before returning, so a
// publish issued after Subscribe returns is observed.
func (s *Store) Subscribe(ctx context.Context, channel string) (kv.Subscription, error) {
	ps := s.rdb.Subscribe(context.Background(), channel)

	rctx, cancel := s.opCtx(ctx)
	defer cancel()
	if _, err := ps.Receive(rctx); err != nil {
		_ = ps.Close()
		return nil, kv.Unavailable("subscribe", fmt.Errorf("redis subscribe: %w", err))
	}

	sub := &subscription{ps: ps, out: make(chan string, 16), done: make(chan struct{})}
	go sub.forward()
	return sub, nil
}

func (sub *subscription) forward() {
	defer close(sub.out)
	ch := sub.ps.Channel()
	for {
		select {
		case <-sub.done:
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			select {
			case sub.out <- m.Payload:
			case <-sub.done:
				return
			default:
				// Subscribers poll as a fallback; a full buffer drops the message.
			}
		}
	}
}

func (sub *subscription) Messages() <-chan string { return sub.out }

func (sub *subscription) Close() error {
	var err error
	sub.once.Do(func() {
		close(sub.done)
		err = sub.ps.Close()
	})
	return err
}
