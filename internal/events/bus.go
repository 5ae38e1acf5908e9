// Package events publishes arbitrage progress onto a domain.SignalBus and
// provides an in-process bus for deployments without Redis.
package events

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strconv"
	"sync"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

const (
	localSubscriberBuf = 64
	localStreamMax     = 1000
)

// LocalBus is an in-memory domain.SignalBus. Slow subscribers drop
// messages rather than block publishers.
type LocalBus struct {
	mu      sync.Mutex
	subs    map[*localSub]struct{}
	streams map[string][]domain.StreamMessage
	seq     int64
}

type localSub struct {
	pattern string
	ch      chan []byte
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		subs:    make(map[*localSub]struct{}),
		streams: make(map[string][]domain.StreamMessage),
	}
}

func (b *LocalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe accepts exact names and path.Match globs; the channel closes
// when ctx is done.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("events: subscribe %q: %w", channel, err)
	}
	s := &localSub{pattern: channel, ch: make(chan []byte, localSubscriberBuf)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

func (b *LocalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.seq, 10) + "-0",
		Payload: payload,
	})
	if len(msgs) > localStreamMax {
		msgs = msgs[len(msgs)-localStreamMax:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamTail returns the last n entries of stream, oldest first.
func (b *LocalBus) StreamTail(_ context.Context, stream string, n int) ([]domain.StreamMessage, error) {
	if n <= 0 {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.streams[stream]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return slices.Clone(msgs), nil
}

var _ domain.SignalBus = (*LocalBus)(nil)
