package eventstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

// DefaultConsumerName returns "<hostname>-<random suffix>", unique per process.
func DefaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "watchtower"
	}
	suffix, err := nanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 8)
	if err != nil {
		suffix = fmt.Sprintf("%d", os.Getpid())
	}
	return host + "-" + suffix
}

// Consumer owns the consumer groups of one consumer identity and runs them
// concurrently.
type Consumer struct {
	store stream.Store
	name  string
	opts  options

	mu     sync.Mutex
	groups map[string]*ConsumerGroup
	order  []string
	stop   chan struct{}
}

// NewConsumer creates a consumer. All its groups share the consumer name
// and options.
func NewConsumer(store stream.Store, opts ...Option) *Consumer {
	o := buildOptions(opts)
	if o.consumerName == "" {
		o.consumerName = DefaultConsumerName()
	}
	return &Consumer{
		store:  store,
		name:   o.consumerName,
		opts:   o,
		groups: make(map[string]*ConsumerGroup),
	}
}

// Name returns the consumer identity.
func (c *Consumer) Name() string { return c.name }

// Group returns the group with the given name, creating it on first use.
func (c *Consumer) Group(name string) *ConsumerGroup {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.groups[name]; ok {
		return g
	}
	g := newConsumerGroup(c.store, name, c.opts)
	c.groups[name] = g
	c.order = append(c.order, name)
	return g
}

// Groups returns the groups in creation order.
func (c *Consumer) Groups() []*ConsumerGroup {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*ConsumerGroup, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.groups[name])
	}
	return out
}

// StartAll runs every group that has at least one handler, each in its own
// goroutine with the configured batch size and block time, and waits for
// all of them. A failing group does not stop the others; their errors are
// joined. Returns ErrNoHandlers if no group has a handler.
func (c *Consumer) StartAll(ctx context.Context) error {
	c.mu.Lock()
	stop := make(chan struct{})
	c.stop = stop
	var runnable []*ConsumerGroup
	for _, name := range c.order {
		if g := c.groups[name]; len(g.HandlerTypes()) > 0 {
			runnable = append(runnable, g)
		}
	}
	c.mu.Unlock()

	if len(runnable) == 0 {
		return ErrNoHandlers
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, g := range runnable {
		wg.Add(1)
		go func(g *ConsumerGroup) {
			defer wg.Done()
			if err := g.run(ctx, stop, nil, 0, 0); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("group %s: %w", g.Name(), err))
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// StopAll asks every group to stop after its in-flight batch. It does not wait.
func (c *Consumer) StopAll() {
	c.mu.Lock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	groups := make([]*ConsumerGroup, 0, len(c.order))
	for _, name := range c.order {
		groups = append(groups, c.groups[name])
	}
	c.mu.Unlock()

	for _, g := range groups {
		g.Stop()
	}
}
