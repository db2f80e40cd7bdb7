package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"discover-engine/internal/wire"
)

// ChannelPrefix prefixes the per-user pub/sub channel.
const ChannelPrefix = "engagement:"

// Redis is a Broker that fans events out across processes with Redis
// pub/sub. Each process pattern-subscribes once and routes to local handlers.
type Redis struct {
	client *redis.Client
	pubsub *redis.PubSub
	local  *Memory
	logger *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	URL    string
	Logger *log.Logger
}

// Compile-time interface check.
var _ Broker = (*Redis)(nil)

// NewRedis connects to Redis, verifies the connection and starts routing.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newRedis(ctx, client, opts.Logger)
}

func newRedis(ctx context.Context, client *redis.Client, logger *log.Logger) (*Redis, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[broker] ", log.LstdFlags)
	}

	pubsub := client.PSubscribe(ctx, ChannelPrefix+"*")
	// Wait for the subscription confirmation so nothing published after
	// NewRedis returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		client.Close()
		return nil, fmt.Errorf("subscribe %s*: %w", ChannelPrefix, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &Redis{
		client: client,
		pubsub: pubsub,
		local:  NewMemory(),
		logger: logger,
		cancel: cancel,
	}

	r.wg.Add(1)
	go r.route(runCtx)
	return r, nil
}

func (r *Redis) route(ctx context.Context) {
	defer r.wg.Done()

	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev wire.EngagementEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Printf("decode event on %s: %v", msg.Channel, err)
				continue
			}
			if ev.UserID == "" {
				ev.UserID = strings.TrimPrefix(msg.Channel, ChannelPrefix)
			}
			r.local.deliver(ev)
		}
	}
}

// Publish sends ev on the user's channel.
func (r *Redis) Publish(ctx context.Context, ev wire.EngagementEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, ChannelPrefix+ev.UserID, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe registers h for events published to userID by any process.
func (r *Redis) Subscribe(userID string, h Handler) func() {
	return r.local.Subscribe(userID, h)
}

// Close stops routing and closes the Redis connection.
func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		r.cancel()
		err = r.pubsub.Close()
		r.wg.Wait()
		r.local.Close()
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
