// Package redis stores inspection records in Redis (or a protocol
// compatible server such as KVRocks).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/osvaldoandrade/gdtrelay/internal/repository"
	"github.com/osvaldoandrade/gdtrelay/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	// KeyPrefix defaults to "gdtrelay".
	KeyPrefix string `json:"keyPrefix,omitempty"`
	// DialTimeoutMs also bounds the startup ping. Defaults to 2000.
	DialTimeoutMs int `json:"dialTimeoutMs,omitempty"`
}

type Plugin struct {
	client      *redis.Client
	inspections repository.InspectionRepository
}

func NewPlugin(pc persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if err := json.Unmarshal(pc.Config, &cfg); err != nil {
		return nil, fmt.Errorf("redis persistence: %w", err)
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis persistence: addr is required")
	}
	dial := 2 * time.Second
	if cfg.DialTimeoutMs > 0 {
		dial = time.Duration(cfg.DialTimeoutMs) * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dial,
	})
	ctx, cancel := context.WithTimeout(context.Background(), dial)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis persistence: ping %s: %w", cfg.Addr, err)
	}

	return &Plugin{
		client:      client,
		inspections: repository.NewInspectionRepository(client, pc.Timezone, repository.WithKeyPrefix(cfg.KeyPrefix)),
	}, nil
}

func (p *Plugin) InspectionStorage() persistence.InspectionStorage {
	return p.inspections
}

func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Plugin) Close() error {
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}
