package database

import (
	"context"
	"fmt"
	"time"

	"sql-assistant/internal/common/config"

	"github.com/elastic/go-elasticsearch/v8"
)

// ElasticsearchClient serves the few-shot example retriever.
type ElasticsearchClient struct {
	Client      *elasticsearch.Client
	pingTimeout time.Duration
}

func NewElasticsearch(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("elasticsearch addresses are empty")
	}

	esCfg := elasticsearch.Config{
		Addresses:  cfg.Addresses,
		MaxRetries:   cfg.MaxRetries,
		DisableRetry: cfg.MaxRetries < 0,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	pingTimeout := config.Millis(cfg.PingTimeout)
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	return &ElasticsearchClient{Client: es, pingTimeout: pingTimeout}, nil
}

func (c *ElasticsearchClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	res, err := c.Client.Ping(c.Client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}
