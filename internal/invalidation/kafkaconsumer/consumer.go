// Package kafkaconsumer runs the Kafka consumer group that applies dataset
// invalidation events to the cell stores and the tile cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hazardgrid/h3-risk-service/internal/cache/cellstore"
	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	"github.com/hazardgrid/h3-risk-service/internal/core/observability"
	"github.com/hazardgrid/h3-risk-service/internal/invalidation"
)

type CellMapper interface {
	CellsForBBox(bbox model.BBox, res int) (model.Cells, error)
}

// TileFlusher clears serialized tile responses. Tiles aggregate many cells,
// so any cell-level invalidation flushes the whole tile layer.
type TileFlusher interface {
	Clear() int
}

type Consumer struct {
	cfg     Config
	logger  *slog.Logger
	store   cellstore.V2Store
	v1store cellstore.V1Store
	mapper  CellMapper
	tiles   TileFlusher
	seen    *lru.Cache[string, struct{}]
}

func New(cfg Config, logger *slog.Logger, store cellstore.V2Store, v1store cellstore.V1Store, mapper CellMapper, tiles TileFlusher) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.DedupeSize
	if size <= 0 {
		size = 1024
	}
	seen, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("dedupe cache: %w", err)
	}
	return &Consumer{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		v1store: v1store,
		mapper:  mapper,
		tiles:   tiles,
		seen:    seen,
	}, nil
}

// Start consumes until the context is canceled. Consume errors are logged
// and retried; they never take the service down.
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil || c.mapper == nil {
		return errors.New("kafkaconsumer: missing dependencies (store/mapper)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("dataset invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("dataset invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err, "topic", c.cfg.Topic)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne applies a single event message.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.DatasetEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.ObserveInvalidation("decode", err)
		c.logger.Error("event decode failed",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		// Poison messages are acked, not replayed forever.
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.ObserveInvalidation(ev.Op, err)
		c.logger.Error("event invalid", "dataset", ev.Dataset, "err", err)
		return nil
	}

	if ev.DatasetRev != "" {
		if _, dup := c.seen.Get(ev.DedupeKey()); dup {
			c.logger.Debug("duplicate event skipped", "dataset", ev.Dataset, "rev", ev.DatasetRev)
			return nil
		}
		c.seen.Add(ev.DedupeKey(), struct{}{})
	}

	cells, err := c.cellsForEvent(ev)
	if err != nil {
		observability.ObserveInvalidation(ev.Op, err)
		return fmt.Errorf("derive cells: %w", err)
	}
	if len(cells) == 0 {
		observability.ObserveInvalidation(ev.Op, nil)
		return nil
	}

	dropped, err := c.store.Drop(ctx, cells)
	if err != nil {
		observability.ObserveInvalidation(ev.Op, err)
		return fmt.Errorf("drop v2 cells: %w", err)
	}
	if c.v1store != nil {
		if _, err := c.v1store.Drop(ctx, cells); err != nil {
			c.logger.Warn("v1 drop failed", "dataset", ev.Dataset, "err", err)
		}
	}
	flushed := 0
	if c.tiles != nil {
		flushed = c.tiles.Clear()
	}

	observability.ObserveInvalidation(ev.Op, nil)
	c.logger.Info("dataset invalidated",
		"dataset", ev.Dataset, "op", ev.Op,
		"cells", len(cells), "records_dropped", dropped, "tiles_flushed", flushed)
	return nil
}

func (c *Consumer) cellsForEvent(ev invalidation.DatasetEvent) (model.Cells, error) {
	if len(ev.Cells) > 0 {
		return model.Cells(ev.Cells), nil
	}
	res := ev.Resolution
	if res == 0 {
		res = 6
	}
	bb := model.BBox{
		MinLon: ev.BBox.MinLon, MinLat: ev.BBox.MinLat,
		MaxLon: ev.BBox.MaxLon, MaxLat: ev.BBox.MaxLat,
	}
	cells, err := c.mapper.CellsForBBox(bb, res)
	if err != nil {
		return nil, fmt.Errorf("CellsForBBox: %w", err)
	}
	return cells, nil
}
