// Package client keeps a pool registry in sync with a websocket JSON-RPC
// pool stream. The stream sends a full snapshot first and block diffs after.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/defistate-oracle-go/protocols/uniswapv3"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the streamer is registered.
	RpcNamespace                 = "pools"
	PoolStreamSubscriptionMethod = "subscribePoolStream"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PoolSink receives pool changes. *uniswapv3.System implements it.
type PoolSink interface {
	AddPool(view uniswapv3.PoolViewMinimal) error
	RemovePool(pool common.Address)
	Observe(pool common.Address, tick int64, liquidity *big.Int) error
}

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
	Sink       PoolSink
}

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Sink == nil {
		return errors.New("config: Sink is required")
	}
	return nil
}

// SubscriptionEvent is the wrapper object received from the server.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// Block identifies the block an update was read at.
type Block struct {
	Number     uint64 `json:"number"`
	Timestamp  uint64 `json:"timestamp"`
	ReceivedAt int64  `json:"receivedAt"`
}

// Snapshot is the payload of a "full" event.
type Snapshot struct {
	Block Block                       `json:"block"`
	Pools []uniswapv3.PoolViewMinimal `json:"pools"`
}

// PoolUpdate moves a known pool to a new tick and, if set, liquidity.
type PoolUpdate struct {
	Address   common.Address `json:"address"`
	Tick      int64          `json:"tick"`
	Liquidity *big.Int       `json:"liquidity,omitempty"`
}

// Diff is the payload of a "diff" event.
type Diff struct {
	FromBlock uint64                      `json:"fromBlock"`
	ToBlock   Block                       `json:"toBlock"`
	Added     []uniswapv3.PoolViewMinimal `json:"added,omitempty"`
	Updated   []PoolUpdate                `json:"updated,omitempty"`
	Removed   []common.Address            `json:"removed,omitempty"`
}

// -----------------------------------------------------------------------------
// StreamProcessor
// -----------------------------------------------------------------------------

// StreamProcessor applies stream events to the sink and reports every block
// it reached. It is decoupled from the networking layer.
type StreamProcessor struct {
	sink    PoolSink
	logger  Logger
	known   mapset.Set[common.Address]
	block   *Block
	blockCh chan Block
}

func NewStreamProcessor(logger Logger, bufferSize uint, sink PoolSink) *StreamProcessor {
	return &StreamProcessor{
		sink:    sink,
		logger:  logger,
		known:   mapset.NewThreadUnsafeSet[common.Address](),
		blockCh: make(chan Block, bufferSize),
	}
}

// Blocks returns a read-only channel of applied blocks. Blocks are dropped
// when nobody drains it.
func (sp *StreamProcessor) Blocks() <-chan Block {
	return sp.blockCh
}

// ProcessMessage accepts a raw JSON message and applies it.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	processingStart := time.Now()
	var event SubscriptionEvent

	if err := json.Unmarshal(rawData, &event); err != nil {
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	switch event.Type {
	case "full":
		return sp.handleSnapshot(event, processingStart)
	case "diff":
		return sp.handleDiff(event, processingStart)
	default:
		return fmt.Errorf("received unknown event type: %s", event.Type)
	}
}

func (sp *StreamProcessor) handleSnapshot(event SubscriptionEvent, start time.Time) error {
	var snap Snapshot
	if err := json.Unmarshal(event.Payload, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal full state payload: %w", err)
	}

	seen := mapset.NewThreadUnsafeSetWithSize[common.Address](len(snap.Pools))
	for _, view := range snap.Pools {
		seen.Add(view.Address)
		if err := sp.upsert(view); err != nil {
			return err
		}
	}
	// Pools the stream stopped reporting are gone.
	for addr := range sp.known.Difference(seen).Iter() {
		sp.sink.RemovePool(addr)
	}
	sp.known = seen

	sp.logMetrics(snap.Block, time.Since(start), event.SentAt, "full", len(snap.Pools))
	sp.storeBlock(snap.Block)
	return nil
}

func (sp *StreamProcessor) handleDiff(event SubscriptionEvent, start time.Time) error {
	var diff Diff
	if err := json.Unmarshal(event.Payload, &diff); err != nil {
		return fmt.Errorf("failed to unmarshal diff payload: %w", err)
	}

	if sp.block == nil {
		return fmt.Errorf("received diff before full state; from_block: %d, to_block: %d", diff.FromBlock, diff.ToBlock.Number)
	}
	if diff.FromBlock != sp.block.Number {
		sp.logger.Warn(
			"Received out-of-order diff; pools may be out of sync. Discarding.",
			"last_known_block", sp.block.Number,
			"diff_from_block", diff.FromBlock,
			"diff_to_block", diff.ToBlock.Number,
		)
		return nil
	}

	for _, view := range diff.Added {
		if err := sp.upsert(view); err != nil {
			return err
		}
	}
	for _, u := range diff.Updated {
		if !sp.known.Contains(u.Address) {
			sp.logger.Warn("update for unknown pool ignored", "pool", u.Address, "block", diff.ToBlock.Number)
			continue
		}
		if err := sp.sink.Observe(u.Address, u.Tick, u.Liquidity); err != nil {
			return fmt.Errorf("failed to update pool %s: %w", u.Address, err)
		}
	}
	for _, addr := range diff.Removed {
		sp.sink.RemovePool(addr)
		sp.known.Remove(addr)
	}

	changed := len(diff.Added) + len(diff.Updated) + len(diff.Removed)
	sp.logMetrics(diff.ToBlock, time.Since(start), event.SentAt, "diff", changed)
	sp.storeBlock(diff.ToBlock)
	return nil
}

// upsert registers a pool the sink has not seen and observes a known one.
func (sp *StreamProcessor) upsert(view uniswapv3.PoolViewMinimal) error {
	if sp.known.Contains(view.Address) {
		if err := sp.sink.Observe(view.Address, view.Tick, view.Liquidity); err != nil {
			return fmt.Errorf("failed to update pool %s: %w", view.Address, err)
		}
		return nil
	}
	err := sp.sink.AddPool(view)
	if errors.Is(err, uniswapv3.ErrPoolExists) {
		// Registered from config before the stream reported it.
		err = sp.sink.Observe(view.Address, view.Tick, view.Liquidity)
	}
	if err != nil {
		return fmt.Errorf("failed to add pool %s: %w", view.Address, err)
	}
	sp.known.Add(view.Address)
	return nil
}

func (sp *StreamProcessor) storeBlock(b Block) {
	sp.block = &b
	select {
	case sp.blockCh <- b:
	default:
	}
}

func (sp *StreamProcessor) logMetrics(block Block, processingDur time.Duration, sentAt int64, eventType string, pools int) {
	clientFinishTime := time.Now()
	clientStartTime := clientFinishTime.Add(-processingDur)
	serverFinishTime := time.Unix(0, sentAt)

	sp.logger.Debug("Pool stream processed",
		"block", block.Number,
		"type", eventType,
		"pools", pools,
		"latency_total_ms", clientFinishTime.Sub(time.Unix(int64(block.Timestamp), 0)).Milliseconds(),
		"latency_transport_ms", clientStartTime.Sub(serverFinishTime).Milliseconds(),
		"latency_proc_ms", processingDur.Milliseconds(),
	)
}

// -----------------------------------------------------------------------------
// Client (Networking Wrapper)
// -----------------------------------------------------------------------------

// Client manages the connection and uses StreamProcessor for logic.
type Client struct {
	processor *StreamProcessor
	errCh     chan error
	logger    Logger
}

// NewClient creates a client and starts streaming until ctx is done.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		processor: NewStreamProcessor(cfg.Logger, cfg.BufferSize, cfg.Sink),
		errCh:     make(chan error, 1),
		logger:    cfg.Logger,
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// Blocks delegates to the processor's block channel.
func (c *Client) Blocks() <-chan Block {
	return c.processor.Blocks()
}

// Err is closed when the client stops.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the networking lifecycle and feeds data to the processor.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to pool stream", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to pool stream, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to pool stream.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context canceled, shutting down.")
				return
			}
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, PoolStreamSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for data...")
	for {
		select {
		case rawData := <-rawCh:
			if err := c.processor.ProcessMessage(rawData); err != nil {
				c.logger.Error("Error processing message", "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
