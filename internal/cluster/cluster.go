package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"meshbench/internal/control"
	"meshbench/internal/events"
	"meshbench/internal/logger"
	"meshbench/internal/node"
	"meshbench/internal/stats"
	"meshbench/internal/transport"
)

// SinkID はシンクの媒体上のアドレス
const SinkID uint8 = 0

// Manager はクラスタ管理の基本操作を定義するインターフェース
type Manager interface {
	AddNode(n *node.Node) error
	RemoveNode(name string) error
	GetNode(name string) (*node.Node, bool)
	Nodes() []*node.Node
	StartAll(ctx context.Context) error
	StopAll() error
	Broadcast(cmd control.Command) error
	Size() int
	RunningCount() int
}

var _ Manager = (*Cluster)(nil)

// Cluster は複数のノードを管理する
type Cluster struct {
	mu    sync.RWMutex
	nodes map[string]*node.Node
}

// New は新しいクラスタを作成する
func New() *Cluster {
	return &Cluster{
		nodes: make(map[string]*node.Node),
	}
}

// AddNode はクラスタにノードを追加する
// シンクは 1 台まで
func (c *Cluster) AddNode(n *node.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.nodes[n.Name()]; exists {
		return fmt.Errorf("node %s already exists in cluster", n.Name())
	}
	if n.Role() == node.RoleSink {
		for _, other := range c.nodes {
			if other.Role() == node.RoleSink {
				return fmt.Errorf("cluster already has sink %s", other.Name())
			}
		}
	}

	c.nodes[n.Name()] = n
	logger.Debug("", "Node %s added to cluster", n.Name())
	return nil
}

// RemoveNode はクラスタからノードを削除する
func (c *Cluster) RemoveNode(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, exists := c.nodes[name]
	if !exists {
		return fmt.Errorf("node %s not found in cluster", name)
	}

	if n.Status() == node.StatusRunning {
		_ = n.Stop()
	}

	delete(c.nodes, name)
	logger.Debug("", "Node %s removed from cluster", name)
	return nil
}

// GetNode は名前でノードを取得する
func (c *Cluster) GetNode(name string) (*node.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, exists := c.nodes[name]
	return n, exists
}

// Nodes は全てのノードをシンク、クライアント ID 順で返す
func (c *Cluster) Nodes() []*node.Node {
	c.mu.RLock()
	nodes := make([]*node.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	c.mu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Role() != nodes[j].Role() {
			return nodes[i].Role() == node.RoleSink
		}
		return nodes[i].ID() < nodes[j].ID()
	})
	return nodes
}

// Sink はシンクを返す
func (c *Cluster) Sink() (*node.Node, bool) {
	for _, n := range c.Nodes() {
		if n.Role() == node.RoleSink {
			return n, true
		}
	}
	return nil, false
}

// Clients はクライアントを ID 順で返す
func (c *Cluster) Clients() []*node.Node {
	var clients []*node.Node
	for _, n := range c.Nodes() {
		if n.Role() == node.RoleClient {
			clients = append(clients, n)
		}
	}
	return clients
}

// StartAll は全てのノードを起動する
func (c *Cluster) StartAll(ctx context.Context) error {
	nodes := c.Nodes()
	logger.Info("", "Starting all nodes in cluster (count: %d)", len(nodes))

	err := parallel(nodes, func(n *node.Node) error { return n.Start(ctx) })
	if err != nil {
		logger.Error("", "Failed to start nodes: %v", err)
		return err
	}

	logger.Info("", "All nodes started successfully")
	return nil
}

// StopAll は全てのノードを停止する
// 既に停止しているノードは無視する
func (c *Cluster) StopAll() error {
	nodes := c.Nodes()
	logger.Info("", "Stopping all nodes in cluster (count: %d)", len(nodes))

	if err := parallel(nodes, func(n *node.Node) error { return n.Stop() }); err != nil {
		logger.Warn("", "Some nodes did not stop cleanly (may already be stopped): %v", err)
	}

	logger.Info("", "All nodes stopped")
	return nil
}

// Broadcast は同じコマンドを全ノードへ送る。シンクが先
func (c *Cluster) Broadcast(cmd control.Command) error {
	var errs []error
	for _, n := range c.Nodes() {
		if err := n.Control(cmd); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Snapshots は全ノードのスナップショットを返す
func (c *Cluster) Snapshots() []node.Snapshot {
	nodes := c.Nodes()
	snaps := make([]node.Snapshot, 0, len(nodes))
	for _, n := range nodes {
		snaps = append(snaps, n.Snapshot())
	}
	return snaps
}

// Size はクラスタ内のノード数を返す
func (c *Cluster) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// RunningCount は実行中のノード数を返す
func (c *Cluster) RunningCount() int {
	count := 0
	for _, n := range c.Nodes() {
		if n.Status() == node.StatusRunning {
			count++
		}
	}
	return count
}

// ReadyCount は準備完了したクライアント数を返す
func (c *Cluster) ReadyCount() int {
	count := 0
	for _, n := range c.Clients() {
		if n.Snapshot().Ready {
			count++
		}
	}
	return count
}

// NodeOptions は CreateNodes で作るノードの共通設定
type NodeOptions struct {
	Bus          *events.Bus
	Status       func(name string) io.Writer // ノードごとのステータス行出力先
	PollInterval time.Duration
	MaxSenders   int
}

func (o NodeOptions) status(name string) io.Writer {
	if o.Status == nil {
		return nil
	}
	return o.Status(name)
}

// CreateNodes は媒体上にシンク 1 台とクライアント count 台を作成して追加する
// クライアント ID は 1..count
func (c *Cluster) CreateNodes(medium *transport.Medium, count int, opts NodeOptions) error {
	if count < 1 || count > 255 {
		return fmt.Errorf("client count %d out of range [1,255]", count)
	}
	logger.Info("", "Creating sink and %d clients", count)

	sink := node.New(node.Config{
		ID:         SinkID,
		Role:       node.RoleSink,
		Status:     opts.status("sink"),
		MaxSenders: opts.MaxSenders,
		Bus:        opts.Bus,
	}, nil)
	if err := c.AddNode(sink); err != nil {
		return err
	}
	medium.Listen(SinkID, sink.Stats(), sink.Deliver)

	for i := 1; i <= count; i++ {
		id := uint8(i)
		name := logger.NodeTag(node.RoleClient.String(), id)

		reg := stats.New()
		port := medium.Port(id, SinkID, reg)
		n := node.New(node.Config{
			ID:           id,
			Role:         node.RoleClient,
			Status:       opts.status(name),
			Route:        port,
			PollInterval: opts.PollInterval,
			Stats:        reg,
			Bus:          opts.Bus,
		}, port)

		if err := c.AddNode(n); err != nil {
			return err
		}
	}

	logger.Info("", "Created %d nodes successfully", count+1)
	return nil
}

func parallel(nodes []*node.Node, fn func(*node.Node) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, n := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(n); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
