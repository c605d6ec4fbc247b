package ids

import (
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
)

// Epoch 2020-01-01T00:00:00Z
var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator 雪花 ID：41 位毫秒 + 10 位节点 + 12 位序列
type Generator struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64
	seq      int64
	lastTSMS int64
	now      func() time.Time
}

// NewGenerator 节点号越界时回落为 1
func NewGenerator(nodeID int64) *Generator {
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	return &Generator{
		epochMS: Epoch.UnixMilli(),
		nodeID:  nodeID,
		now:     time.Now,
	}
}

var (
	defaultGen *Generator
	once       sync.Once
)

func std() *Generator {
	once.Do(func() { defaultGen = NewGenerator(1) })
	return defaultGen
}

// Generate 静态方法：生成一个新的雪花ID
func Generate() int64 { return std().Next() }

func GenerateString() string { return strconv.FormatInt(Generate(), 10) }

// SetNodeID 设置 nodeID（0~1023），main 按 NODE_ID 调用
func SetNodeID(nodeID int64) {
	g := std()
	if nodeID < 0 || nodeID > maxNode {
		nodeID = 1
	}
	g.mu.Lock()
	g.nodeID = nodeID
	g.mu.Unlock()
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := g.now().UnixMilli()
		if now < g.lastTSMS {
			// 时钟回拨，等待
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & seqMask
			if g.seq == 0 {
				// 序列溢出，等到下一毫秒
				for now <= g.lastTSMS {
					now = g.now().UnixMilli()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - g.epochMS) & ((1 << 41) - 1)
		return (ts << (nodeBits + seqBits)) | (g.nodeID << seqBits) | g.seq
	}
}
