// Package snowflake 雪花 ID 生成器，审计日志等需要单调递增 ID 的地方用。
package snowflake

import (
	"errors"
	"sync"
	"time"
)

// 41 位毫秒时间戳 + 10 位 worker + 12 位序列号。
const (
	epoch int64 = 1704067200000 // 2024-01-01 00:00:00 UTC

	workerIDBits = 10
	sequenceBits = 12

	maxWorkerID = -1 ^ (-1 << workerIDBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

var (
	ErrInvalidWorkerID = errors.New("worker ID must be between 0 and 1023")
	ErrClockMovedBack  = errors.New("clock moved backwards")
)

// Generator 按 worker 独立生成 ID，并发安全。
type Generator struct {
	mu       sync.Mutex
	workerID int64
	sequence int64
	lastMs   int64
}

func New(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	return &Generator{workerID: workerID}, nil
}

// Generate 返回下一个 ID，时钟回拨时报错。
func (g *Generator) Generate() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.lastMs {
		return 0, ErrClockMovedBack
	}

	if now == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			now = waitNextMs(g.lastMs)
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = now

	return ((now - epoch) << timestampShift) |
		(g.workerID << workerIDShift) |
		g.sequence, nil
}

// MustGenerate panics on error.
func (g *Generator) MustGenerate() int64 {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}

// waitNextMs 同一毫秒内序列号用尽时自旋到下一毫秒。
func waitNextMs(lastMs int64) int64 {
	now := time.Now().UnixMilli()
	for now <= lastMs {
		now = time.Now().UnixMilli()
	}
	return now
}

// Parse 拆出 ID 的三个组成部分。
func Parse(id int64) (timestamp, workerID, sequence int64) {
	timestamp = (id >> timestampShift) + epoch
	workerID = (id >> workerIDShift) & maxWorkerID
	sequence = id & maxSequence
	return
}

// Time 返回 ID 的生成时间。
func Time(id int64) time.Time {
	ts, _, _ := Parse(id)
	return time.UnixMilli(ts)
}
