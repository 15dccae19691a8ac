package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// 雪花 ID
// ============================================================================
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// 重试任务号、outbox 消息键都基于它生成，多实例部署时 worker_id 必须不同。
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultMu        sync.Mutex
	defaultGenerator *Snowflake
)

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间: %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init 设置默认生成器，启动时调用一次
func Init(workerID int64) error {
	s, err := NewSnowflake(workerID)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultGenerator = s
	defaultMu.Unlock()
	return nil
}

func NextID() int64 {
	defaultMu.Lock()
	if defaultGenerator == nil {
		defaultGenerator = &Snowflake{workerID: 1}
	}
	g := defaultGenerator
	defaultMu.Unlock()
	return g.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 本毫秒序列号用完，等下一毫秒
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateRetryJobNo 重试任务号
// 格式：RTY + 年月日时分秒 + 雪花ID
func GenerateRetryJobNo() string {
	id := NextID()
	return fmt.Sprintf("RTY%s%d", time.Now().UTC().Format("20060102150405"), id)
}

// GenerateEventKey outbox 消息键
func GenerateEventKey(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, NextID())
}

// GenerateRequestID 调用方未提供 request id 时使用
func GenerateRequestID() string {
	return uuid.NewString()
}
