package health

import (
	"sync/atomic"
	"time"
)

// LoopMonitor 记录周期任务最近一次成功执行的时间，
// 用于判断定时对账这类循环是否还在正常跑。
type LoopMonitor struct {
	lastRunUnixNano atomic.Int64
	lastErr         atomic.Value // string
}

// Tick marks a successful run.
func (m *LoopMonitor) Tick() {
	m.lastRunUnixNano.Store(time.Now().UnixNano())
}

// SetError records the most recent failure. Nil errors are ignored.
func (m *LoopMonitor) SetError(err error) {
	if err == nil {
		return
	}
	m.lastErr.Store(err.Error())
}

func (m *LoopMonitor) LastError() string {
	v, ok := m.lastErr.Load().(string)
	if !ok {
		return ""
	}
	return v
}

// Healthy reports whether the last successful run is within maxAge.
// A monitor that never ticked is unhealthy.
func (m *LoopMonitor) Healthy(now time.Time, maxAge time.Duration) (ok bool, age time.Duration, lastErr string) {
	lastErr = m.LastError()
	last := m.lastRunUnixNano.Load()
	if last <= 0 {
		return false, 0, lastErr
	}
	ran := time.Unix(0, last)
	if now.Before(ran) {
		return true, 0, lastErr
	}
	age = now.Sub(ran)
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return age <= maxAge, age, lastErr
}
