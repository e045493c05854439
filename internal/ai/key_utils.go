package ai

import (
	"strings"
	"sync"
	"time"
)

// normalizeAPIKey strips quoting, a "Bearer " prefix and control bytes that
// tend to leak into env-var values.
func normalizeAPIKey(raw string) string {
	key := strings.Trim(strings.TrimSpace(raw), `"'`)
	if len(key) >= 7 && strings.EqualFold(key[:7], "bearer ") {
		key = key[7:]
	}
	key = strings.NewReplacer(`\r`, "", `\n`, "").Replace(key)

	filtered := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		if b := key[i]; b >= 33 && b <= 126 {
			filtered = append(filtered, b)
		}
	}
	return string(filtered)
}

// usageTracker is the mutex-guarded usage counter shared by the clients
type usageTracker struct {
	mu    sync.RWMutex
	usage ProviderUsage
}

func newUsageTracker(provider AIProvider) *usageTracker {
	return &usageTracker{usage: ProviderUsage{Provider: provider}}
}

func (u *usageTracker) record(totalTokens int, duration time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.usage.RequestCount++
	u.usage.TotalTokens += int64(totalTokens)
	u.usage.AvgLatency = (u.usage.AvgLatency*float64(u.usage.RequestCount-1) + duration.Seconds()) / float64(u.usage.RequestCount)
	u.usage.LastUsed = time.Now()
}

func (u *usageTracker) recordError() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.ErrorCount++
}

// snapshot returns a copy safe to hand to callers
func (u *usageTracker) snapshot() *ProviderUsage {
	u.mu.RLock()
	defer u.mu.RUnlock()
	cp := u.usage
	return &cp
}
