// Package cache содержит кэш агрегированной статистики по активным партиям.
package cache

import "sync"

// AverageCache хранит последнее рассчитанное среднее число оставшихся
// неверных попыток по незавершённым партиям. Значение носит справочный
// характер и не используется игровой логикой.
type AverageCache struct {
	mu      sync.RWMutex
	average float64
	games   int
	set     bool
}

// NewAverageCache создаёт пустой кэш.
func NewAverageCache() *AverageCache {
	return &AverageCache{}
}

// Set сохраняет рассчитанное среднее и количество учтённых партий.
func (c *AverageCache) Set(average float64, games int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.average = average
	c.games = games
	c.set = true
}

// Get возвращает сохранённое значение. Третий результат false, если
// пересчёт ещё ни разу не выполнялся.
func (c *AverageCache) Get() (float64, int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.average, c.games, c.set
}
