package cache

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/static-hub/internal/buffercache"
	"github.com/any-hub/static-hub/internal/metrics"
)

type fixture struct {
	manager *fakeManager
	clock   *fakeClock
	data    *buffercache.Cache
	metrics *metrics.Collector
	cache   *MetadataCache
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T, maxAge int64, tweaks ...func(*Options)) *fixture {
	t.Helper()

	data, err := buffercache.New(buffercache.Options{Capacity: 1 << 20, SegmentSize: 4})
	require.NoError(t, err)
	collector, err := metrics.NewCollector("test")
	require.NoError(t, err)

	f := &fixture{
		manager: newFakeManager(),
		clock:   newFakeClock(),
		data:    data,
		metrics: collector,
	}
	opts := Options{
		Name:                 "test",
		Entries:              16,
		MaxCacheableFileSize: 64,
		MaxAge:               maxAge,
		DataCache:            data,
		Logger:               quietLogger(),
		Metrics:              collector,
		Now:                  f.clock.Now,
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	f.cache, err = New(f.manager, opts)
	require.NoError(t, err)
	return f
}

// counterValue 从 Registry 中读取带 owner/result 标签的计数器值。
func counterValue(t *testing.T, c *metrics.Collector, name, owner, result string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string)
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			if labels["owner"] == owner && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func dataServes(t *testing.T, f *fixture, result string) float64 {
	return counterValue(t, f.metrics, "test_buffer_cache_serves_total", f.cache.Name(), result)
}
