package bloomfilter_test

import (
	"fmt"
	"testing"

	"github.com/rohmanhakim/polite-crawler/internal/bloomfilter"
	"github.com/stretchr/testify/assert"
)

func TestFilter_AddAndMayContain(t *testing.T) {
	f := bloomfilter.New()

	f.Add([]byte("https://example.com/a"))
	f.Add([]byte("https://example.com/b"))

	assert.True(t, f.MayContain([]byte("https://example.com/a")))
	assert.True(t, f.MayContain([]byte("https://example.com/b")))
}

func TestFilter_NeverAdded_LikelyAbsent(t *testing.T) {
	f := bloomfilter.New()
	for i := 0; i < 10000; i++ {
		f.Add([]byte(fmt.Sprintf("https://example.com/%d", i)))
	}

	falsePositives := 0
	trials := 2000
	for i := 0; i < trials; i++ {
		key := fmt.Sprintf("https://example.com/not-added-%d", i)
		if f.MayContain([]byte(key)) {
			falsePositives++
		}
	}

	// Target false positive rate is 1%; allow generous margin for a small sample.
	assert.Less(t, falsePositives, trials/10)
}

func TestFilter_Count(t *testing.T) {
	f := bloomfilter.New()
	assert.Equal(t, 0, f.Count())
	f.Add([]byte("a"))
	f.Add([]byte("b"))
	assert.Equal(t, 2, f.Count())
}

func TestFilter_GrowsAcrossShards(t *testing.T) {
	f := bloomfilter.New()
	for i := 0; i < 1<<20+100; i++ {
		f.Add([]byte(fmt.Sprintf("key-%d", i)))
	}
	assert.Equal(t, 1<<20+100, f.Count())
	assert.True(t, f.MayContain([]byte("key-0")))
	assert.True(t, f.MayContain([]byte(fmt.Sprintf("key-%d", 1<<20+50))))
}
