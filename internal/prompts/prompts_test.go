package prompts

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stretchr/testify/assert"
)

func TestMapReturnsEmptyForMissingKey(t *testing.T) {
	m := Map{KeyRAG: "Answer using the context."}

	assert.Equal(t, "Answer using the context.", m.Get(context.Background(), KeyRAG))
	assert.Equal(t, "", m.Get(context.Background(), KeyEvaluator))
}

func TestPostgresProviderServesFromCache(t *testing.T) {
	// A nil db would panic on a miss, so a hit proves the cache answered.
	p := &PostgresProvider{cache: expirable.NewLRU[string, string](4, nil, time.Minute)}
	p.cache.Add(KeyQuestionDetector, "Reply YES or NO.")
	p.cache.Add(KeyEvaluator, "")

	assert.Equal(t, "Reply YES or NO.", p.Get(context.Background(), KeyQuestionDetector))
	assert.Equal(t, "", p.Get(context.Background(), KeyEvaluator))
}
