package metrics

import (
	"context"
	"encoding/json"
	"math/rand/v2"

	"github.com/ternarybob/reportree/internal/storage/mediawiki"
)

const RandomName = "random"

// Random assigns each user a random float in [0, 1). Useful to exercise the pipeline.
type Random struct{}

func NewRandomFromOptions(options json.RawMessage) (Metric, error) {
	return Random{}, nil
}

func (Random) Name() string       { return RandomName }
func (Random) UsesDatabase() bool { return false }

func (Random) Compute(ctx context.Context, project *mediawiki.Project, userIDs []int64) (UserResults, error) {
	results := make(UserResults, len(userIDs))
	for _, id := range userIDs {
		results[id] = map[string]any{RandomName: rand.Float64()}
	}
	return results, nil
}
