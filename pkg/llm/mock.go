package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cpunion/adsim/pkg/rng"
	"github.com/cpunion/adsim/pkg/types"
)

// MockGenerator produces structurally valid reactions without a model. The
// reaction is a pure function of the prompt.
type MockGenerator struct{}

// NewMockGenerator creates the offline generator.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate implements ContentGenerator.
func (m *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	sum := sha256.Sum256([]byte(prompt))
	r := rng.New("MOCK", hex.EncodeToString(sum[:8]))

	resp := map[string]any{}
	if r.Float64() < 0.4 {
		resp["ignore"] = true
		resp["reaction_description"] = "Scrolled past without a second look."
	} else {
		resp["click"] = r.Float64() < 0.5
		resp["like"] = r.Float64() < 0.3
		resp["dislike"] = r.Float64() < 0.15
		share := 0
		if r.Float64() < 0.1 {
			share = 1
		}
		resp["share"] = share
		resp["reaction_description"] = "Paused on the ad for a moment."
	}
	for _, axis := range types.Axes {
		resp[string(axis)+"_change"] = r.Intn(21) - 10
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Model returns the model name.
func (m *MockGenerator) Model() string {
	return BackendMock
}
