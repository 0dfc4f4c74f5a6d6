package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
)

// ModelArtifact is the on-disk format for exported model weights.
type ModelArtifact struct {
	Name    string    `json:"name"`
	Version string    `json:"version"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// LogisticScorer is a logistic-regression classifier over the feature
// vector, loaded from a JSON weight artifact. Scoring is lock-free;
// Reload swaps the artifact atomically for hot model updates.
type LogisticScorer struct {
	mu       sync.RWMutex
	artifact *ModelArtifact
	path     string
}

// NewLogisticScorer loads the model artifact from path.
func NewLogisticScorer(path string) (*LogisticScorer, error) {
	s := &LogisticScorer{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the weight artifact from disk.
func (s *LogisticScorer) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read model artifact: %w", err)
	}

	var artifact ModelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return fmt.Errorf("failed to parse model artifact: %w", err)
	}
	if len(artifact.Weights) == 0 {
		return fmt.Errorf("model artifact %s has no weights", s.path)
	}

	s.mu.Lock()
	s.artifact = &artifact
	s.mu.Unlock()

	return nil
}

// Name returns the model identifier from the artifact.
func (s *LogisticScorer) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.artifact.Version != "" {
		return s.artifact.Name + "-" + s.artifact.Version
	}
	return s.artifact.Name
}

// Score computes sigmoid(w·x + b) for the feature vector.
func (s *LogisticScorer) Score(_ context.Context, vector []float64) (float64, error) {
	s.mu.RLock()
	artifact := s.artifact
	s.mu.RUnlock()

	if artifact == nil {
		return 0, ErrUnavailable
	}
	if len(vector) != len(artifact.Weights) {
		return 0, fmt.Errorf("vector length %d does not match model dimension %d", len(vector), len(artifact.Weights))
	}

	z := artifact.Bias
	for i, w := range artifact.Weights {
		z += w * vector[i]
	}

	return sigmoid(z), nil
}

// ScoreBatch scores each vector independently.
func (s *LogisticScorer) ScoreBatch(ctx context.Context, vectors [][]float64) ([]float64, error) {
	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		score, err := s.Score(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		scores[i] = score
	}
	return scores, nil
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
