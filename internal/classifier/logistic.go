package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Logistic 本地逻辑回归模型，权重从 JSON 文件加载
//
//	{"weights": [0.45, 0.08, 1.2, 0.9], "intercept": -2.5}
type Logistic struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// LoadLogistic 读取权重文件
func LoadLogistic(path string) (*Logistic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read model: %v", ErrUnavailable, err)
	}

	var model Logistic
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("%w: parse model: %v", ErrUnavailable, err)
	}
	if len(model.Weights) == 0 {
		return nil, fmt.Errorf("%w: model has no weights", ErrUnavailable)
	}
	return &model, nil
}

// Predict sigmoid(w·x + b)
func (m *Logistic) Predict(ctx context.Context, features []float64) (float64, error) {
	if len(features) != len(m.Weights) {
		return 0, fmt.Errorf("feature length mismatch: got %d, model expects %d", len(features), len(m.Weights))
	}

	z := m.Intercept
	for i, x := range features {
		z += m.Weights[i] * x
	}

	p := 1.0 / (1.0 + math.Exp(-z))
	return p, CheckProbability(p)
}
