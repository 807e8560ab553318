package risk

import "github.com/apk-analysis/apk-risk-go/internal/domain"

// 模型与启发式分数的权重
const (
	modelWeight     = 0.7
	heuristicWeight = 0.3
)

// FeatureVector 模型输入：[危险权限数, URL 数, 无障碍 0/1, 悬浮窗 0/1]
func FeatureVector(fs *domain.FeatureSet) []float64 {
	vec := []float64{
		float64(len(dangerousPermissions(fs.Permissions))),
		float64(len(fs.URLs)),
		0,
		0,
	}
	if fs.HasPermission(PermAccessibility) {
		vec[2] = 1
	}
	if fs.HasPermission(PermOverlay) {
		vec[3] = 1
	}
	return vec
}

// Blend 融合模型概率与启发式分数：0.7·p·100 + 0.3·h，截断到 [0,100]
func Blend(probability, heuristic float64) float64 {
	mlScore := probability * 100
	return clamp(modelWeight*mlScore + heuristicWeight*heuristic)
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
