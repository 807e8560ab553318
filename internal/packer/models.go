package packer

// Finding 加固检测结果
type Finding struct {
	Name       string   `json:"name"`       // 加固名称
	Confidence float64  `json:"confidence"` // 置信度 0-1
	Indicators []string `json:"indicators"` // 命中的特征
}

// Rule 加固检测规则
type Rule struct {
	Name       string   // 加固名称
	NativeLibs []string // 特征 Native 库
	Markers    []string // 特征文件路径片段（小写）
	Priority   int      // 优先级（越大越优先匹配）
}

// archiveStats 压缩包中与加固相关的统计
type archiveStats struct {
	NativeLibs []string // Native 库文件名
	Paths      []string // 所有条目路径（小写）
}
