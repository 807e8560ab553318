package packer

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector() *Detector {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewDetector(logger)
}

// TestDetect 测试常见加固特征识别
func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{
			name:  "jiagu native lib in assets",
			files: []string{"AndroidManifest.xml", "classes.dex", "assets/libjiagu.so", "assets/libjiagu_a64.so"},
			want:  "Qihoo 360 Jiagu",
		},
		{
			name:  "versioned legu lib",
			files: []string{"classes.dex", "lib/arm64-v8a/libshellx-2.10.3.4.so", "assets/tosversion"},
			want:  "Tencent Legu",
		},
		{
			name:  "case insensitive lib name",
			files: []string{"lib/armeabi-v7a/LIBDEXHELPER.so"},
			want:  "Bangcle SecNeo",
		},
		{
			name:  "markers alone are not enough",
			files: []string{"assets/appsealing.dat"},
			want:  "",
		},
		{
			name:  "plain app",
			files: []string{"AndroidManifest.xml", "classes.dex", "lib/arm64-v8a/libflutter.so", "res/layout/main.xml"},
			want:  "",
		},
	}

	d := newTestDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finding := d.Detect(tt.files)
			if tt.want == "" {
				assert.Nil(t, finding)
				return
			}
			require.NotNil(t, finding)
			assert.Equal(t, tt.want, finding.Name)
			assert.GreaterOrEqual(t, finding.Confidence, detectThreshold)
			assert.LessOrEqual(t, finding.Confidence, 1.0)
			assert.NotEmpty(t, finding.Indicators)
		})
	}
}

// TestDetect_Priority 测试多条规则同时命中时取高优先级
func TestDetect_Priority(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	d := NewDetectorWithRules([]Rule{
		{Name: "low", NativeLibs: []string{"libguard.so"}, Priority: 1},
		{Name: "high", NativeLibs: []string{"libguard.so"}, Priority: 9},
	}, logger)

	finding := d.Detect([]string{"lib/x86/libguard.so"})
	require.NotNil(t, finding)
	assert.Equal(t, "high", finding.Name)
}

// TestMatchLibName 测试库名匹配
func TestMatchLibName(t *testing.T) {
	assert.True(t, matchLibName("libshellx.so", "libshellx-2.10.3.4.so"))
	assert.True(t, matchLibName("libArxan.so", "libarxan.so"))
	assert.False(t, matchLibName("libshell.so", "libshellx.so"))
	assert.False(t, matchLibName("libjiagu.so", "libflutter.so"))
}
