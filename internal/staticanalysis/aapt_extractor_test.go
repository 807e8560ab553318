package staticanalysis

import (
	"context"
	"testing"

	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleAaptOutput = `N: android=http://schemas.android.com/apk/res/android (line=2)
  E: manifest (line=2)
    A: android:versionCode(0x0101021b)=(type 0x10)0x1
    A: package="com.sbi.yono.update" (Raw: "com.sbi.yono.update")
      E: uses-permission (line=7)
        A: android:name(0x01010003)="android.permission.READ_SMS" (Raw: "android.permission.READ_SMS")
      E: uses-permission (line=8)
        A: android:name(0x01010003)="android.permission.SYSTEM_ALERT_WINDOW" (Raw: "android.permission.SYSTEM_ALERT_WINDOW")
      E: application (line=10)
        A: android:label(0x01010001)="SBI YONO Update" (Raw: "SBI YONO Update")
          E: activity (line=12)
            A: android:name(0x01010003)="com.sbi.yono.update.LoginActivity" (Raw: "com.sbi.yono.update.LoginActivity")
          E: service (line=15)
            A: android:name(0x01010003)="com.sbi.yono.update.OverlayService" (Raw: "com.sbi.yono.update.OverlayService")
          E: receiver (line=18)
            A: android:name(0x01010003)="com.sbi.yono.update.SmsReceiver" (Raw: "com.sbi.yono.update.SmsReceiver")
`

// TestParseAaptOutput 测试 aapt2 输出解析
func TestParseAaptOutput(t *testing.T) {
	fs, err := parseAaptOutput(sampleAaptOutput)
	require.NoError(t, err)

	assert.Equal(t, domain.SourceAapt2, fs.Source)
	assert.Equal(t, "com.sbi.yono.update", fs.PackageValue())
	assert.Equal(t, "SBI YONO Update", fs.AppNameValue())
	assert.Equal(t, []string{"android.permission.READ_SMS", "android.permission.SYSTEM_ALERT_WINDOW"}, fs.Permissions)
	assert.Equal(t, []string{"com.sbi.yono.update.LoginActivity"}, fs.Activities)
	assert.Equal(t, []string{"com.sbi.yono.update.OverlayService"}, fs.Services)
	assert.Equal(t, []string{"com.sbi.yono.update.SmsReceiver"}, fs.Receivers)
	assert.Empty(t, fs.Providers)
}

// TestParseAaptOutput_CapitalsInValues 测试属性值中的大写字母不影响后续属性归属
func TestParseAaptOutput_CapitalsInValues(t *testing.T) {
	output := `N: android=http://schemas.android.com/apk/res/android (line=2)
  E: manifest (line=2)
    A: package="com.loans.emi" (Raw: "com.loans.emi")
      E: application (line=5)
        A: android:theme(0x01010000)=@0x7f0f0005
        A: android:label(0x01010001)="EMI Calculator" (Raw: "EMI Calculator")
          E: activity (line=7)
            A: android:label(0x01010001)="EMI Calculator" (Raw: "EMI Calculator")
            A: android:name(0x01010003)="com.loans.emi.MainActivity" (Raw: "com.loans.emi.MainActivity")
              E: intent-filter (line=9)
                E: action (line=10)
                  A: android:name(0x01010003)="android.intent.action.MAIN" (Raw: "android.intent.action.MAIN")
          E: activity-alias (line=13)
            A: android:name(0x01010003)="com.loans.emi.Launcher" (Raw: "com.loans.emi.Launcher")
          E: provider (line=16)
            A: android:exported(0x01010010)=(type 0x12)0x0
            A: android:authorities(0x01010018)="com.loans.EMI.Files" (Raw: "com.loans.EMI.Files")
            A: android:name(0x01010003)="androidx.core.content.FileProvider" (Raw: "androidx.core.content.FileProvider")
`
	fs, err := parseAaptOutput(output)
	require.NoError(t, err)

	assert.Equal(t, "EMI Calculator", fs.AppNameValue())
	assert.Equal(t, []string{"com.loans.emi.MainActivity", "com.loans.emi.Launcher"}, fs.Activities)
	assert.Equal(t, []string{"androidx.core.content.FileProvider"}, fs.Providers)
	assert.Empty(t, fs.Permissions)
	assert.Empty(t, fs.Services)
}

// TestParseAaptOutput_NoPackage 测试缺少包名时报错
func TestParseAaptOutput_NoPackage(t *testing.T) {
	_, err := parseAaptOutput("E: manifest (line=2)\n")
	assert.Error(t, err)
}

// TestAaptExtractor_Unavailable 测试 aapt2 不可用时返回错误
func TestAaptExtractor_Unavailable(t *testing.T) {
	e := NewAaptExtractor("/nonexistent/aapt2", newTestLogger())
	assert.False(t, e.Available())

	data := buildZip(t, zipEntry{Name: "a.txt", Content: "x"})
	archive, err := OpenArchive(data, 0, DefaultLimits())
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), archive)
	assert.Error(t, err)
}
