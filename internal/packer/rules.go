package packer

// BuiltinRules 内置加固规则库
func BuiltinRules() []Rule {
	return []Rule{
		// 国内商业加固
		{
			Name:       "Qihoo 360 Jiagu",
			NativeLibs: []string{"libjiagu.so", "libjiagu_x86.so", "libjiagu_a64.so", "libjiagu_x64.so"},
			Markers:    []string{"com.qihoo.util", "com.stub.stubapp", "jiagu"},
			Priority:   100,
		},
		{
			Name:       "Tencent Legu",
			NativeLibs: []string{"libshell.so", "libshellx.so", "libtxmsecurity.so"},
			Markers:    []string{"com.tencent.stubshell", "tosversion"},
			Priority:   100,
		},
		{
			Name:       "Ijiami",
			NativeLibs: []string{"libexec.so", "libexecmain.so", "ijiami.ajm"},
			Markers:    []string{"ijiami", "com.shell.superapplication"},
			Priority:   100,
		},
		{
			Name:       "Bangcle SecNeo",
			NativeLibs: []string{"libDexHelper.so", "libDexHelper-x86.so", "libSecShell.so", "libSecShell-x86.so"},
			Markers:    []string{"com.secneo.apkwrapper", "bangcle", "secneo"},
			Priority:   100,
		},
		{
			Name:       "Nagapt",
			NativeLibs: []string{"libnaga.so", "libddog.so", "libedog.so"},
			Markers:    []string{"com.nagapt.protect", "nagapt"},
			Priority:   95,
		},
		{
			Name:       "NetEase Yidun",
			NativeLibs: []string{"libnesec.so", "libNetHTProtect.so"},
			Markers:    []string{"com.netease.nis", "com.netease.htprotect"},
			Priority:   95,
		},
		{
			Name:       "Alibaba JAQ",
			NativeLibs: []string{"libmobisec.so", "libsgmain.so", "libsgsecuritybody.so"},
			Markers:    []string{"com.alibaba.wireless.security"},
			Priority:   95,
		},
		{
			Name:       "Baidu Protect",
			NativeLibs: []string{"libbaiduprotect.so"},
			Markers:    []string{"com.baidu.protect"},
			Priority:   90,
		},
		{
			Name:       "Payegis",
			NativeLibs: []string{"libegis.so", "libNSaferOnly.so"},
			Markers:    []string{"com.payegis"},
			Priority:   90,
		},
		{
			Name:       "Kiwisec",
			NativeLibs: []string{"libkwscmm.so", "libkwscr.so"},
			Markers:    []string{"com.kiwisec", "kiwisec"},
			Priority:   85,
		},
		{
			Name:       "Dingxiang",
			NativeLibs: []string{"libx3g.so", "libdxoptimizer.so"},
			Markers:    []string{"com.dingxiang.mobile"},
			Priority:   85,
		},
		// 国际商业加固
		{
			Name:       "DexProtector",
			NativeLibs: []string{"libdexprotector.so"},
			Markers:    []string{"dexprotector"},
			Priority:   80,
		},
		{
			Name:       "Arxan",
			NativeLibs: []string{"libArxanJNI.so", "libArxan.so"},
			Markers:    []string{"com.arxan"},
			Priority:   75,
		},
		{
			Name:       "AppSealing",
			NativeLibs: []string{"libAppSealing.so", "libAppSealingCore.so"},
			Markers:    []string{"appsealing"},
			Priority:   75,
		},
	}
}
