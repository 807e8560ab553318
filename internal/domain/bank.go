package domain

import "time"

// BankReference 官方银行应用参考数据
type BankReference struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null;index:idx_bank_name" json:"name"`
	Package   string    `gorm:"type:varchar(255);not null" json:"package"`
	Official  bool      `gorm:"not null;index:idx_official" json:"official"`
	CreatedAt time.Time `json:"created_at"`
}

func (BankReference) TableName() string {
	return "bank_references"
}

// DefaultBanks 内置的官方银行应用列表（空库时写入）
func DefaultBanks() []BankReference {
	return []BankReference{
		{Name: "SBI YONO", Package: "com.sbi.lotusintouch", Official: true},
		{Name: "HDFC Bank MobileBanking", Package: "com.snapwork.hdfc", Official: true},
		{Name: "ICICI iMobile Pay", Package: "com.csam.icici.bank.imobile", Official: true},
		{Name: "Axis Mobile", Package: "com.axis.mobile", Official: true},
		{Name: "Paytm", Package: "net.one97.paytm", Official: true},
		{Name: "PhonePe", Package: "com.phonepe.app", Official: true},
		{Name: "Google Pay", Package: "com.google.android.apps.nbu.paisa.user", Official: true},
	}
}

// BankNamesAndPackages 拆分出名称和包名列表
func BankNamesAndPackages(banks []BankReference) (names []string, packages []string) {
	names = make([]string, 0, len(banks))
	packages = make([]string, 0, len(banks))
	for _, b := range banks {
		names = append(names, b.Name)
		packages = append(packages, b.Package)
	}
	return names, packages
}
