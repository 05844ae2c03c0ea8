package engine_util

const (
	CfDefault string = "default"
	CfWrite   string = "write"
	CfLock    string = "lock"
)

var CFs [3]string = [3]string{CfDefault, CfWrite, CfLock}

// ValidCF reports whether cf names one of the known column families.
func ValidCF(cf string) bool {
	for _, c := range CFs {
		if c == cf {
			return true
		}
	}
	return false
}
