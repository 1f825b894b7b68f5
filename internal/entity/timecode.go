package entity

import "fmt"

// FormatTimestamp renders seconds as a zero-padded mm:ss label. Values are
// rounded to the nearest whole second first, so 89.6 becomes "01:30".
// Minutes are not wrapped at the hour; 3721s renders as "62:01".
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds + 0.5)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
