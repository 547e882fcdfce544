package trends

import (
	"fmt"
	"time"
)

// FormatWindow renders a request window the way the upstream service
// expects it on the fetcher command line. Windows longer than 7 days use
// date precision, shorter ones hour precision.
func FormatWindow(start, end time.Time) string {
	if end.Sub(start) > 7*24*time.Hour {
		return fmt.Sprintf("%s %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s %s", start.Format("2006-01-02T15"), end.Format("2006-01-02T15"))
}
