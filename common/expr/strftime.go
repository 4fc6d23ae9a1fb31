package expr

import "strings"

// strftime directive to Go reference-layout mapping. Formats without a '%'
// are assumed to already be Go layouts and pass through unchanged.
var strftimeReplacer = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%M", "04",
	"%S", "05",
	"%b", "Jan",
	"%B", "January",
	"%a", "Mon",
	"%A", "Monday",
	"%p", "PM",
	"%z", "-0700",
	"%Z", "MST",
	"%%", "%",
)

func toGoLayout(format string) string {
	if !strings.Contains(format, "%") {
		return format
	}
	return strftimeReplacer.Replace(format)
}
