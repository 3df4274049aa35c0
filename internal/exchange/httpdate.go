package exchange

import (
	"fmt"
	"strconv"
	"time"
)

var httpDateWeekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
var httpDateMonths = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

var monthIndex = func() map[string]int {
	m := make(map[string]int, 12)
	for i, name := range httpDateMonths {
		m[name] = i + 1
	}
	return m
}()

// formatHTTPDate renders t in the exact "Day, DD Mon YYYY HH:MM:SS GMT"
// grammar (spec §6), always in GMT regardless of t's location.
func formatHTTPDate(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%s, %02d %s %04d %02d:%02d:%02d GMT",
		httpDateWeekdays[int(u.Weekday()+6)%7], // Monday=0 in this table, time.Monday=1
		u.Day(), httpDateMonths[u.Month()-1], u.Year(),
		u.Hour(), u.Minute(), u.Second())
}

// parseHTTPDate parses the exact RFC 7231 IMF-fixdate grammar:
//
//	Day, DD Mon YYYY HH:MM:SS GMT
//
// A mismatched weekday name is ignored (the date/time still parses); a
// timezone other than GMT is rejected as unparseable.
func parseHTTPDate(s string) (time.Time, bool) {
	// "Mon, 02 Jan 2006 15:04:05 GMT" — 29 characters exactly.
	if len(s) != 29 {
		return time.Time{}, false
	}
	if s[3:5] != ", " {
		return time.Time{}, false
	}
	weekday := s[0:3]
	if !isKnownWeekday(weekday) {
		return time.Time{}, false
	}

	day, ok := digits2(s[5:7])
	if !ok || s[7] != ' ' {
		return time.Time{}, false
	}
	month, ok := monthIndex[s[8:11]]
	if !ok || s[11] != ' ' {
		return time.Time{}, false
	}
	year, ok := matchYear(s[12:16])
	if !ok || s[16] != ' ' {
		return time.Time{}, false
	}
	hour, ok := digits2(s[17:19])
	if !ok || hour > 23 || s[19] != ':' {
		return time.Time{}, false
	}
	minute, ok := digits2(s[20:22])
	if !ok || minute > 59 || s[22] != ':' {
		return time.Time{}, false
	}
	second, ok := digits2(s[23:25])
	if !ok || second > 59 || s[25] != ' ' {
		return time.Time{}, false
	}
	if s[26:29] != "GMT" {
		return time.Time{}, false
	}
	if day < 1 || day > 31 {
		return time.Time{}, false
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), true
}

func isKnownWeekday(s string) bool {
	for _, w := range httpDateWeekdays {
		if w == s {
			return true
		}
	}
	return false
}

func digits2(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

// matchYear enforces the spec's `2\d[2-9]\d` grammar: years 2000-2999
// whose third digit is 2-9 (2020-2099, 2120-2199, ..., 2920-2999).
func matchYear(s string) (int, bool) {
	if len(s) != 4 {
		return 0, false
	}
	if s[0] != '2' {
		return 0, false
	}
	if s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	if s[2] < '2' || s[2] > '9' {
		return 0, false
	}
	if s[3] < '0' || s[3] > '9' {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
