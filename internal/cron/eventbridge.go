package cron

import (
	"fmt"
	"strconv"
	"strings"
)

// ToEventBridge converts a standard 5-field expression into the 6-field
// form used by scheduled rules: cron(min hour dom month dow year).
//
// Scheduled rules cannot restrict both day-of-month and day-of-week, and
// number weekdays 1-7 from Sunday instead of 0-6.
func ToEventBridge(expression string) (string, error) {
	if _, err := NewParser().Parse(expression, "UTC"); err != nil {
		return "", err
	}

	fields := strings.Fields(expression)
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	switch {
	case dow == "*" || dow == "?":
		dow = "?"
		if dom == "?" {
			dom = "*"
		}
	case dom == "*" || dom == "?":
		dom = "?"
		converted, err := convertWeekdays(dow)
		if err != nil {
			return "", err
		}
		dow = converted
	default:
		return "", fmt.Errorf("parse cron: day-of-month %q and day-of-week %q cannot both be restricted", dom, dow)
	}

	return fmt.Sprintf("cron(%s %s %s %s %s *)", minute, hour, dom, month, dow), nil
}

func convertWeekdays(field string) (string, error) {
	parts := strings.Split(field, ",")
	for i, part := range parts {
		base, step, hasStep := strings.Cut(part, "/")
		if base != "*" {
			lo, hi, isRange := strings.Cut(base, "-")
			lo, err := convertWeekday(lo)
			if err != nil {
				return "", err
			}
			base = lo
			if isRange {
				hi, err = convertWeekday(hi)
				if err != nil {
					return "", err
				}
				base = lo + "-" + hi
			}
		}
		if hasStep {
			base += "/" + step
		}
		parts[i] = base
	}
	return strings.Join(parts, ","), nil
}

// convertWeekday maps 0-7 (Sunday is 0 and 7) onto 1-7. Names pass through.
func convertWeekday(v string) (string, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return strings.ToUpper(v), nil
	}
	if n < 0 || n > 7 {
		return "", fmt.Errorf("parse cron: weekday %d out of range", n)
	}
	return strconv.Itoa(n%7 + 1), nil
}
