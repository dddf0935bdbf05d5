package okr

import (
	"sort"
	"time"
)

// SuggestedDueDates は期日入力の候補を返します。
// 明日、次の日曜日、翌月1日、各四半期末（過ぎていれば翌年）を日付順・重複なしで並べます。
func SuggestedDueDates(now time.Time) []time.Time {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	untilSunday := (7 - int(today.Weekday())) % 7
	if untilSunday == 0 {
		untilSunday = 7
	}

	candidates := []time.Time{
		today.AddDate(0, 0, 1),
		today.AddDate(0, 0, untilSunday),
		time.Date(today.Year(), today.Month()+1, 1, 0, 0, 0, 0, loc),
	}
	for _, q := range []struct {
		month time.Month
		day   int
	}{
		{time.March, 31},
		{time.June, 30},
		{time.September, 30},
		{time.December, 31},
	} {
		end := time.Date(today.Year(), q.month, q.day, 0, 0, 0, 0, loc)
		if !end.After(today) {
			end = end.AddDate(1, 0, 0)
		}
		candidates = append(candidates, end)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Before(candidates[j])
	})
	out := candidates[:0]
	for _, c := range candidates {
		if len(out) > 0 && out[len(out)-1].Equal(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
