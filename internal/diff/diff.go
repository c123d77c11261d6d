// Package diff compares two event lists for review before a replacement is
// committed.
package diff

import (
	"fmt"

	"schedcal/internal/model"
)

// Change pairs an old event with the new event it became.
type Change struct {
	Old model.Event `json:"old"`
	New model.Event `json:"new"`
}

// Fields names the stored fields that differ between Old and New.
func (c Change) Fields() []string {
	a, b := c.Old, c.New
	var out []string
	add := func(name string, differ bool) {
		if differ {
			out = append(out, name)
		}
	}
	add("title", a.Title != b.Title)
	add("date", a.Date != b.Date)
	add("start", a.Start != b.Start)
	add("end", a.End != b.End)
	add("end_date", a.EndDate != b.EndDate)
	add("location", a.Location != b.Location)
	add("location_id", a.LocationID != b.LocationID)
	add("location_geo", !geoEqual(a.LocationGeo, b.LocationGeo))
	add("location_apple_title", a.LocationAppleTitle != b.LocationAppleTitle)
	add("type", a.Type != b.Type)
	add("label", a.Label != b.Label)
	return out
}

func geoEqual(a, b *model.Geo) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Result lists what changed going from old to new.
type Result struct {
	Added    []model.Event `json:"added"`
	Removed  []model.Event `json:"removed"`
	Modified []Change      `json:"modified"`
}

func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Modified) == 0
}

func (r Result) String() string {
	return fmt.Sprintf("+%d -%d ~%d", len(r.Added), len(r.Removed), len(r.Modified))
}

type primaryKey struct {
	date       model.Date
	title      string
	start, end model.Clock
}

type identityKey struct {
	date  model.Date
	title string
}

// Compute matches events in three passes: fully equal events, then events
// sharing (date, title, start, end), then events sharing (date, title).
// Within a pass the first unmatched old event in stored order is taken.
// Unmatched new events are added, unmatched old events removed.
func Compute(old, next []model.Event) Result {
	usedOld := make([]bool, len(old))
	usedNew := make([]bool, len(next))
	var res Result

	// exact matches first so a later modification cannot steal them
	for j, n := range next {
		for i, o := range old {
			if !usedOld[i] && o.Equal(n) {
				usedOld[i], usedNew[j] = true, true
				break
			}
		}
	}

	pair := func(match func(o, n model.Event) bool) {
		for j, n := range next {
			if usedNew[j] {
				continue
			}
			for i, o := range old {
				if usedOld[i] || !match(o, n) {
					continue
				}
				usedOld[i], usedNew[j] = true, true
				res.Modified = append(res.Modified, Change{Old: o, New: n})
				break
			}
		}
	}
	pair(func(o, n model.Event) bool { return pk(o) == pk(n) })
	pair(func(o, n model.Event) bool { return ik(o) == ik(n) })

	for j, n := range next {
		if !usedNew[j] {
			res.Added = append(res.Added, n)
		}
	}
	for i, o := range old {
		if !usedOld[i] {
			res.Removed = append(res.Removed, o)
		}
	}
	return res
}

func pk(e model.Event) primaryKey {
	return primaryKey{date: e.Date, title: e.Title, start: e.Start, end: e.End}
}

func ik(e model.Event) identityKey {
	return identityKey{date: e.Date, title: e.Title}
}
