package process

import (
	"fmt"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/template"
)

// AssignLocations sets LocationID = ref on events that carry neither a
// location nor a location id. The reference is resolved at export time.
// An empty ref is a no-op; a ref missing from locations leaves events
// unchanged and returns a warning.
func AssignLocations(events []model.Event, ref string, locations map[string]template.Location) ([]model.Event, string) {
	if ref == "" {
		return events, ""
	}
	if _, ok := locations[ref]; !ok {
		warning := fmt.Sprintf("location %q not found in template", ref)
		appLog.Warn("location not found in template", "location", ref)
		return events, warning
	}
	out := make([]model.Event, len(events))
	for i, e := range events {
		if e.Location == "" && e.LocationID == "" {
			e = e.WithLocationID(ref)
		}
		out[i] = e
	}
	return out, ""
}
