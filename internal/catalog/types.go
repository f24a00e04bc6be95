package catalog

import (
	"strconv"
	"strings"
)

// Event is a scheduled occurrence returned by the Discovery API /events endpoint.
// Only the fields gigwatch reads are decoded.
type Event struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Dates struct {
		Start struct {
			LocalDate string `json:"localDate"`
		} `json:"start"`
	} `json:"dates"`
	Embedded struct {
		Venues      []Venue      `json:"venues"`
		Attractions []Attraction `json:"attractions"`
	} `json:"_embedded"`
}

type Venue struct {
	Name string `json:"name"`
	City struct {
		Name string `json:"name"`
	} `json:"city"`
	Country struct {
		Name string `json:"name"`
	} `json:"country"`
	Location struct {
		Latitude  string `json:"latitude"`
		Longitude string `json:"longitude"`
	} `json:"location"`
}

type Attraction struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MatchedName is the name of the first attraction the catalog attached to the event.
func (e Event) MatchedName() string {
	if len(e.Embedded.Attractions) == 0 {
		return ""
	}
	return e.Embedded.Attractions[0].Name
}

// Venue returns the first venue, if any.
func (e Event) Venue() (Venue, bool) {
	if len(e.Embedded.Venues) == 0 {
		return Venue{}, false
	}
	return e.Embedded.Venues[0], true
}

// StartDate is the local start date as sent by the API (YYYY-MM-DD).
func (e Event) StartDate() string { return e.Dates.Start.LocalDate }

// Coordinates parses the venue location. ok is false if either value is missing or malformed.
func (v Venue) Coordinates() (lat, lon float64, ok bool) {
	la, err1 := strconv.ParseFloat(strings.TrimSpace(v.Location.Latitude), 64)
	lo, err2 := strconv.ParseFloat(strings.TrimSpace(v.Location.Longitude), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return la, lo, true
}

type attractionsPage struct {
	Embedded struct {
		Attractions []Attraction `json:"attractions"`
	} `json:"_embedded"`
}

type eventsPage struct {
	Embedded struct {
		Events []Event `json:"events"`
	} `json:"_embedded"`
}
