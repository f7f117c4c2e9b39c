package models

import "time"

// Branch is one clinic location with its own opening schedule.
type Branch struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Address    string         `json:"address"`
	MapsURL    string         `json:"maps_url"`
	ImagePath  string         `json:"image_path,omitempty"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Weekdays   []time.Weekday `json:"weekdays"`
	OpenHour   int            `json:"open_hour"`
	CloseHour  int            `json:"close_hour"`
	DaysLabel  string         `json:"days_label"`
	HoursLabel string         `json:"hours_label"`
}

// OpenAt reports whether t falls on one of the branch's days and inside [OpenHour, CloseHour).
func (b Branch) OpenAt(t time.Time) bool {
	open := false
	for _, d := range b.Weekdays {
		if t.Weekday() == d {
			open = true
			break
		}
	}
	if !open {
		return false
	}
	h := t.Hour()
	return h >= b.OpenHour && h < b.CloseHour
}

// DefaultBranches returns the two clinic branches.
func DefaultBranches() []Branch {
	return []Branch{
		{
			ID:         "1",
			Name:       "Sucursal Centro",
			Address:    "Cañada Strongest N° 1842, Torre Centrum Piso 2 Of. 208",
			Weekdays:   []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			OpenHour:   10,
			CloseHour:  13,
			DaysLabel:  "lunes a viernes",
			HoursLabel: "10:00 AM a 1:00 PM",
			MapsURL:    "https://maps.google.com/?q=-16.5000,-68.1333",
			Latitude:   -16.5000,
			Longitude:  -68.1333,
		},
		{
			ID:         "2",
			Name:       "Sucursal Norte",
			Address:    "Av. Buenos Aires N° 1164",
			Weekdays:   []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday},
			OpenHour:   15,
			CloseHour:  20,
			DaysLabel:  "lunes a sábado",
			HoursLabel: "3:00 PM a 8:00 PM",
			MapsURL:    "https://maps.google.com/?q=-16.4897,-68.1450",
			Latitude:   -16.4897,
			Longitude:  -68.1450,
		},
	}
}

// FindBranch returns the branch with the given id.
func FindBranch(branches []Branch, id string) (Branch, bool) {
	for _, b := range branches {
		if b.ID == id {
			return b, true
		}
	}
	return Branch{}, false
}
