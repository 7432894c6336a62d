package models

type Service struct {
	ServiceID             string `json:"id"`
	EstablishmentID       string `json:"establishment_id"`
	Name                  string `json:"name"`
	AvgServiceTimeMinutes int    `json:"avg_service_time_minutes"`
	Status                string `json:"status"`
	PrioritySupport       bool   `json:"priority_support"`
}

const (
	ServiceOpen   = "open"
	ServiceClosed = "closed"
)

func (s Service) IsOpen() bool {
	return s.Status == ServiceOpen
}

type Establishment struct {
	EstablishmentID string   `json:"id"`
	Name            string   `json:"name"`
	Lat             *float64 `json:"lat,omitempty"`
	Lng             *float64 `json:"lng,omitempty"`
}
