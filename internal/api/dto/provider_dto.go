package dto

type AvailabilityRequest struct {
	Name        string   `json:"name"`
	IsAvailable *bool    `json:"is_available"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Categories  []string `json:"categories"`
}

type AvailabilityResponse struct {
	ProviderID  string   `json:"provider_id"`
	IsAvailable bool     `json:"is_available"`
	Categories  []string `json:"categories"`
	UpdatedAt   string   `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}
