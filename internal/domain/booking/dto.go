package booking

import "time"

// CreateRequest for POST /bookings
type CreateRequest struct {
	AssetID   string `json:"asset_id" validate:"required,uuid"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

// BookingResponse represents a booking in API responses
type BookingResponse struct {
	ID         string     `json:"id"`
	AssetID    string     `json:"asset_id"`
	CustomerID string     `json:"customer_id"`
	StartDate  string     `json:"start_date"`
	EndDate    string     `json:"end_date"`
	Days       int        `json:"days"`
	TotalPrice string     `json:"total_price"`
	Status     Status     `json:"status"`
	HeldUntil  *time.Time `json:"held_until,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func BookingResponseFromEntity(b *Booking) *BookingResponse {
	resp := &BookingResponse{
		ID:         b.ID.String(),
		AssetID:    b.AssetID.String(),
		CustomerID: b.CustomerID.String(),
		StartDate:  b.StartDate.Format(DateLayout),
		EndDate:    b.EndDate.Format(DateLayout),
		Days:       b.Range().Days(),
		TotalPrice: b.TotalPrice.StringFixed(2),
		Status:     b.Status,
		CreatedAt:  b.CreatedAt,
	}
	if b.HoldExpiresAt.Valid {
		t := b.HoldExpiresAt.Time
		resp.HeldUntil = &t
	}
	return resp
}

// AvailabilityResponse for GET /bookings/availability
type AvailabilityResponse struct {
	Available bool          `json:"available"`
	Conflicts []RangeResult `json:"conflicts"`
}

type RangeResult struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func AvailabilityResponseFrom(a *Availability) *AvailabilityResponse {
	resp := &AvailabilityResponse{Available: a.Available, Conflicts: []RangeResult{}}
	for _, c := range a.Conflicts {
		resp.Conflicts = append(resp.Conflicts, RangeResult{
			StartDate: c.Start.Format(DateLayout),
			EndDate:   c.End.Format(DateLayout),
		})
	}
	return resp
}
