package booking

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents booking status
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusPaid      Status = "PAID"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

// DateLayout is the wire format of booking dates
const DateLayout = "2006-01-02"

// Booking is a rental request for an asset over an inclusive range of days
type Booking struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	AssetID       uuid.UUID       `db:"car_id" json:"asset_id"`
	CustomerID    uuid.UUID       `db:"customer_id" json:"customer_id"`
	StartDate     time.Time       `db:"start_date" json:"start_date"`
	EndDate       time.Time       `db:"end_date" json:"end_date"`
	TotalPrice    decimal.Decimal `db:"total_price" json:"total_price"`
	Status        Status          `db:"status" json:"status"`
	HoldExpiresAt sql.NullTime    `db:"hold_expires_at" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Range returns the booked days
func (b *Booking) Range() Range {
	return Range{Start: b.StartDate, End: b.EndDate}
}

// Payable reports whether checkout may still be started for the booking
func (b *Booking) Payable() bool {
	return b.Status == StatusPending || b.Status == StatusApproved
}

// Blocks reports whether the booking reserves its dates at the given instant.
// Pending requests only block while their payment hold is live.
func (b *Booking) Blocks(at time.Time) bool {
	switch b.Status {
	case StatusApproved, StatusPaid:
		return true
	case StatusPending:
		return b.HoldExpiresAt.Valid && b.HoldExpiresAt.Time.After(at)
	}
	return false
}

// Asset is the rentable car together with its owner's contact
type Asset struct {
	ID          uuid.UUID       `db:"id"`
	OwnerID     uuid.UUID       `db:"dealer_id"`
	OwnerPhone  sql.NullString  `db:"owner_phone"`
	Title       string          `db:"title"`
	ForRent     bool            `db:"is_for_rent"`
	DailyRate   decimal.Decimal `db:"rent_price_per_day"`
	MinHireDays int             `db:"min_hire_days"`
}

// Range is an inclusive range of calendar days
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange truncates both ends to UTC days and checks their order.
func NewRange(start, end time.Time) (Range, error) {
	r := Range{Start: day(start), End: day(end)}
	if r.End.Before(r.Start) {
		return Range{}, ErrInvalidRange
	}
	return r, nil
}

// ParseRange parses two YYYY-MM-DD dates
func ParseRange(start, end string) (Range, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return Range{}, ErrInvalidRange
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return Range{}, ErrInvalidRange
	}
	return NewRange(s, e)
}

// Days counts both the first and the last day
func (r Range) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Overlaps reports whether two inclusive ranges share at least one day.
func (r Range) Overlaps(o Range) bool {
	return !r.Start.After(o.End) && !r.End.Before(o.Start)
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Availability is the answer to an availability check
type Availability struct {
	Available bool
	Conflicts []Range
}
