package statement

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const monthLayout = "2006-01"

// Month is a calendar month in UTC
type Month struct {
	start time.Time
}

// ParseMonth parses YYYY-MM
func ParseMonth(s string) (Month, error) {
	t, err := time.ParseInLocation(monthLayout, s, time.UTC)
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Month{start: t}, nil
}

// MonthOf returns the month containing t
func MonthOf(t time.Time) Month {
	t = t.UTC()
	return Month{start: time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)}
}

// Previous returns the month before m
func (m Month) Previous() Month {
	return Month{start: m.start.AddDate(0, -1, 0)}
}

func (m Month) Start() time.Time { return m.start }
func (m Month) End() time.Time   { return m.start.AddDate(0, 1, 0) }
func (m Month) String() string   { return m.start.Format(monthLayout) }

// Closed reports whether the month has ended at now
func (m Month) Closed(now time.Time) bool {
	return !now.Before(m.End())
}

// Statement records an exported monthly CSV
type Statement struct {
	UserID    uuid.UUID `db:"user_id"`
	Month     string    `db:"month"`
	ObjectKey string    `db:"object_key"`
	Entries   int       `db:"entries"`
	CreatedAt time.Time `db:"created_at"`
}

func objectKey(userID uuid.UUID, m Month) string {
	return fmt.Sprintf("statements/%s/%s.csv", userID, m)
}
