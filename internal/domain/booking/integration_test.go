package booking_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/buycars/buycars-api/internal/domain/booking"
	"github.com/buycars/buycars-api/internal/pkg/database"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("db not available: %v", err)
	}
	schema, err := os.ReadFile("../../../migrations/0001_settlement.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func createUser(t *testing.T, db *sqlx.DB, role string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := db.Exec(`INSERT INTO users (id, email, phone, role) VALUES ($1, $2, '254711000111', $3)`,
		id, fmt.Sprintf("booking_%s@test.com", id.String()[:8]), role)
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	return id
}

func TestConcurrentHoldsAdmitOne(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ownerID := createUser(t, db, "dealer")
	var assetID uuid.UUID
	err := db.Get(&assetID, `
		INSERT INTO cars (dealer_id, title, rent_price_per_day, min_hire_days)
		VALUES ($1, 'Test Prado', 3000, 1) RETURNING id
	`, ownerID)
	if err != nil {
		t.Fatalf("create car failed: %v", err)
	}
	defer func() {
		db.Exec("DELETE FROM bookings WHERE car_id = $1", assetID)
		db.Exec("DELETE FROM cars WHERE id = $1", assetID)
		db.Exec("DELETE FROM users WHERE id = $1 OR email LIKE 'booking_%@test.com'", ownerID)
	}()

	svc := booking.NewService(db, booking.NewRepository(db), 15*time.Minute)
	ctx := context.Background()
	start := time.Now().AddDate(0, 1, 0)

	const renters = 6
	type request struct {
		customer uuid.UUID
		booking  uuid.UUID
	}
	reqs := make([]request, renters)
	for i := range reqs {
		customer := createUser(t, db, "customer")
		// every request overlaps every other on day start+2
		rng, _ := booking.NewRange(start.AddDate(0, 0, i%3), start.AddDate(0, 0, 2+i%2))
		b, err := svc.Create(ctx, customer, assetID, rng)
		if err != nil {
			t.Fatalf("create booking %d: %v", i, err)
		}
		reqs[i] = request{customer: customer, booking: b.ID}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		held      int
		conflicts int
	)
	for _, req := range reqs {
		wg.Add(1)
		go func(req request) {
			defer wg.Done()
			err := database.WithTx(ctx, db, func(tx *sqlx.Tx) error {
				_, _, err := svc.PlaceHoldTx(ctx, tx, req.booking, req.customer)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				held++
			case errors.Is(err, booking.ErrConflict):
				conflicts++
			default:
				t.Errorf("hold: %v", err)
			}
		}(req)
	}
	wg.Wait()

	if held != 1 || conflicts != renters-1 {
		t.Fatalf("held = %d, conflicts = %d", held, conflicts)
	}

	rng, _ := booking.NewRange(start.AddDate(0, 0, 2), start.AddDate(0, 0, 2))
	avail, err := svc.CheckAvailability(ctx, assetID, rng)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if avail.Available {
		t.Fatal("held dates reported as available")
	}
}
