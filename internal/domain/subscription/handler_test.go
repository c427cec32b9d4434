package subscription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buycars/buycars-api/internal/middleware"
	"github.com/buycars/buycars-api/internal/pkg/jwt"
)

func TestGetCurrent_NoSubscription(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), uuid.New(), jwt.RoleCustomer))
	rr := httptest.NewRecorder()
	h.GetCurrent(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Data SubscriptionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "NONE", body.Data.Status)
	assert.False(t, body.Data.Active)
}

func TestGetCurrent_Active(t *testing.T) {
	svc, _ := newTestService(t)
	userID := uuid.New()
	_, err := svc.ActivateTx(context.Background(), nil, userID, "LITE", uuid.New())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), userID, jwt.RoleCustomer))
	rr := httptest.NewRecorder()
	NewHandler(svc).GetCurrent(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"plan_code":"LITE"`)
	assert.Contains(t, rr.Body.String(), `"active":true`)
}

func TestListPlans(t *testing.T) {
	svc, _ := newTestService(t)
	rr := httptest.NewRecorder()
	NewHandler(svc).ListPlans(rr, httptest.NewRequest(http.MethodGet, "/plans", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"code":"LITE","price":"5000.00","currency":"KES","period_days":30`)
}
