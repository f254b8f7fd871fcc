package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/items"
	"github.com/maltedev/price-tracker/internal/models"
)

const testSecret = "test-secret"

type MockItemService struct {
	mock.Mock
}

func (m *MockItemService) EnsureUser(ctx context.Context, u models.User) error {
	return m.Called(u.ID).Error(0)
}

func (m *MockItemService) Add(ctx context.Context, userID int64, raw string, target *int64) (*models.TrackedItem, error) {
	args := m.Called(userID, raw, target)
	item, _ := args.Get(0).(*models.TrackedItem)
	return item, args.Error(1)
}

func (m *MockItemService) List(ctx context.Context, userID int64) ([]models.TrackedItem, error) {
	args := m.Called(userID)
	list, _ := args.Get(0).([]models.TrackedItem)
	return list, args.Error(1)
}

func (m *MockItemService) Get(ctx context.Context, userID, id int64) (*models.TrackedItem, error) {
	args := m.Called(userID, id)
	item, _ := args.Get(0).(*models.TrackedItem)
	return item, args.Error(1)
}

func (m *MockItemService) Delete(ctx context.Context, userID, id int64) error {
	return m.Called(userID, id).Error(0)
}

func (m *MockItemService) SetTarget(ctx context.Context, userID, id int64, target *int64) (*models.TrackedItem, error) {
	args := m.Called(userID, id, target)
	item, _ := args.Get(0).(*models.TrackedItem)
	return item, args.Error(1)
}

func (m *MockItemService) LinkTelegram(ctx context.Context, userID int64, chatID string) error {
	return m.Called(userID, chatID).Error(0)
}

func signToken(t *testing.T, userID int64, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: userID,
		Email:  "user@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newTestRouter(svc ItemService, checks map[string]HealthCheck) http.Handler {
	return NewRouter(NewHandlers(svc, testSecret, nil), RouterConfig{Checks: checks})
}

func TestAuthentication(t *testing.T) {
	svc := new(MockItemService)
	svc.On("List", int64(3)).Return([]models.TrackedItem{}, nil)
	router := newTestRouter(svc, nil)

	assert.Equal(t, http.StatusUnauthorized, do(t, router, "GET", "/api/v1/items", "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, router, "GET", "/api/v1/items", "", "garbage").Code)
	assert.Equal(t, http.StatusForbidden, do(t, router, "GET", "/api/v1/items", "", signToken(t, 3, "other-secret")).Code)
	assert.Equal(t, http.StatusOK, do(t, router, "GET", "/api/v1/items", "", signToken(t, 3, testSecret)).Code)
}

func TestAuthenticationSchemeIsCaseInsensitive(t *testing.T) {
	svc := new(MockItemService)
	svc.On("List", int64(3)).Return([]models.TrackedItem{}, nil)
	router := newTestRouter(svc, nil)
	token := signToken(t, 3, testSecret)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"lower case", "bearer " + token, http.StatusOK},
		{"upper case", "BEARER " + token, http.StatusOK},
		{"extra spaces", "Bearer   " + token, http.StatusOK},
		{"scheme only", "Bearer", http.StatusUnauthorized},
		{"other scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"bare token", token, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/items", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = ParseToken(signed, []byte(testSecret))
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestListItems(t *testing.T) {
	svc := new(MockItemService)
	svc.On("List", int64(3)).Return([]models.TrackedItem{{ID: 1, ArticleID: "123", CurrentPrice: 990}}, nil)
	router := newTestRouter(svc, nil)

	rec := do(t, router, "GET", "/api/v1/items", "", signToken(t, 3, testSecret))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.TrackedItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(990), got[0].CurrentPrice)
}

func TestAddItem(t *testing.T) {
	token := signToken(t, 3, testSecret)

	t.Run("created", func(t *testing.T) {
		svc := new(MockItemService)
		svc.On("EnsureUser", int64(3)).Return(nil)
		svc.On("Add", int64(3), "123456", models.Price(1500)).Return(&models.TrackedItem{ID: 9, ArticleID: "123456"}, nil)

		rec := do(t, newTestRouter(svc, nil), "POST", "/api/v1/items", `{"url":"123456","target_price":1500}`, token)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"article_id":"123456"`)
	})

	t.Run("bad input", func(t *testing.T) {
		svc := new(MockItemService)
		svc.On("EnsureUser", int64(3)).Return(nil)
		svc.On("Add", int64(3), "nothing", (*int64)(nil)).Return(nil, fmt.Errorf("%w: no article", items.ErrInvalidInput))

		rec := do(t, newTestRouter(svc, nil), "POST", "/api/v1/items", `{"url":"nothing"}`, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("extraction failed", func(t *testing.T) {
		svc := new(MockItemService)
		svc.On("EnsureUser", int64(3)).Return(nil)
		svc.On("Add", int64(3), "123", (*int64)(nil)).Return(nil, errors.New("navigation timeout"))

		rec := do(t, newTestRouter(svc, nil), "POST", "/api/v1/items", `{"url":"123"}`, token)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(t, newTestRouter(new(MockItemService), nil), "POST", "/api/v1/items", `{`, token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetItem(t *testing.T) {
	token := signToken(t, 3, testSecret)
	svc := new(MockItemService)
	svc.On("Get", int64(3), int64(5)).Return(&models.TrackedItem{ID: 5, ArticleID: "123", CurrentPrice: 990}, nil)
	svc.On("Get", int64(3), int64(6)).Return(nil, models.ErrItemNotFound)
	router := newTestRouter(svc, nil)

	rec := do(t, router, "GET", "/api/v1/items/5", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"article_id":"123"`)

	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/v1/items/6", "", token).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/api/v1/items/x", "", token).Code)
}

func TestDeleteItem(t *testing.T) {
	token := signToken(t, 3, testSecret)
	svc := new(MockItemService)
	svc.On("Delete", int64(3), int64(5)).Return(nil)
	svc.On("Delete", int64(3), int64(6)).Return(models.ErrItemNotFound)
	router := newTestRouter(svc, nil)

	assert.Equal(t, http.StatusNoContent, do(t, router, "DELETE", "/api/v1/items/5", "", token).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "DELETE", "/api/v1/items/6", "", token).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "DELETE", "/api/v1/items/abc", "", token).Code)
}

func TestSetTarget(t *testing.T) {
	token := signToken(t, 3, testSecret)
	svc := new(MockItemService)
	svc.On("SetTarget", int64(3), int64(5), models.Price(700)).Return(&models.TrackedItem{ID: 5, TargetPrice: models.Price(700)}, nil)
	svc.On("SetTarget", int64(3), int64(5), (*int64)(nil)).Return(&models.TrackedItem{ID: 5}, nil)
	svc.On("SetTarget", int64(3), int64(8), models.Price(700)).Return(nil, models.ErrItemNotFound)
	router := newTestRouter(svc, nil)

	assert.Equal(t, http.StatusOK, do(t, router, "PUT", "/api/v1/items/5/target", `{"target_price":700}`, token).Code)
	assert.Equal(t, http.StatusOK, do(t, router, "PUT", "/api/v1/items/5/target", `{"target_price":null}`, token).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "PUT", "/api/v1/items/8/target", `{"target_price":700}`, token).Code)
}

func TestLinkTelegram(t *testing.T) {
	token := signToken(t, 3, testSecret)
	svc := new(MockItemService)
	svc.On("EnsureUser", int64(3)).Return(nil)
	svc.On("LinkTelegram", int64(3), "12345").Return(nil)
	svc.On("LinkTelegram", int64(3), "@me").Return(fmt.Errorf("%w: numeric", items.ErrInvalidInput))
	router := newTestRouter(svc, nil)

	assert.Equal(t, http.StatusNoContent, do(t, router, "PUT", "/api/v1/me/telegram", `{"chat_id":"12345"}`, token).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "PUT", "/api/v1/me/telegram", `{"chat_id":"@me"}`, token).Code)
}

func TestHealth(t *testing.T) {
	healthy := newTestRouter(new(MockItemService), map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})
	rec := do(t, healthy, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)

	broken := newTestRouter(new(MockItemService), map[string]HealthCheck{
		"database": func(context.Context) error { return errors.New("connection refused") },
	})
	rec = do(t, broken, "GET", "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
