package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lomkaaa/M-Store-server/internal/auth"
	authConfig "github.com/Lomkaaa/M-Store-server/internal/auth/config"
	"github.com/Lomkaaa/M-Store-server/internal/basket"
	"github.com/Lomkaaa/M-Store-server/internal/model"
	"github.com/Lomkaaa/M-Store-server/internal/ordernum"
	"github.com/Lomkaaa/M-Store-server/internal/service"
	"github.com/Lomkaaa/M-Store-server/internal/store"
)

// Хранилище в памяти: ровно столько, сколько нужно хендлерам
type fakeStore struct {
	store.Store

	nextUserID int
	users      map[int]model.User
	passwords  map[string]string
	logins     map[string]int

	products map[int]model.Product
	baskets  map[[2]int]int

	purchaseOrder model.Order
	purchaseErr   error

	orderStatuses map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[int]model.User),
		passwords:     make(map[string]string),
		logins:        make(map[string]int),
		products:      make(map[int]model.Product),
		baskets:       make(map[[2]int]int),
		orderStatuses: make(map[string]string),
	}
}

func (s *fakeStore) AuthRegister(_ context.Context, login string, passwordHash string) (int, error) {
	if _, ok := s.logins[login]; ok {
		return 0, store.ErrAlreadyExists
	}
	s.nextUserID++
	s.logins[login] = s.nextUserID
	s.passwords[login] = passwordHash
	s.users[s.nextUserID] = model.User{ID: s.nextUserID, Login: login, Role: model.UserRoleUser}
	return s.nextUserID, nil
}

func (s *fakeStore) AuthLogin(_ context.Context, login string) (int, string, error) {
	userID, ok := s.logins[login]
	if !ok {
		return 0, "", store.ErrNoRows
	}
	return userID, s.passwords[login], nil
}

func (s *fakeStore) UserGet(_ context.Context, userID int) (model.User, error) {
	user, ok := s.users[userID]
	if !ok {
		return model.User{}, store.ErrNoRows
	}
	return user, nil
}

func (s *fakeStore) BasketAdd(_ context.Context, userID int, productID int) (model.BasketLine, error) {
	if _, ok := s.products[productID]; !ok {
		return model.BasketLine{}, store.ErrNoRows
	}
	key := [2]int{userID, productID}
	s.baskets[key]++
	return model.BasketLine{UserID: userID, ProductID: productID, Value: s.baskets[key]}, nil
}

func (s *fakeStore) BasketRemove(_ context.Context, userID int, productID int) (model.BasketLine, bool, error) {
	key := [2]int{userID, productID}
	value, ok := s.baskets[key]
	if !ok {
		return model.BasketLine{}, false, store.ErrNoRows
	}
	if value > 1 {
		s.baskets[key] = value - 1
		return model.BasketLine{UserID: userID, ProductID: productID, Value: value - 1}, false, nil
	}
	delete(s.baskets, key)
	return model.BasketLine{}, true, nil
}

func (s *fakeStore) BasketClear(_ context.Context, userID int) error {
	for key := range s.baskets {
		if key[0] == userID {
			delete(s.baskets, key)
		}
	}
	return nil
}

func (s *fakeStore) BasketGet(_ context.Context, userID int) ([]model.BasketEntry, error) {
	var entries []model.BasketEntry
	for key, value := range s.baskets {
		if key[0] != userID {
			continue
		}
		entries = append(entries, model.BasketEntry{
			Line:    model.BasketLine{UserID: userID, ProductID: key[1], Value: value},
			Product: s.products[key[1]],
		})
	}
	return entries, nil
}

func (s *fakeStore) PurchaseBasket(_ context.Context, _ int) (model.Order, error) {
	return s.purchaseOrder, s.purchaseErr
}

func (s *fakeStore) OrderGetStatus(_ context.Context, number string) (string, error) {
	status, ok := s.orderStatuses[number]
	if !ok {
		return "", store.ErrNoRows
	}
	return status, nil
}

func (s *fakeStore) OrderSetStatus(_ context.Context, number string, status string) error {
	if _, ok := s.orderStatuses[number]; !ok {
		return store.ErrNoRows
	}
	s.orderStatuses[number] = status
	return nil
}

func newTestServer(t *testing.T, fake *fakeStore) *httptest.Server {
	authsvc := auth.NewAuth(authConfig.Config{JWTSecret: "test-secret"}, fake)
	svc := service.NewService(fake, basket.NewBasket(fake))
	h := newHandler(authsvc, svc, zap.NewNop())

	srv := httptest.NewServer(h.newRouter())
	t.Cleanup(srv.Close)
	return srv
}

func register(t *testing.T, srv *httptest.Server, login string) *resty.Client {
	client := resty.New().SetBaseURL(srv.URL)

	resp, err := client.R().
		SetBody(map[string]string{"login": login, "password": "password"}).
		Post("/api/register")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())

	authHeader := resp.Header().Get("Authorization")
	require.NotEmpty(t, authHeader)
	client.SetHeader("Authorization", authHeader)
	return client
}

func TestUnauthorized(t *testing.T) {
	srv := newTestServer(t, newFakeStore())

	resp, err := resty.New().SetBaseURL(srv.URL).R().Get("/api/basket")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode())
}

func TestBasketFlow(t *testing.T) {
	fake := newFakeStore()
	fake.products[10] = model.Product{ID: 10, Name: "Чайник", Price: 10000, Value: 5}
	srv := newTestServer(t, fake)
	client := register(t, srv, "basket-user")

	// два добавления
	for want := 1; want <= 2; want++ {
		var line basketLineJSONResponse
		resp, err := client.R().SetResult(&line).Patch("/api/basket/10")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode())
		require.Equal(t, want, line.Value)
	}

	// несуществующий товар
	resp, err := client.R().Patch("/api/basket/999")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode())

	var entries []basketEntryJSONResponse
	resp, err = client.R().SetResult(&entries).Get("/api/basket")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Len(t, entries, 1)
	require.Equal(t, float32(100), entries[0].Price)
	require.Equal(t, 2, entries[0].Value)

	// удаление до нуля
	resp, err = client.R().Delete("/api/basket/10")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	var line basketLineJSONResponse
	resp, err = client.R().SetResult(&line).Delete("/api/basket/10")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.True(t, line.Deleted)

	resp, err = client.R().Delete("/api/basket/10")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode())

	// очистка пустой корзины - не ошибка
	resp, err = client.R().Delete("/api/basket")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
}

func TestPostOrder(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"пустая корзина", store.ErrEmptyBasket, http.StatusBadRequest},
		{"не хватает товара", &store.InsufficientStockError{Products: []string{"Утюг"}}, http.StatusBadRequest},
		{"не хватает средств", store.ErrInsufficientFunds, http.StatusBadRequest},
	}
	for i, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fake := newFakeStore()
			fake.purchaseErr = test.err
			srv := newTestServer(t, fake)
			client := register(t, srv, fmt.Sprintf("order-user-%d", i))

			resp, err := client.R().Post("/api/orders")
			require.NoError(t, err)
			require.Equal(t, test.wantCode, resp.StatusCode())
		})
	}
}

func TestPostOrderSuccess(t *testing.T) {
	fake := newFakeStore()
	fake.purchaseOrder = model.Order{
		Number: ordernum.Build(1),
		Total:  10000,
		Status: model.OrderStatusPending,
		Lines:  []model.OrderLine{{ProductID: 10, Value: 1, Price: 10000}},
	}
	srv := newTestServer(t, fake)
	client := register(t, srv, "success-user")

	var order orderJSONResponse
	resp, err := client.R().SetResult(&order).Post("/api/orders")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Equal(t, fake.purchaseOrder.Number, order.Number)
	require.Equal(t, float32(100), order.Total)
	require.Equal(t, model.OrderStatusPending, order.Status)
	require.Len(t, order.Lines, 1)
}

func TestGetOrderStatus(t *testing.T) {
	fake := newFakeStore()
	number := ordernum.Build(77)
	fake.orderStatuses[number] = model.OrderStatusPaid
	srv := newTestServer(t, fake)
	client := register(t, srv, "status-user")

	// некорректный номер
	resp, err := client.R().Get("/api/orders/not-a-number")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode())

	// корректный, но несуществующий
	resp, err = client.R().Get("/api/orders/" + ordernum.Build(88))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode())

	var status orderStatusJSONResponse
	resp, err = client.R().SetResult(&status).Get("/api/orders/" + number)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Equal(t, model.OrderStatusPaid, status.Status)
}

func TestSetOrderStatus(t *testing.T) {
	fake := newFakeStore()
	number := ordernum.Build(77)
	fake.orderStatuses[number] = model.OrderStatusPending
	srv := newTestServer(t, fake)

	// обычному пользователю нельзя
	client := register(t, srv, "plain-user")
	resp, err := client.R().
		SetBody(map[string]string{"status": model.OrderStatusPaid}).
		Patch("/api/orders/" + number + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode())

	// администратору можно
	admin := register(t, srv, "admin-user")
	adminID := fake.logins["admin-user"]
	user := fake.users[adminID]
	user.Role = model.UserRoleAdmin
	fake.users[adminID] = user

	resp, err = admin.R().
		SetBody(map[string]string{"status": model.OrderStatusPaid}).
		Patch("/api/orders/" + number + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Equal(t, model.OrderStatusPaid, fake.orderStatuses[number])

	// неизвестный статус
	resp, err = admin.R().
		SetBody(map[string]string{"status": "LOST"}).
		Patch("/api/orders/" + number + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode())
}
