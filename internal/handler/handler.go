package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Lomkaaa/M-Store-server/internal/auth"
	"github.com/Lomkaaa/M-Store-server/internal/gzip"
	"github.com/Lomkaaa/M-Store-server/internal/handler/config"
	"github.com/Lomkaaa/M-Store-server/internal/logger"
	"github.com/Lomkaaa/M-Store-server/internal/model"
	"github.com/Lomkaaa/M-Store-server/internal/service"
)

func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(auth, service, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type handler struct {
	auth    auth.Auth
	service service.Service
	zaplog  *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, zaplog *zap.Logger) *handler {
	return &handler{
		auth:    auth,
		service: service,
		zaplog:  zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/register", h.wrap(h.auth.Register))
	mux.HandleFunc("POST /api/login", h.wrap(h.auth.Login))

	mux.HandleFunc("GET /api/basket", h.wrapAuth(h.GetBasket))
	mux.HandleFunc("PATCH /api/basket/{productId}", h.wrapAuth(h.AddToBasket))
	mux.HandleFunc("DELETE /api/basket/{productId}", h.wrapAuth(h.RemoveFromBasket))
	mux.HandleFunc("DELETE /api/basket", h.wrapAuth(h.ClearBasket))

	mux.HandleFunc("POST /api/orders", h.wrapAuth(h.PostOrder))
	mux.HandleFunc("GET /api/orders", h.wrapAuth(h.GetOrders))
	mux.HandleFunc("GET /api/orders/{orderNumber}", h.wrapAuth(h.GetOrderStatus))
	mux.HandleFunc("PATCH /api/orders/{orderNumber}/status", h.wrapAuth(h.SetOrderStatus))

	mux.HandleFunc("GET /api/histories", h.wrapAuth(h.GetHistories))
	mux.HandleFunc("GET /api/balance", h.wrapAuth(h.GetBalance))
	mux.HandleFunc("POST /api/balance", h.wrapAuth(h.PostBalance))

	mux.HandleFunc("POST /api/products", h.wrapAuth(h.PostProduct))
	mux.HandleFunc("GET /api/products/{productId}", h.wrapAuth(h.GetProduct))

	return mux
}

func (h *handler) wrap(hf http.HandlerFunc) http.HandlerFunc {
	return gzip.GzipMiddleware(logger.RequestLogMdlw(hf, h.zaplog))
}

func (h *handler) wrapAuth(hf http.HandlerFunc) http.HandlerFunc {
	return h.wrap(h.auth.Middleware(hf))
}

func (h *handler) userID(w http.ResponseWriter, r *http.Request) (int, bool) {
	userID, err := strconv.Atoi(r.Header.Get(auth.UserCodeKey))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

func (h *handler) writeJSON(w http.ResponseWriter, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJSON)
}

// Корзина

type basketLineJSONResponse struct {
	ProductID int  `json:"productId"`
	Value     int  `json:"value"`
	Deleted   bool `json:"deleted,omitempty"`
}

type basketEntryJSONResponse struct {
	ProductID int     `json:"productId"`
	Name      string  `json:"name"`
	Price     float32 `json:"price"`
	Stock     int     `json:"stock"`
	Discount  int     `json:"discount"`
	Value     int     `json:"value"`
}

func (h *handler) AddToBasket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	productID, err := strconv.Atoi(r.PathValue("productId"))
	if err != nil {
		http.Error(w, "product id is invalid", http.StatusBadRequest)
		return
	}

	line, err := h.service.AddToBasket(r.Context(), userID, productID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, basketLineJSONResponse{ProductID: line.ProductID, Value: line.Value})
}

func (h *handler) RemoveFromBasket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	productID, err := strconv.Atoi(r.PathValue("productId"))
	if err != nil {
		http.Error(w, "product id is invalid", http.StatusBadRequest)
		return
	}

	line, deleted, err := h.service.RemoveFromBasket(r.Context(), userID, productID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if deleted {
		h.writeJSON(w, basketLineJSONResponse{ProductID: productID, Deleted: true})
		return
	}
	h.writeJSON(w, basketLineJSONResponse{ProductID: line.ProductID, Value: line.Value})
}

func (h *handler) ClearBasket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.service.ClearBasket(r.Context(), userID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) GetBasket(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	entries, err := h.service.GetBasket(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	entriesJSON := make([]basketEntryJSONResponse, 0, len(entries))
	for _, entry := range entries {
		entriesJSON = append(entriesJSON, basketEntryJSONResponse{
			ProductID: entry.Line.ProductID,
			Name:      entry.Product.Name,
			Price:     pointsOutput(entry.Product.Price),
			Stock:     entry.Product.Value,
			Discount:  entry.Product.Discount,
			Value:     entry.Line.Value,
		})
	}
	h.writeJSON(w, entriesJSON)
}

// Заказы

type orderLineJSONResponse struct {
	ProductID int     `json:"productId"`
	Value     int     `json:"value"`
	Price     float32 `json:"price"`
}

type orderJSONResponse struct {
	Number    string                  `json:"number"`
	Total     float32                 `json:"total"`
	Status    string                  `json:"status"`
	CreatedAt time.Time               `json:"created_at"`
	Lines     []orderLineJSONResponse `json:"lines"`
}

func orderJSON(order model.Order) orderJSONResponse {
	lines := make([]orderLineJSONResponse, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineJSONResponse{
			ProductID: line.ProductID,
			Value:     line.Value,
			Price:     pointsOutput(line.Price),
		})
	}
	return orderJSONResponse{
		Number:    order.Number,
		Total:     pointsOutput(order.Total),
		Status:    order.Status,
		CreatedAt: order.CreatedAt,
		Lines:     lines,
	}
}

func (h *handler) PostOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	order, err := h.service.Purchase(r.Context(), userID)
	if err != nil {
		var stockErr *service.InsufficientStockError
		switch {
		case errors.Is(err, service.ErrEmptyBasket),
			errors.Is(err, service.ErrInsufficientFunds),
			errors.As(err, &stockErr):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, orderJSON(order))
}

func (h *handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	orders, err := h.service.GetOrders(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ordersJSON := make([]orderJSONResponse, 0, len(orders))
	for _, order := range orders {
		ordersJSON = append(ordersJSON, orderJSON(order))
	}
	h.writeJSON(w, ordersJSON)
}

type orderStatusJSONResponse struct {
	Status string `json:"status"`
}

func (h *handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.userID(w, r); !ok {
		return
	}

	status, err := h.service.GetOrderStatus(r.Context(), r.PathValue("orderNumber"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, orderStatusJSONResponse{Status: status})
}

type setStatusJSONRequest struct {
	Status string `json:"status"`
}

func (h *handler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var statusJSON setStatusJSONRequest
	if err := json.Unmarshal(buf.Bytes(), &statusJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.service.SetOrderStatus(r.Context(), userID, r.PathValue("orderNumber"), statusJSON.Status)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, service.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

// История покупок

type historyLineJSONResponse struct {
	ProductID int `json:"productId"`
	Value     int `json:"value"`
}

type historyJSONResponse struct {
	ID        int                       `json:"id"`
	CreatedAt time.Time                 `json:"created_at"`
	Lines     []historyLineJSONResponse `json:"lines"`
}

func (h *handler) GetHistories(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	histories, err := h.service.GetHistories(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	historiesJSON := make([]historyJSONResponse, 0, len(histories))
	for _, history := range histories {
		lines := make([]historyLineJSONResponse, 0, len(history.Lines))
		for _, line := range history.Lines {
			lines = append(lines, historyLineJSONResponse{ProductID: line.ProductID, Value: line.Value})
		}
		historiesJSON = append(historiesJSON, historyJSONResponse{
			ID:        history.ID,
			CreatedAt: history.CreatedAt,
			Lines:     lines,
		})
	}
	h.writeJSON(w, historiesJSON)
}

// Баланс

type balanceJSONResponse struct {
	Current float32 `json:"current"`
}

func (h *handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, balanceJSONResponse{Current: pointsOutput(balance)})
}

type topUpJSONRequest struct {
	Sum float32 `json:"sum"`
}

func (h *handler) PostBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var topUpJSON topUpJSONRequest
	if err := json.Unmarshal(buf.Bytes(), &topUpJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := h.service.TopUpBalance(r.Context(), userID, pointsInput(topUpJSON.Sum))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Товары

type productJSONRequest struct {
	Name     string  `json:"name"`
	Price    float32 `json:"price"`
	Value    int     `json:"value"`
	Discount int     `json:"discount"`
}

type productJSONResponse struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Price    float32 `json:"price"`
	Value    int     `json:"value"`
	Discount int     `json:"discount"`
}

func (h *handler) PostProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var productJSON productJSONRequest
	if err := json.Unmarshal(buf.Bytes(), &productJSON); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	product, err := h.service.CreateProduct(r.Context(), userID, model.Product{
		Name:     productJSON.Name,
		Price:    pointsInput(productJSON.Price),
		Value:    productJSON.Value,
		Discount: productJSON.Discount,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, service.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, productJSONResponse{
		ID:       product.ID,
		Name:     product.Name,
		Price:    pointsOutput(product.Price),
		Value:    product.Value,
		Discount: product.Discount,
	})
}

func (h *handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.userID(w, r); !ok {
		return
	}
	productID, err := strconv.Atoi(r.PathValue("productId"))
	if err != nil {
		http.Error(w, "product id is invalid", http.StatusBadRequest)
		return
	}

	product, err := h.service.GetProduct(r.Context(), productID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, productJSONResponse{
		ID:       product.ID,
		Name:     product.Name,
		Price:    pointsOutput(product.Price),
		Value:    product.Value,
		Discount: product.Discount,
	})
}

// Деньги хранятся в копейках, наружу отдаются в рублях

func pointsOutput(points int64) float32 {
	return float32(points) / 100
}

func pointsInput(points float32) int64 {
	return int64(math.Round(float64(points) * 100))
}
