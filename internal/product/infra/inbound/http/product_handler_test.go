package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/productregistry/internal/product/application"
	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedUtils "github.com/davicafu/productregistry/internal/shared/infra/utils"
	"github.com/davicafu/productregistry/tests/mocks"
)

type apiFixture struct {
	router      *gin.Engine
	repo        *mocks.InMemoryProductRepo
	projection  *application.ProjectionDispatcher
	broadcaster *application.Broadcaster
	inspector   *mockInspector
}

type mockInspector struct {
	mock.Mock
}

func (m *mockInspector) ListDeadLettered(ctx context.Context, aggregateType string, maxRetries, limit int) ([]sharedDomain.OutboxMessage, error) {
	args := m.Called(ctx, aggregateType, maxRetries, limit)
	msgs, _ := args.Get(0).([]sharedDomain.OutboxMessage)
	return msgs, args.Error(1)
}

func (m *mockInspector) Requeue(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func newAPIFixture() apiFixture {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	repo := mocks.NewInMemoryProductRepo()
	views := mocks.NewInMemoryViewRepo()
	broadcaster := application.NewBroadcaster(16, log)
	cfg := application.CommandConfig{Retries: 2, Backoff: sharedUtils.BackoffPolicy{Base: time.Millisecond, Max: time.Millisecond}}
	commands := application.NewProductService(repo, cfg, log)
	queries := application.NewReadService(views, repo, nil, time.Minute, broadcaster, log)
	inspector := new(mockInspector)

	r := gin.New()
	RegisterHealthRoute(r)
	RegisterProductRoutes(r, NewProductHandler(commands, queries, log))
	RegisterAdminRoutes(r, NewAdminHandler(inspector, queries, 5, log))

	return apiFixture{
		router:      r,
		repo:        repo,
		projection:  application.NewProjectionDispatcher(views, nil, time.Minute, broadcaster, log),
		broadcaster: broadcaster,
		inspector:   inspector,
	}
}

func (f apiFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// project hace de dispatcher del outbox: proyecta lo pendiente.
func (f apiFixture) project(t *testing.T) {
	t.Helper()
	for _, entry := range f.repo.Outbox {
		_, err := f.projection.DispatchEntry(context.Background(), entry)
		require.NoError(t, err)
	}
	f.repo.Outbox = nil
}

func (f apiFixture) register(t *testing.T, sku string) uuid.UUID {
	t.Helper()
	w := f.do(http.MethodPost, "/products", gin.H{"name": "Laptop", "description": "14 inch", "skuId": sku})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp versionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.ID
}

func TestHealth(t *testing.T) {
	f := newAPIFixture()
	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRegisterProduct(t *testing.T) {
	f := newAPIFixture()

	tests := []struct {
		name     string
		body     gin.H
		wantCode int
	}{
		{name: "valid", body: gin.H{"name": "Laptop", "skuId": "ABC-12345"}, wantCode: http.StatusCreated},
		{name: "duplicate sku", body: gin.H{"name": "Other", "skuId": "ABC-12345"}, wantCode: http.StatusConflict},
		{name: "invalid sku", body: gin.H{"name": "Laptop", "skuId": "bad"}, wantCode: http.StatusBadRequest},
		{name: "blank name", body: gin.H{"name": "   ", "skuId": "XYZ-99999"}, wantCode: http.StatusBadRequest},
		{name: "missing fields", body: gin.H{}, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/products", tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestCommandsReturnVersions(t *testing.T) {
	// Arrange
	f := newAPIFixture()
	id := f.register(t, "ABC-12345")

	// Act
	renamed := f.do(http.MethodPatch, "/products/"+id.String()+"/name", gin.H{"name": "Gaming Laptop"})
	described := f.do(http.MethodPatch, "/products/"+id.String()+"/description", gin.H{"description": ""})
	retired := f.do(http.MethodDelete, "/products/"+id.String(), nil)
	again := f.do(http.MethodPatch, "/products/"+id.String()+"/name", gin.H{"name": "Nope"})

	// Assert
	assert.Equal(t, http.StatusOK, renamed.Code)
	assert.JSONEq(t, `{"id":"`+id.String()+`","version":2}`, renamed.Body.String())
	assert.Equal(t, http.StatusOK, described.Code)
	assert.Equal(t, http.StatusOK, retired.Code)
	assert.JSONEq(t, `{"id":"`+id.String()+`","version":4}`, retired.Body.String())
	assert.Equal(t, http.StatusConflict, again.Code)
}

func TestCommandErrors(t *testing.T) {
	f := newAPIFixture()

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/products/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/products/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		f.do(http.MethodPatch, "/products/"+uuid.NewString()+"/description", gin.H{}).Code)
}

func TestQueries(t *testing.T) {
	// Arrange
	f := newAPIFixture()
	id := f.register(t, "ABC-12345")
	f.register(t, "ABD-00001")
	f.register(t, "XYZ-00001")
	f.project(t)

	// Act + Assert: por id
	w := f.do(http.MethodGet, "/products/"+id.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view productDomain.ProductView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "ABC-12345", view.SkuID)
	assert.Equal(t, []productDomain.CatalogRef{}, view.Catalogs)

	// por SKU
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/products/sku/ABC-12345", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/products/sku/QQQ-00000", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/products/sku/nope", nil).Code)

	// búsqueda paginada
	w = f.do(http.MethodGet, "/products?sku=ab&page=0&size=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data  []productDomain.ProductSummary `json:"data"`
		Page  int                            `json:"page"`
		Size  int                            `json:"size"`
		Total int64                          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(2), page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "ABC-12345", page.Data[0].SkuID)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/products?page=x", nil).Code)

	// historial
	w = f.do(http.MethodGet, "/products/"+id.String()+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []sharedDomain.EventLogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, string(productDomain.EventRegistered), history[0].EventType)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/products/"+uuid.NewString()+"/history", nil).Code)
}

// streamRecorder añade CloseNotify, que c.Stream necesita.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func TestStreamProduct_SendsNotificationsAsSSE(t *testing.T) {
	// Arrange
	f := newAPIFixture()
	id := uuid.New()
	other := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/products/"+id.String()+"/stream", nil).WithContext(ctx)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool)}
	done := make(chan struct{})

	// Act
	go func() {
		f.router.ServeHTTP(w, req)
		close(done)
	}()
	require.Eventually(t, func() bool { return f.broadcaster.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	f.broadcaster.Broadcast(application.Notification{EventType: productDomain.EventRenamed, AggregateID: other})
	f.broadcaster.Broadcast(application.Notification{EventType: productDomain.EventRetired, AggregateID: id})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	// Assert
	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event:"+string(productDomain.EventRetired))
	assert.Contains(t, body, id.String())
	assert.NotContains(t, body, other.String())
	assert.Equal(t, 0, f.broadcaster.Subscribers())
}

func TestStreamProductList_RejectsBadPage(t *testing.T) {
	f := newAPIFixture()
	w := f.do(http.MethodGet, "/streams/products?size=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "invalid size"))
}
