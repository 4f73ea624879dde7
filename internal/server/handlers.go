package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tablecrm-orders-go/internal/models"
	"tablecrm-orders-go/internal/order"
	"tablecrm-orders-go/internal/session"
	"tablecrm-orders-go/internal/tablecrm"
)

const sessionMaxAge = 30 * 24 * time.Hour

type loginReq struct {
	Token string `json:"token"`
}

func (s *Server) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	key := sessionKey(c)
	if key == "" {
		key = session.NewKey()
	}
	sess, err := s.sessions.Login(c.Request.Context(), key, req.Token)
	if errors.Is(err, session.ErrInvalidToken) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, sess.Key, int(sessionMaxAge.Seconds()), "/", "", s.opts.SecureCookies, true)
	c.JSON(http.StatusOK, gin.H{"session_id": sess.Key, "created_at": sess.CreatedAt})
}

func (s *Server) sessionStatus(c *gin.Context) {
	sess := currentSession(c)
	c.JSON(http.StatusOK, gin.H{
		"session_id":     sess.Key,
		"created_at":     sess.CreatedAt,
		"connected":      sess.Processor.CheckConnection(c.Request.Context()),
		"clients_cached": sess.Clients.Loaded(),
		"products":       sess.Products.Len(),
	})
}

func (s *Server) logout(c *gin.Context) {
	sess := currentSession(c)
	if err := s.sessions.Logout(c.Request.Context(), sess.Key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", s.opts.SecureCookies, true)
	c.Status(http.StatusNoContent)
}

func (s *Server) reference(c *gin.Context) {
	sess := currentSession(c)
	ref := sess.Reference(c.Request.Context())
	draft := sess.ApplyDefaults(ref)
	c.JSON(http.StatusOK, gin.H{"reference": ref, "draft": newDraftResp(draft)})
}

func (s *Server) searchClients(c *gin.Context) {
	sess := currentSession(c)
	clients := sess.Clients.Search(c.Request.Context(), c.Query("q"))
	c.JSON(http.StatusOK, gin.H{"clients": clients, "count": len(clients)})
}

func (s *Server) reloadClients(c *gin.Context) {
	sess := currentSession(c)
	sess.Clients.Reset()
	clients, err := sess.Clients.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(clients)})
}

type placeholderReq struct {
	Phone string `json:"phone"`
}

// placeholderClient synthesizes a new client for a phone and selects it in the draft
func (s *Server) placeholderClient(c *gin.Context) {
	var req placeholderReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}
	sess := currentSession(c)
	client := sess.Clients.Placeholder(req.Phone)
	sess.EditDraft(func(o *models.Order) error {
		o.Client = &client
		return nil
	})
	c.JSON(http.StatusCreated, client)
}

func (s *Server) searchProducts(c *gin.Context) {
	sess := currentSession(c)
	products := sess.SearchProducts(c.Request.Context(), c.Query("q"))
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

func (s *Server) refreshProducts(c *gin.Context) {
	sess := currentSession(c)
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	sess.Products.Refresh(c.Request.Context(), sess.API, limit)
	c.JSON(http.StatusOK, gin.H{"count": sess.Products.Len()})
}

func (s *Server) categoryTree(c *gin.Context) {
	sess := currentSession(c)
	if c.Query("reload") == "true" {
		c.JSON(http.StatusOK, sess.Categories.Reload(c.Request.Context()))
		return
	}
	c.JSON(http.StatusOK, sess.Categories.Tree(c.Request.Context()))
}

type flatCategory struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Parent       *string `json:"parent"`
	ProductCount int     `json:"nom_count"`
}

func (s *Server) flatCategories(c *gin.Context) {
	sess := currentSession(c)
	found := sess.Categories.Search(c.Request.Context(), c.Query("q"))
	out := make([]flatCategory, 0, len(found))
	for _, cat := range found {
		out = append(out, flatCategory{ID: cat.ID, Name: cat.Name, Parent: cat.Parent, ProductCount: cat.ProductCount})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) categoryProducts(c *gin.Context) {
	sess := currentSession(c)
	products := sess.Categories.Products(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

func (s *Server) listOrders(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}
	filter := c.DefaultQuery("filter", session.FilterAll)
	switch filter {
	case session.FilterAll, session.FilterActive, session.FilterCompleted:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "filter must be all, active or completed"})
		return
	}

	sess := currentSession(c)
	orders := sess.Orders(c.Request.Context(), limit, offset, filter)
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

// createOrder submits an order sent in full by the client, bypassing the draft
func (s *Server) createOrder(c *gin.Context) {
	var o models.Order
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sess := currentSession(c)
	result, err := sess.Processor.Submit(c.Request.Context(), &o, c.Query("conduct") == "true")
	s.writeSubmission(c, result, err)
}

func (s *Server) writeSubmission(c *gin.Context, result *models.SubmissionResult, err error) {
	if err == nil {
		c.JSON(http.StatusCreated, result)
		return
	}
	c.JSON(mapErrorToStatus(err), result)
}

type draftResp struct {
	Order    models.Order    `json:"order"`
	Total    decimal.Decimal `json:"total"`
	Discount decimal.Decimal `json:"discount"`
}

func newDraftResp(o models.Order) draftResp {
	return draftResp{Order: o, Total: o.Total(), Discount: o.Discount()}
}

func (s *Server) getDraft(c *gin.Context) {
	c.JSON(http.StatusOK, newDraftResp(currentSession(c).Draft()))
}

func (s *Server) replaceDraft(c *gin.Context) {
	var o models.Order
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	c.JSON(http.StatusOK, newDraftResp(currentSession(c).SetDraft(o)))
}

func (s *Server) clearDraft(c *gin.Context) {
	currentSession(c).ResetDraft()
	c.Status(http.StatusNoContent)
}

func (s *Server) setDraftClient(c *gin.Context) {
	var client models.Client
	if err := c.ShouldBindJSON(&client); err != nil || client.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "client id is required"})
		return
	}
	draft, _ := currentSession(c).EditDraft(func(o *models.Order) error {
		o.Client = &client
		return nil
	})
	c.JSON(http.StatusOK, newDraftResp(draft))
}

type addItemReq struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

func (s *Server) addDraftItem(c *gin.Context) {
	var req addItemReq
	if err := c.ShouldBindJSON(&req); err != nil || req.ProductID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_id is required"})
		return
	}
	if req.Quantity.IsZero() {
		req.Quantity = decimal.NewFromInt(1)
	}
	sess := currentSession(c)
	if _, ok := sess.Products.Get(req.ProductID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	draft, err := sess.AddProduct(req.ProductID, req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, newDraftResp(draft))
}

type updateItemReq struct {
	Quantity decimal.Decimal `json:"quantity"`
}

func (s *Server) updateDraftItem(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}
	var req updateItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	draft, err := currentSession(c).EditDraft(func(o *models.Order) error {
		return o.SetQuantity(index, req.Quantity)
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, newDraftResp(draft))
}

func (s *Server) removeDraftItem(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}
	draft, err := currentSession(c).EditDraft(func(o *models.Order) error {
		return o.RemoveItem(index)
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, newDraftResp(draft))
}

func (s *Server) submitDraft(c *gin.Context) {
	result, err := currentSession(c).SubmitDraft(c.Request.Context(), c.Query("conduct") == "true")
	s.writeSubmission(c, result, err)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func mapErrorToStatus(err error) int {
	var verr *order.ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity
	}
	var apiErr *tablecrm.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
