package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/session"
)

// Options configures the HTTP front-end
type Options struct {
	// APIURL is the TableCRM API base used by the serverless proxy
	APIURL string
	// ProxyTarget is the TableCRM host that /api/* is forwarded to
	ProxyTarget string
	// ProxyHTTPClient overrides the client used by both proxies
	ProxyHTTPClient *http.Client
	// SecureCookies marks the session cookie Secure
	SecureCookies bool
}

// Server is the HTTP front-end of the order application
type Server struct {
	engine   *gin.Engine
	opts     Options
	sessions *session.Manager
	metrics  *Metrics
	logger   *logrus.Logger
}

// NewServer builds the router
func NewServer(opts Options, sessions *session.Manager, metrics *Metrics, logger *logrus.Logger) (*Server, error) {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), cors())
	if metrics != nil {
		r.Use(metrics.Middleware())
	}

	s := &Server{engine: r, opts: opts, sessions: sessions, metrics: metrics, logger: logger}
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Engine returns the gin engine
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() error {
	s.engine.GET("/healthz", s.health)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	proxy, err := s.newReverseProxy(s.opts.ProxyTarget)
	if err != nil {
		return err
	}
	s.engine.Any("/api/*path", gin.WrapH(proxy))
	s.engine.Any("/proxy", s.serverlessProxy)

	app := s.engine.Group("/app")
	app.POST("/session", s.login)

	authed := app.Group("", s.requireSession())
	{
		authed.GET("/session", s.sessionStatus)
		authed.DELETE("/session", s.logout)

		authed.GET("/reference", s.reference)

		authed.GET("/clients", s.searchClients)
		authed.POST("/clients/reload", s.reloadClients)
		authed.POST("/clients/placeholder", s.placeholderClient)

		authed.GET("/products", s.searchProducts)
		authed.POST("/products/refresh", s.refreshProducts)

		authed.GET("/categories", s.categoryTree)
		authed.GET("/categories/flat", s.flatCategories)
		authed.GET("/categories/:id/products", s.categoryProducts)

		authed.GET("/orders", s.listOrders)
		authed.POST("/orders", s.createOrder)

		draft := authed.Group("/draft")
		draft.GET("", s.getDraft)
		draft.PUT("", s.replaceDraft)
		draft.DELETE("", s.clearDraft)
		draft.PUT("/client", s.setDraftClient)
		draft.POST("/items", s.addDraftItem)
		draft.PATCH("/items/:index", s.updateDraftItem)
		draft.DELETE("/items/:index", s.removeDraftItem)
		draft.POST("/submit", s.submitDraft)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.sessions.Count()})
}
