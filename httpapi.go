package main

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shortbreak/broker"
	"shortbreak/metrics"
	"shortbreak/store"
)

// Server wires the REST control surface of spec.md §6 onto gin, grounded
// on the teacher's main.go router setup (auth middleware + JSON
// handlers) generalized from a single exchange-mode API to the fuller
// login/eligibility/trading-control/watchlist/logs surface this domain
// needs.
type Server struct {
	router *gin.Engine

	auth      *AuthManager
	state     *EngineState
	watchlist *store.WatchlistStore
	elig      *EligibilityClassifier
	rc        *RunController
	brokerCl  broker.Broker
	priceHub  *Hub
	statusHub *Hub
	logDir    string

	frontendOrigins []string
}

func NewServer(auth *AuthManager, state *EngineState, watchlist *store.WatchlistStore, elig *EligibilityClassifier, rc *RunController, brokerCl broker.Broker, priceHub, statusHub *Hub, logDir string, frontendOrigins []string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:          gin.New(),
		auth:            auth,
		state:           state,
		watchlist:       watchlist,
		elig:            elig,
		rc:              rc,
		brokerCl:        brokerCl,
		priceHub:        priceHub,
		statusHub:       statusHub,
		logDir:          logDir,
		frontendOrigins: frontendOrigins,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(gin.Recovery(), s.corsMiddleware())

	r.POST("/api/login", s.handleLogin)
	r.POST("/api/logout", s.authRequired(), s.handleLogout)
	r.GET("/api/check-session", s.authRequired(), s.handleCheckSession)

	r.POST("/api/check-eligibility", s.authRequired(), s.handleCheckEligibility)
	r.POST("/api/start-trading", s.authRequired(), s.handleStartTrading)
	r.POST("/api/stop-trading", s.authRequired(), s.handleStopTrading)
	r.POST("/api/reset-state", s.authRequired(), s.handleResetState)

	r.GET("/api/trading-config", s.authRequired(), s.handleGetTradingConfig)
	r.PUT("/api/trading-config", s.authRequired(), s.handlePutTradingConfig)

	r.GET("/api/state", s.authRequired(), s.handleState)
	r.GET("/api/account-details", s.authRequired(), s.handleAccountDetails)

	wl := r.Group("/api/watchlist", s.authRequired())
	wl.GET("", s.handleWatchlistList)
	wl.POST("", s.handleWatchlistAdd)
	wl.PUT("/:symbol/:date", s.handleWatchlistUpdate)
	wl.DELETE("/:symbol/:date", s.handleWatchlistDelete)

	logs := r.Group("/api/logs", s.authRequired())
	logs.GET("", s.handleLogsGet)
	logs.GET("/download", s.handleLogsDownload)
	logs.GET("/stats", s.handleLogsStats)
	logs.DELETE("", s.handleLogsClear)

	r.GET("/ws/price", func(c *gin.Context) { s.priceHub.HandleWebSocket(c.Writer, c.Request) })
	r.GET("/ws/status", func(c *gin.Context) { s.statusHub.HandleWebSocket(c.Writer, c.Request) })

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	r.GET("/healthz", s.handleHealthz)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool, len(s.frontendOrigins))
	for _, o := range s.frontendOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

const sessionContextKey = "session"

// authRequired enforces the bearer-token session on every protected
// route, per spec.md §6.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			respondError(c, ErrNotAuthenticated)
			c.Abort()
			return
		}
		sess, err := s.auth.Verify(header[len(prefix):])
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

// respondError maps a sentinel error to the {success:false,error} shape
// of spec.md §7, choosing a status code by error class.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrNoStocksForToday),
		errors.Is(err, ErrNoEligibleStocks),
		errors.Is(err, ErrNoOpenPosition),
		errors.Is(err, ErrEngineAlreadyRunning):
		status = http.StatusBadRequest
	case errors.Is(err, ErrFeedSetupFailed),
		errors.Is(err, ErrFeedConnectTimeout),
		errors.Is(err, ErrFirstTickTimeout),
		errors.Is(err, ErrBrokerSessionUnavail),
		errors.Is(err, ErrOrderSubmissionFailed):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ErrInvalidRequest)
		return
	}
	token, sess, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	s.state.SetLogin(sess.UserName)
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "user_name": sess.UserName})
}

func (s *Server) handleLogout(c *gin.Context) {
	s.state.ClearLogin()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleCheckSession(c *gin.Context) {
	sess := c.MustGet(sessionContextKey).(Session)
	c.JSON(http.StatusOK, gin.H{"success": true, "user_name": sess.UserName, "expiry": sess.Expiry})
}

func (s *Server) handleCheckEligibility(c *gin.Context) {
	var req struct {
		Force bool `json:"force"`
	}
	_ = c.ShouldBindJSON(&req)

	result, err := s.elig.Run(c.Request.Context(), req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (s *Server) handleStartTrading(c *gin.Context) {
	if err := s.rc.Start(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleStopTrading(c *gin.Context) {
	s.rc.Stop()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleResetState(c *gin.Context) {
	s.state.Reset()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleGetTradingConfig(c *gin.Context) {
	snap := s.state.Snapshot()
	c.JSON(http.StatusOK, gin.H{"success": true, "config": snap.Config})
}

func (s *Server) handlePutTradingConfig(c *gin.Context) {
	var req TradingConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ErrInvalidRequest)
		return
	}
	if req.TargetPercent <= 0 || req.MaxMargin <= 0 || req.CandleIntervalMinutes <= 0 {
		respondError(c, ErrInvalidRequest)
		return
	}
	s.state.UpdateConfig(func(cfg *TradingConfig) {
		cfg.TargetPercent = req.TargetPercent
		cfg.MaxMargin = req.MaxMargin
		cfg.CandleIntervalMinutes = req.CandleIntervalMinutes
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleState(c *gin.Context) {
	snap := s.state.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"status":            snap.Status,
		"current_step":      snap.CurrentStep,
		"run_id":            snap.RunID,
		"is_running":        snap.IsRunning,
		"logged_in":         snap.LoggedIn,
		"order_placed":      snap.OrderPlaced,
		"position":          snap.Position,
		"remaining_seconds": snap.RemainingSeconds(),
	})
}

// handleAccountDetails proxies orders/positions/holdings straight from the
// broker, grounded on the teacher's profile/margins pass-through handlers.
func (s *Server) handleAccountDetails(c *gin.Context) {
	ctx := c.Request.Context()

	orders, err := s.brokerCl.Orders(ctx)
	if err != nil {
		respondError(c, ErrBrokerSessionUnavail)
		return
	}
	positions, err := s.brokerCl.Positions(ctx)
	if err != nil {
		respondError(c, ErrBrokerSessionUnavail)
		return
	}
	holdings, err := s.brokerCl.Holdings(ctx)
	if err != nil {
		respondError(c, ErrBrokerSessionUnavail)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"orders":    orders,
		"positions": positions.Net,
		"holdings":  holdings,
	})
}

func (s *Server) handleWatchlistList(c *gin.Context) {
	date := c.Query("date")
	rows, err := s.watchlist.List(date)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rows": rows})
}

func (s *Server) handleWatchlistAdd(c *gin.Context) {
	var row store.WatchlistRow
	if err := c.ShouldBindJSON(&row); err != nil {
		respondError(c, ErrInvalidRequest)
		return
	}
	if row.Date == "" {
		row.Date = store.Today()
	}
	if err := s.watchlist.Add(row); err != nil {
		respondError(c, err)
		return
	}
	s.state.MarkWatchlistUpdated()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleWatchlistUpdate(c *gin.Context) {
	origSymbol, origDate := c.Param("symbol"), c.Param("date")
	var row store.WatchlistRow
	if err := c.ShouldBindJSON(&row); err != nil {
		respondError(c, ErrInvalidRequest)
		return
	}
	if err := s.watchlist.Update(origSymbol, origDate, row); err != nil {
		respondError(c, err)
		return
	}
	s.state.MarkWatchlistUpdated()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleWatchlistDelete(c *gin.Context) {
	symbol, date := c.Param("symbol"), c.Param("date")
	if err := s.watchlist.Delete(symbol, date); err != nil {
		respondError(c, err)
		return
	}
	s.state.MarkWatchlistUpdated()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleLogsGet(c *gin.Context) {
	data, err := os.ReadFile(s.logDir + "/engine.log")
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "lines": []string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "content": string(data)})
}

func (s *Server) handleLogsDownload(c *gin.Context) {
	path := s.logDir + "/engine.log"
	if _, err := os.Stat(path); err != nil {
		respondError(c, ErrInvalidRequest)
		return
	}
	c.FileAttachment(path, "engine.log")
}

func (s *Server) handleLogsStats(c *gin.Context) {
	info, err := os.Stat(s.logDir + "/engine.log")
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "size_bytes": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "size_bytes": info.Size(), "modified": info.ModTime().Format(time.RFC3339)})
}

func (s *Server) handleLogsClear(c *gin.Context) {
	if err := os.Truncate(s.logDir+"/engine.log", 0); err != nil && !os.IsNotExist(err) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
