package api

import (
	"net/http"
	"strconv"

	"flowtrader/internal/metrics"
	"flowtrader/internal/risk"
	"flowtrader/pkg/db"

	"github.com/gin-gonic/gin"
)

// SystemMeta describes runtime status exposed by the API.
type SystemMeta struct {
	Mode     string
	DryRun   bool
	Strategy string
	Symbols  []string
	Version  string
}

// Server exposes read-only observability endpoints over the engine. It
// renders nothing itself; it is a data surface for external tooling.
type Server struct {
	Router         *gin.Engine
	Manager        *risk.Manager
	DB             *db.Database
	JWTSecret      string
	InitialBalance float64
	Meta           SystemMeta
}

// NewServer builds the HTTP server and its routes.
func NewServer(mgr *risk.Manager, database *db.Database, meta SystemMeta, jwtSecret string, initialBalance float64) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(NewIPRateLimiter().Middleware())

	s := &Server{
		Router:         r,
		Manager:        mgr,
		DB:             database,
		JWTSecret:      jwtSecret,
		InitialBalance: initialBalance,
		Meta:           meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getStatus)
			protected.GET("/metrics", s.getMetrics)
			protected.GET("/trades", s.getTrades)
			protected.GET("/positions", s.getPositions)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mode":           s.Meta.Mode,
		"dry_run":        s.Meta.DryRun,
		"strategy":       s.Meta.Strategy,
		"symbols":        s.Meta.Symbols,
		"version":        s.Meta.Version,
		"open_positions": len(s.Manager.OpenPositions()),
		"closed_trades":  len(s.Manager.Trades()),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	summary := metrics.Compute(s.Manager.Trades(), s.InitialBalance)
	c.JSON(http.StatusOK, gin.H{
		"total_trades":     summary.TotalTrades,
		"wins":             summary.Wins,
		"losses":           summary.Losses,
		"win_rate":         summary.WinRate,
		"avg_win":          summary.AvgWin,
		"avg_loss":         summary.AvgLoss,
		"profit_factor":    renderFactor(summary.ProfitFactor),
		"total_pnl":        summary.TotalPnL,
		"total_return_pct": summary.TotalReturnPct,
		"max_drawdown_pct": summary.MaxDrawdownPct,
		"initial_balance":  summary.InitialBalance,
		"final_balance":    summary.FinalBalance,
	})
}

func (s *Server) getTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	if s.DB != nil {
		rows, err := s.DB.ListTrades(c.Request.Context(), symbol, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "trade journal unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": rows})
		return
	}

	// no journal configured: serve the in-memory log
	var out []risk.Trade
	for _, tr := range s.Manager.Trades() {
		if symbol != "" && tr.Symbol != symbol {
			continue
		}
		out = append(out, tr)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Manager.OpenPositions()})
}

// renderFactor keeps +Inf JSON-safe.
func renderFactor(f float64) any {
	if f > 1e308 {
		return "inf"
	}
	return f
}

// Start serves until the listener fails.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
