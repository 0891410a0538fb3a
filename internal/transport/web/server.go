package web

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"perpilot/internal/gateway/database"
	okxgw "perpilot/internal/gateway/okx"
	"perpilot/internal/logger"
	"perpilot/internal/telemetry"
)

// Status 运行状态快照，由 live 服务填充。
type Status struct {
	InstID       string    `json:"inst_id"`
	Mode         string    `json:"mode"` // full | short
	StartedAt    time.Time `json:"started_at"`
	CycleCount   int64     `json:"cycle_count"`
	LastCycleAt  time.Time `json:"last_cycle_at"`
	LastDecision string    `json:"last_decision"`
	LastError    string    `json:"last_error"`
}

// StatusFunc 注入点：后台每次请求实时取一份状态。
type StatusFunc func() Status

// Server 只读后台：展示最近决策、订单、持仓与运行状态，不提供任何下单入口。
type Server struct {
	addr   string
	instID string
	store  *database.DecisionLogStore
	gw     *okxgw.Client
	status StatusFunc
}

func NewServer(addr, instID string, store *database.DecisionLogStore, gw *okxgw.Client, status StatusFunc) *Server {
	return &Server{addr: addr, instID: instID, store: store, gw: gw, status: status}
}

func (s *Server) router() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	tpl := template.Must(template.New("").ParseFS(Templates, "templates/*.html"))
	r.SetHTMLTemplate(tpl)
	staticFS, err := fs.Sub(Static, "static")
	if err != nil {
		return nil, err
	}
	r.StaticFS("/static", http.FS(staticFS))

	r.GET("/", s.handleIndex)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(telemetry.Handler()))

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/decisions", s.handleDecisions)
		api.GET("/orders", s.handleOrders)
		api.GET("/events", s.handleEvents)
		api.GET("/positions", s.handlePositions)
		api.GET("/account", s.handleAccount)
	}
	return r, nil
}

// Run 启动 HTTP 服务，ctx 取消后优雅退出。
func (s *Server) Run(ctx context.Context) error {
	r, err := s.router()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Infof("✓ 后台服务已启动: http://%s", s.addr)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Warnf("后台服务关闭异常: %v", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "dashboard.html", gin.H{
		"InstID": s.instID,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{"inst_id": s.instID}
	if s.status != nil {
		st := s.status()
		resp["status"] = st
		resp["uptime_seconds"] = int64(time.Since(st.StartedAt).Seconds())
	}
	if s.store != nil {
		if n, err := s.store.CountDecisions(c.Request.Context()); err == nil {
			resp["decision_count"] = n
		}
		if open, err := s.store.ListOpenOrders(c.Request.Context()); err == nil {
			resp["open_orders"] = len(open)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDecisions(c *gin.Context) {
	recs, err := s.store.ListRecentDecisions(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": recs})
}

func (s *Server) handleOrders(c *gin.Context) {
	recs, err := s.store.ListRecentOrders(c.Request.Context(), queryLimit(c, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": recs})
}

func (s *Server) handleEvents(c *gin.Context) {
	orderID, _ := strconv.ParseInt(c.Query("order_id"), 10, 64)
	evs, err := s.store.ListMonitorEvents(c.Request.Context(), orderID, queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) handlePositions(c *gin.Context) {
	if s.gw == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "交易所网关未初始化"})
		return
	}
	positions, err := s.gw.Positions(c.Request.Context(), s.instID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, gin.H{
			"inst_id":        p.InstID,
			"pos_side":       p.PosSide,
			"contracts":      p.Pos,
			"avg_px":         p.AvgPx,
			"unrealized_pnl": p.Upl,
			"lever":          p.Lever,
			"liq_px":         p.LiqPx,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) handleAccount(c *gin.Context) {
	if s.gw == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "交易所网关未初始化"})
		return
	}
	bal, err := s.gw.Balance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_eq": bal.TotalEq, "avail_eq": bal.AvailEq, "ccy": "USDT"})
}

// queryLimit 解析 ?limit= 并限制在 [1,500]。
func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > 500 {
		return 500
	}
	return n
}
