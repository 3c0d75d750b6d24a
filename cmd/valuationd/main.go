// Command valuationd hosts the loan-pool valuation kernel over HTTP,
// adapting the teacher's main.go (gin.New + gin.Logger/Recovery,
// info/loans routes, a package-level registry guarded by a mutex) to
// the segmentation/hazard/Monte Carlo pipeline (spec §6).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jiangshenghai57/loanvalkernel/internal/config"
	"github.com/jiangshenghai57/loanvalkernel/internal/logger"
	"github.com/jiangshenghai57/loanvalkernel/internal/metrics"
	"github.com/jiangshenghai57/loanvalkernel/loan"
	"github.com/jiangshenghai57/loanvalkernel/registry"
	"github.com/jiangshenghai57/loanvalkernel/valerr"
	"github.com/jiangshenghai57/loanvalkernel/valtypes"
	"github.com/jiangshenghai57/loanvalkernel/valuation"
)

type server struct {
	cfg     config.Config
	handle  *registry.Handle
	log     *logger.Logger
	metrics *metrics.Registry
	service *valuation.Service
}

func requestID() string { return uuid.NewString() }

func (s *server) withRequestLog(c *gin.Context) *slog.Logger {
	id := requestID()
	c.Header("X-Request-Id", id)
	return s.log.With("request_id", id)
}

func writeError(c *gin.Context, err error) {
	if ve, ok := err.(*valerr.Error); ok {
		status := http.StatusInternalServerError
		switch ve.Code {
		case valerr.InvalidInput, valerr.BadFormat:
			status = http.StatusBadRequest
		case valerr.VariantNotFound, valerr.MissingArtifact:
			status = http.StatusNotFound
		case valerr.Timeout:
			status = http.StatusGatewayTimeout
		case valerr.Cancelled:
			status = 499
		}
		c.JSON(status, gin.H{"code": ve.Code, "error": ve.Error(), "loan_id": ve.LoanID, "field": ve.Field})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

type valuationRequest struct {
	Loans         []loan.Loan               `json:"loans" binding:"required"`
	Simulation    valtypes.SimulationConfig `json:"simulation"`
	PurchasePrice *float64                  `json:"purchase_price,omitempty"`
}

func (s *server) postValuations(c *gin.Context) {
	log := s.withRequestLog(c)
	var req valuationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("valuations: bad request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	result, err := s.service.Value(ctx, req.Loans, req.Simulation, req.PurchasePrice)
	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	s.metrics.ValuationRequests.WithLabelValues(outcome).Inc()
	s.metrics.ValuationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	s.metrics.DrawsCompleted.Add(float64(result.DrawsCompleted))
	for _, lr := range result.LoanResults {
		s.metrics.ObserveFallbacks(lr.Fallbacks)
	}

	if err != nil {
		log.Error("valuations: failed", "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// bidAnalysisRequest mirrors spec §6's `run_bid_analysis(npv_distribution,
// loans, bid_config)`. When NPVDistribution is supplied (e.g. reusing the
// distribution from a prior /valuations call), the ladder is re-priced
// directly with no further simulation; otherwise Simulation describes a
// fresh Monte Carlo run to produce one.
type bidAnalysisRequest struct {
	Loans           []loan.Loan               `json:"loans" binding:"required"`
	NPVDistribution []float64                 `json:"npv_distribution,omitempty"`
	WALYears        float64                   `json:"wal_years,omitempty"`
	Simulation      valtypes.SimulationConfig `json:"simulation"`
	Bid             valtypes.BidConfig        `json:"bid"`
}

func (s *server) postBidAnalysis(c *gin.Context) {
	log := s.withRequestLog(c)
	var req bidAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("bid-analysis: bad request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	if len(req.NPVDistribution) > 0 {
		totalUPB := 0.0
		for _, l := range req.Loans {
			totalUPB += l.UnpaidBalance
		}
		center := valuation.DefaultCenterPrice(totalUPB)
		if req.Bid.CenterPrice != nil {
			center = *req.Bid.CenterPrice
		}
		increment := req.Bid.Increment
		if increment <= 0 {
			increment = valuation.DefaultIncrement
		}
		rows := valuation.RepriceLadder(req.NPVDistribution, req.WALYears, center, increment, req.Bid.TargetROE)
		c.JSON(http.StatusOK, gin.H{"bid_ladder": rows})
		return
	}

	rows, err := s.service.BidLadder(ctx, req.Loans, req.Simulation, req.Bid)
	if err != nil {
		log.Error("bid-analysis: failed", "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bid_ladder": rows})
}

func (s *server) getModels(c *gin.Context) {
	reg := s.handle.Load()
	if reg == nil {
		writeError(c, valerr.New(valerr.MissingArtifact, "no model registry loaded"))
		return
	}
	manifest := reg.Manifest()
	s.metrics.ObserveManifest(manifest)
	c.JSON(http.StatusOK, manifest)
}

func (s *server) getLeaf(c *gin.Context) {
	reg := s.handle.Load()
	if reg == nil {
		writeError(c, valerr.New(valerr.MissingArtifact, "no model registry loaded"))
		return
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "leaf id must be an integer"})
		return
	}
	curve, ok := reg.Survival(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no survival curve for this leaf"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaf_id": id, "survival_curve": curve})
}

func (s *server) getInfo(c *gin.Context) {
	reg := s.handle.Load()
	curveVariant := ""
	if reg != nil {
		curveVariant = reg.CurveVariant()
	}
	c.JSON(http.StatusOK, gin.H{
		"service":     "loanvalkernel",
		"description": "Residential mortgage loan pool valuation kernel",
		"version":     "1.0.0",
		"curve_variant": curveVariant,
		"endpoints": gin.H{
			"POST /valuations":    "Run a full Monte Carlo package valuation",
			"POST /bid-analysis":  "Run the purchase-price bid ladder",
			"GET /models":         "List loaded model artifacts and their status",
			"GET /leaves/:id":     "Inspect one leaf's survival curve",
			"GET /info":           "Service information and capabilities",
		},
	})
}

func outcomeLabel(err error) string {
	if valerr.Is(err, valerr.Cancelled) {
		return "cancelled"
	}
	if valerr.Is(err, valerr.Timeout) {
		return "timeout"
	}
	return "error"
}

func newEngine(s *server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/valuations", s.postValuations)
	r.POST("/bid-analysis", s.postBidAnalysis)
	r.GET("/models", s.getModels)
	r.GET("/leaves/:id", s.getLeaf)
	r.GET("/info", s.getInfo)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogDir, slog.LevelInfo)
	if err != nil {
		panic(err)
	}

	handle := &registry.Handle{}
	reg, err := registry.Load(cfg.ArtifactRoot, cfg.DefaultCurveVariant)
	if err != nil {
		log.Error("startup: failed to load model registry", "error", err)
		panic(err)
	}
	handle.Store(reg)

	metricsReg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	metricsReg.ObserveManifest(reg.Manifest())

	svc := valuation.NewService(handle, log.Logger)
	svc.PoolSize = cfg.PoolSize

	s := &server{cfg: cfg, handle: handle, log: log, metrics: metricsReg, service: svc}
	engine := newEngine(s)

	log.Info("valuationd: listening", "port", cfg.HTTPPort)
	if err := engine.Run(addr(cfg.HTTPPort)); err != nil {
		log.Error("valuationd: server exited", "error", err)
	}
}

func addr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return "0.0.0.0:" + strconv.Itoa(port)
}
