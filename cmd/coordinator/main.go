// Package main implements the EdgeShift coordinator: it discovers the
// configured peers, tracks their liveness and load, and exposes an HTTP
// control plane for submitting inference jobs that are partitioned and
// dispatched across the active peer set.
//
// Configuration:
//   - COORDINATOR_LISTEN: control-plane address (default ":8080")
//   - COORDINATOR_PEERS: comma-separated candidate peer addresses
//   - COORDINATOR_CONFIG: optional YAML file with the same settings
//
// Example usage:
//
//	COORDINATOR_PEERS=127.0.0.1:5555,127.0.0.1:5556 ./coordinator
//
//	# Submit a 4-strip classification job
//	curl -X POST localhost:8080/api/v1/jobs -d '{
//	  "tensor": {"height":4,"width":2,"channels":1,"data":[...]},
//	  "strategy": {"type":"fixed_count","count":4},
//	  "combine": {"type":"concat_strips"}
//	}'
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/exp/slices"

	"github.com/AsifaBeedi/EdgeShiftAI/internal/config"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/coordinator"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/discovery"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/heartbeat"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/model"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/registry"
	"github.com/AsifaBeedi/EdgeShiftAI/internal/transport"
)

func main() {
	cfg, err := config.LoadCoordinator()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if len(cfg.Peers) == 0 {
		log.Printf("coordinator: no candidate peers configured; jobs will run locally")
	}

	reg := registry.New(
		registry.WithFailureThreshold(cfg.FailureThreshold),
		registry.WithLivenessWindow(cfg.LivenessWindow),
	)
	client := transport.NewClient()
	defer client.Close()

	disc := discovery.New(reg, client, cfg.ProbeTimeout)

	hb := heartbeat.New(reg, client,
		heartbeat.WithPeriod(cfg.HeartbeatPeriod),
		heartbeat.WithProbeTimeout(cfg.ProbeTimeout),
		heartbeat.WithWorkers(cfg.HeartbeatWorkers),
		heartbeat.WithOnDemote(client.Drop),
	)

	// Local fallback engine for partitions no peer can take.
	local := model.NewStubClassifier([]string{"cat", "dog", "bird", "car", "person"}, 3)

	coord := coordinator.New(reg, client, local,
		coordinator.WithDispatchTimeout(cfg.DispatchTimeout),
		coordinator.WithMaxRetries(cfg.MaxRetries),
		coordinator.WithRetention(cfg.JobRetention),
		coordinator.WithOnDemote(client.Drop),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Classify the configured peer set before accepting jobs, then keep it
	// fresh in the background.
	report := disc.Discover(ctx, cfg.Peers)
	log.Printf("coordinator: startup discovery found %d active peers", report.ActiveCount())
	hb.Start(ctx)
	defer hb.Stop()
	coord.Start(ctx)
	defer coord.Stop()

	api := &server{
		cfg:   cfg,
		reg:   reg,
		disc:  disc,
		coord: coord,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.routes(router)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("coordinator listening on %s", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Println("coordinator stopped")
}

// server carries the handler dependencies.
type server struct {
	cfg   config.Coordinator
	reg   *registry.Registry
	disc  *discovery.Discoverer
	coord *coordinator.Coordinator
}

func (s *server) routes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	v1 := router.Group("/api/v1")
	{
		v1.POST("/jobs", s.handleSubmit)
		v1.GET("/jobs/:id", s.handleStatus)
		v1.GET("/jobs/:id/result", s.handleAwait)
		v1.GET("/peers", s.handlePeers)
		v1.POST("/discover", s.handleDiscover)
	}
}

// submitRequest is the job submission body: the payload tensor plus the
// partition strategy and combine policy, both chosen by the caller.
type submitRequest struct {
	Tensor   model.Tensor `json:"tensor" binding:"required"`
	Strategy struct {
		Type  string `json:"type" binding:"required"`
		Count int    `json:"count"`
	} `json:"strategy" binding:"required"`
	Combine struct {
		Type string `json:"type" binding:"required"`
		TopK int    `json:"top_k"`
	} `json:"combine" binding:"required"`
}

var strategyTypes = []string{"fixed_count", "replicate"}
var combineTypes = []string{"concat_strips", "merge_scores"}

func (s *server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !slices.Contains(strategyTypes, req.Strategy.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown strategy type " + req.Strategy.Type})
		return
	}
	if !slices.Contains(combineTypes, req.Combine.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown combine type " + req.Combine.Type})
		return
	}

	var strategy coordinator.PartitionStrategy
	switch req.Strategy.Type {
	case "fixed_count":
		strategy = coordinator.FixedCountStrategy{Count: req.Strategy.Count}
	case "replicate":
		strategy = coordinator.ReplicateStrategy{Copies: req.Strategy.Count}
	}

	var combine coordinator.CombinePolicy
	switch req.Combine.Type {
	case "concat_strips":
		combine = coordinator.ConcatStrips{}
	case "merge_scores":
		combine = coordinator.MergeScores{TopK: req.Combine.TopK}
	}

	jobID, err := s.coord.Submit(req.Tensor, strategy, combine)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

func (s *server) handleStatus(c *gin.Context) {
	status, err := s.coord.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": c.Param("id"), "status": status})
}

func (s *server) handleAwait(c *gin.Context) {
	timeout := 30 * time.Second
	if v := c.Query("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad timeout: " + err.Error()})
			return
		}
		timeout = d
	}

	result, err := s.coord.Await(c.Param("id"), timeout)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// peerView is the per-peer row for the peers endpoint, the registry record
// plus the derived capability score the ranking uses as a fallback signal.
type peerView struct {
	registry.PeerInfo
	CapabilityScore float64 `json:"capability_score"`
}

func (s *server) handlePeers(c *gin.Context) {
	peers := s.reg.All()
	slices.SortFunc(peers, func(a, b registry.PeerInfo) int {
		switch {
		case a.Address < b.Address:
			return -1
		case a.Address > b.Address:
			return 1
		default:
			return 0
		}
	})

	out := make([]peerView, len(peers))
	for i, p := range peers {
		out[i] = peerView{PeerInfo: p, CapabilityScore: coordinator.CapabilityScore(p)}
	}
	c.JSON(http.StatusOK, gin.H{"peers": out})
}

func (s *server) handleDiscover(c *gin.Context) {
	report := s.disc.Discover(c.Request.Context(), s.cfg.Peers)
	c.JSON(http.StatusOK, report)
}
