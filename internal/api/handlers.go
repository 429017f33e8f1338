package api

import (
	"context"
	"strconv"
	"time"

	"strataprover/internal/bitcoin"
	"strataprover/internal/guest"
	"strataprover/internal/proof"
	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/native"
	"strataprover/internal/zkvm/remote"
	"strataprover/pkg/types"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
)

const (
	apiVersion    = "1.0.0"
	healthTimeout = 5 * time.Second
)

// Config wires an APIServer to the prover
type Config struct {
	Prover    *proof.Service
	Backend   zkvm.Backend
	Source    bitcoin.BlockSource
	WebSocket *WebSocketManager
	// RateLimit is requests per minute per client, zero disables it
	RateLimit int
	Logger    log.Logger
}

// APIServer represents the main API server
type APIServer struct {
	proofService *proof.Service
	backend      zkvm.Backend
	source       bitcoin.BlockSource
	wsManager    *WebSocketManager
	rateLimit    int
	logger       log.Logger
	unsubscribe  func()
	startTime    time.Time
}

// NewAPIServer creates a new API server instance. Task events of the
// prover are forwarded to WebSocket subscribers until Close.
func NewAPIServer(config Config) *APIServer {
	logger := config.Logger
	if logger == nil {
		logger = log.Root()
	}
	wsManager := config.WebSocket
	if wsManager == nil {
		wsManager = NewWebSocketManager(logger)
	}

	s := &APIServer{
		proofService: config.Prover,
		backend:      config.Backend,
		source:       config.Source,
		wsManager:    wsManager,
		rateLimit:    config.RateLimit,
		logger:       logger,
		startTime:    time.Now(),
	}
	s.unsubscribe = s.proofService.Subscribe(s.forwardTaskEvent)
	return s
}

// Close stops forwarding task events
func (s *APIServer) Close() {
	s.unsubscribe()
}

// RegisterRoutes registers all API routes
func (s *APIServer) RegisterRoutes(r *gin.Engine) {
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(APIVersionMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(RequestLoggingMiddleware(s.logger))
	r.Use(SecurityMiddleware())
	r.Use(RateLimitMiddleware(s.rateLimit))

	r.GET("/", s.apiInfo)
	r.GET("/info", s.apiInfo)

	r.GET("/health", s.healthCheck)
	r.GET("/status", s.healthCheck)

	r.GET("/ws", s.wsManager.HandleWebSocket)

	v1 := r.Group("/v1")
	{
		s.registerProveRoutes(v1)
		s.registerTaskRoutes(v1)
		s.registerProofRoutes(v1)
		v1.GET("/spv/:blockhash/:txid", s.getInclusionProof)
		v1.GET("/stats", s.getStats)
	}

	// A native prover also serves remote backends pointed at it.
	if nb, ok := s.backend.(*native.Backend); ok {
		r.POST(remote.ProvePath, remote.Handler(nb, s.logger.New("component", "zkvm-remote")))
	}
}

func (s *APIServer) registerProveRoutes(rg *gin.RouterGroup) {
	prove := rg.Group("/prove")
	{
		prove.POST("/block", s.proveBlock)
		prove.POST("/l1-batch", s.proveL1Batch)
	}
}

func (s *APIServer) registerTaskRoutes(rg *gin.RouterGroup) {
	tasks := rg.Group("/tasks")
	{
		tasks.GET("", s.listTasks)
		tasks.GET("/:id", s.getTask)
		tasks.GET("/:id/proof", s.getTaskProof)
	}
}

func (s *APIServer) registerProofRoutes(rg *gin.RouterGroup) {
	proofs := rg.Group("/proofs")
	{
		proofs.POST("/verify", s.verifyProof)
	}
}

// NotifyBlock tells WebSocket subscribers about a new confirmed block
func (s *APIServer) NotifyBlock(block *btcutil.Block) {
	s.wsManager.BroadcastToTopic(TopicBlocks, EventTypeBlock, "block_confirmed", map[string]interface{}{
		"hash":     block.Hash().String(),
		"height":   block.Height(),
		"tx_count": len(block.Transactions()),
	})
}

func (s *APIServer) forwardTaskEvent(event types.TaskEvent) {
	s.wsManager.BroadcastToTopic(TopicTasks, EventTypeTask, event.Type, event.Task)
	s.wsManager.BroadcastToTopic(TaskTopic(event.Task.ID), EventTypeTask, event.Type, event.Task)
}

func (s *APIServer) apiInfo(c *gin.Context) {
	SuccessResponse(c, APIInfoResponse{
		Name:        serviceName,
		Version:     apiVersion,
		Description: "Proves Bitcoin blocks and block ranges with a pluggable zkVM backend",
		Backend:     s.backend.Name(),
		Endpoints: map[string]string{
			"health":    "/health",
			"prove":     "/v1/prove/*",
			"tasks":     "/v1/tasks/*",
			"proofs":    "/v1/proofs/*",
			"spv":       "/v1/spv/:blockhash/:txid",
			"stats":     "/v1/stats",
			"websocket": "/ws",
		},
		Programs: []string{guest.BlockspaceName, guest.L1BatchName},
	})
}

func (s *APIServer) healthCheck(c *gin.Context) {
	services := make(map[string]ServiceStatus)

	services["prover"] = ServiceStatus{
		Status:  "running",
		Healthy: true,
		Details: s.proofService.Stats(),
	}

	if s.source != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		height, err := s.source.BestHeight(ctx)
		cancel()

		status := ServiceStatus{Status: "connected", Healthy: err == nil, Details: map[string]interface{}{}}
		if err != nil {
			status.Status = "unreachable"
			status.Details["error"] = err.Error()
		} else {
			status.Details["best_height"] = height
		}
		services["bitcoin"] = status
	} else {
		services["bitcoin"] = ServiceStatus{
			Status:  "disabled",
			Healthy: true,
			Details: map[string]interface{}{
				"reason": "Bitcoin source not configured",
			},
		}
	}

	services["websocket"] = ServiceStatus{
		Status:  "running",
		Healthy: true,
		Details: map[string]interface{}{
			"connected_clients": s.wsManager.GetClientCount(),
			"task_subscribers":  s.wsManager.GetTopicSubscribers(TopicTasks),
		},
	}

	HealthCheck(c, services, time.Since(s.startTime), apiVersion)
}

func getPaginationParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	return page, perPage
}
