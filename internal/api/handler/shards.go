package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/identity"
	"go.uber.org/zap"
)

// ShardHandler is the archive node API over the shards of one host.
type ShardHandler struct {
	host   archive.Host
	logger *zap.Logger
}

// NewShardHandler creates a new ShardHandler.
func NewShardHandler(host archive.Host, logger *zap.Logger) *ShardHandler {
	return &ShardHandler{host: host, logger: logger}
}

// Register mounts the shard routes under /shards.
func (h *ShardHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/shards")
	{
		s.POST("", h.Provision)
		s.GET("", h.List)
		s.GET("/:ref", h.Info)
		s.POST("/:ref/blocks", h.Append)
		s.POST("/:ref/get_blocks", h.GetBlocks)
		s.POST("/:ref/configure", h.Configure)
		s.POST("/:ref/topup", h.TopUp)
		s.POST("/:ref/stop", h.Stop)
		s.POST("/:ref/start", h.Start)
	}
}

type getBlocksRequest struct {
	Start  uint64 `json:"start"`
	Length uint64 `json:"length"`
}

type configureRequest struct {
	Controllers []identity.Principal `json:"controllers"`
}

type topUpRequest struct {
	Amount uint64 `json:"amount" binding:"required"`
}

// Provision handles POST /shards.
func (h *ShardHandler) Provision(c *gin.Context) {
	var spec archive.ShardSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		badRequest(c, "invalid shard spec: "+err.Error())
		return
	}
	if spec.Capacity == 0 {
		badRequest(c, "capacity must be positive")
		return
	}

	ctx := c.Request.Context()
	sh, err := h.host.Provision(ctx, spec)
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	info, err := sh.Info(ctx)
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	h.logger.Info("shard provisioned",
		zap.String("ref", string(info.Ref)),
		zap.Uint64("start", info.Start),
		zap.Uint64("capacity", info.Capacity),
	)
	c.JSON(http.StatusCreated, info)
}

// List handles GET /shards.
func (h *ShardHandler) List(c *gin.Context) {
	infos, err := h.host.List(c.Request.Context())
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, infos)
}

// Info handles GET /shards/:ref.
func (h *ShardHandler) Info(c *gin.Context) {
	sh, ok := h.open(c)
	if !ok {
		return
	}
	info, err := sh.Info(c.Request.Context())
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Append handles POST /shards/:ref/blocks. Blocks already stored are skipped.
func (h *ShardHandler) Append(c *gin.Context) {
	sh, ok := h.open(c)
	if !ok {
		return
	}
	var blocks []icrc3.Block
	if err := c.ShouldBindJSON(&blocks); err != nil {
		badRequest(c, "invalid blocks: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := sh.Append(ctx, blocks); err != nil {
		abortWith(c, h.logger, err)
		return
	}
	info, err := sh.Info(ctx)
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetBlocks handles POST /shards/:ref/get_blocks. This is the callback that
// ledger descriptors point clients at.
func (h *ShardHandler) GetBlocks(c *gin.Context) {
	sh, ok := h.open(c)
	if !ok {
		return
	}
	var req getBlocksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid range: "+err.Error())
		return
	}

	blocks, err := sh.GetBlocks(c.Request.Context(), req.Start, req.Length)
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	if blocks == nil {
		blocks = []icrc3.Block{}
	}
	c.JSON(http.StatusOK, blocks)
}

// Configure handles POST /shards/:ref/configure.
func (h *ShardHandler) Configure(c *gin.Context) {
	sh, ok := h.open(c)
	if !ok {
		return
	}
	var req configureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid controllers: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := sh.Configure(ctx, req.Controllers); err != nil {
		abortWith(c, h.logger, err)
		return
	}
	info, err := sh.Info(ctx)
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// TopUp handles POST /shards/:ref/topup.
func (h *ShardHandler) TopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "amount is required")
		return
	}
	ref := archive.ShardRef(c.Param("ref"))
	if err := h.host.TopUp(c.Request.Context(), ref, req.Amount); err != nil {
		abortWith(c, h.logger, err)
		return
	}
	h.respondInfo(c, ref)
}

// Stop handles POST /shards/:ref/stop.
func (h *ShardHandler) Stop(c *gin.Context) {
	ref := archive.ShardRef(c.Param("ref"))
	if err := h.host.Stop(c.Request.Context(), ref); err != nil {
		abortWith(c, h.logger, err)
		return
	}
	h.logger.Info("shard stopped", zap.String("ref", string(ref)))
	h.respondInfo(c, ref)
}

// Start handles POST /shards/:ref/start.
func (h *ShardHandler) Start(c *gin.Context) {
	ref := archive.ShardRef(c.Param("ref"))
	if err := h.host.Start(c.Request.Context(), ref); err != nil {
		abortWith(c, h.logger, err)
		return
	}
	h.logger.Info("shard started", zap.String("ref", string(ref)))
	h.respondInfo(c, ref)
}

func (h *ShardHandler) open(c *gin.Context) (archive.Shard, bool) {
	sh, err := h.host.Open(c.Request.Context(), archive.ShardRef(c.Param("ref")))
	if err != nil {
		abortWith(c, h.logger, err)
		return nil, false
	}
	return sh, true
}

func (h *ShardHandler) respondInfo(c *gin.Context, ref archive.ShardRef) {
	ctx := c.Request.Context()
	sh, err := h.host.Open(ctx, ref)
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	info, err := sh.Info(ctx)
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
