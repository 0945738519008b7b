package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/icrc3"
	"github.com/jmerrifield20/chainledger/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes the ledger's dispatch and query endpoints.
type LedgerHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
	pubPEM string
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(l *ledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, logger: logger}
}

// WithPublicKey serves pem at GET /public_key so clients can verify tip
// certificates.
func (h *LedgerHandler) WithPublicKey(pem string) *LedgerHandler {
	h.pubPEM = pem
	return h
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	if h.pubPEM != "" {
		rg.GET("/public_key", h.PublicKey)
	}
	rg.POST("/dispatch", h.Dispatch)
	rg.POST("/compute_hash", h.ComputeHash)
	rg.GET("/last_modified", h.LastModified)
	rg.GET("/stats", h.Stats)
	rg.POST("/archive/run", h.RunArchive)

	i3 := rg.Group("/icrc3")
	{
		i3.POST("/get_blocks", h.GetBlocks)
		i3.POST("/archived_blocks", h.ArchivedBlocks)
		i3.GET("/archives", h.GetArchives)
		i3.GET("/tip_certificate", h.TipCertificate)
	}

	rg.GET("/icrc1/balance_of", h.BalanceOf)
}

// Dispatch handles POST /dispatch. The body is a JSON array of actions; the
// response holds one result per action in the same order.
func (h *LedgerHandler) Dispatch(c *gin.Context) {
	var actions []ledger.Action
	if err := c.ShouldBindJSON(&actions); err != nil {
		badRequest(c, "invalid actions: "+err.Error())
		return
	}

	results := h.ledger.Dispatch(c.Request.Context(), actions)
	SetLedgerGauges(h.ledger.Stats())
	c.JSON(http.StatusOK, results)
}

// GetBlocks handles POST /icrc3/get_blocks with a JSON array of {start,length}.
func (h *LedgerHandler) GetBlocks(c *gin.Context) {
	var ranges []ledger.Range
	if err := c.ShouldBindJSON(&ranges); err != nil {
		badRequest(c, "invalid ranges: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, h.ledger.GetBlocks(ranges))
}

// ArchivedBlocks handles POST /icrc3/archived_blocks. It resolves a
// descriptor from get_blocks through the ledger, for shards that have no
// callback of their own.
func (h *LedgerHandler) ArchivedBlocks(c *gin.Context) {
	var ar ledger.ArchivedRange
	if err := c.ShouldBindJSON(&ar); err != nil {
		badRequest(c, "invalid archived range: "+err.Error())
		return
	}
	if ar.Shard == "" {
		badRequest(c, "shard is required")
		return
	}

	blocks, err := h.ledger.FetchArchived(c.Request.Context(), ar)
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	if blocks == nil {
		blocks = []icrc3.Block{}
	}
	c.JSON(http.StatusOK, blocks)
}

// GetArchives handles GET /icrc3/archives?from=<shard>.
func (h *LedgerHandler) GetArchives(c *gin.Context) {
	var from *archive.ShardRef
	if s := strings.TrimSpace(c.Query("from")); s != "" {
		ref := archive.ShardRef(s)
		from = &ref
	}
	c.JSON(http.StatusOK, h.ledger.GetArchives(from))
}

// TipCertificate handles GET /icrc3/tip_certificate. The body is null until
// the first block exists.
func (h *LedgerHandler) TipCertificate(c *gin.Context) {
	cert, err := h.ledger.TipCertificate()
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

// PublicKey handles GET /public_key.
func (h *LedgerHandler) PublicKey(c *gin.Context) {
	c.Data(http.StatusOK, "application/x-pem-file", []byte(h.pubPEM))
}

// BalanceOf handles GET /icrc1/balance_of?owner=<hex>&subaccount=<hex>.
func (h *LedgerHandler) BalanceOf(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		badRequest(c, "owner is required")
		return
	}
	acc, err := ledger.ParseAccountKey(owner + "." + c.Query("subaccount"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": acc.Key(),
		"balance": h.ledger.BalanceOf(acc).Dec(),
	})
}

// ComputeHash handles POST /compute_hash: the representation-independent
// hash of an arbitrary value.
func (h *LedgerHandler) ComputeHash(c *gin.Context) {
	var v icrc3.Value
	if err := c.ShouldBindJSON(&v); err != nil {
		badRequest(c, "invalid value: "+err.Error())
		return
	}
	sum, err := icrc3.HashHex(v)
	if err != nil {
		abortWith(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": sum})
}

// LastModified handles GET /last_modified in unix nanoseconds, 0 for a
// ledger that never changed.
func (h *LedgerHandler) LastModified(c *gin.Context) {
	var ns int64
	if t := h.ledger.LastModified(); !t.IsZero() {
		ns = t.UnixNano()
	}
	c.JSON(http.StatusOK, gin.H{"last_modified": ns})
}

// Stats handles GET /stats.
func (h *LedgerHandler) Stats(c *gin.Context) {
	s := h.ledger.Stats()
	SetLedgerGauges(s)
	c.JSON(http.StatusOK, s)
}

// RunArchive handles POST /archive/run: one archival pass, run to completion.
func (h *LedgerHandler) RunArchive(c *gin.Context) {
	if err := h.ledger.ArchiveNow(c.Request.Context()); err != nil {
		h.logger.Warn("operator archival pass failed", zap.Error(err))
		abortWith(c, h.logger, err)
		return
	}
	s := h.ledger.Stats()
	SetLedgerGauges(s)
	c.JSON(http.StatusOK, s)
}
