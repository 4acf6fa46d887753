package httpapi

import (
	"net/http"

	"github.com/jinjinsansan/hachikai/pkg/clock"
	"github.com/jinjinsansan/hachikai/pkg/errutil"
	"github.com/jinjinsansan/hachikai/pkg/objectstore"
	"github.com/jinjinsansan/hachikai/services/activity"
	"github.com/jinjinsansan/hachikai/services/anomaly"
	"github.com/jinjinsansan/hachikai/services/debt"
	"github.com/jinjinsansan/hachikai/services/floor"
	"github.com/jinjinsansan/hachikai/services/network"
	"github.com/jinjinsansan/hachikai/services/obligation"
	"github.com/jinjinsansan/hachikai/services/reset"
	"github.com/jinjinsansan/hachikai/services/sanction"
	"github.com/jinjinsansan/hachikai/services/tier"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	engine       *floor.Engine
	obligations  *obligation.Service
	orchestrator *reset.Orchestrator
	activities   *activity.Service
	detector     *anomaly.Detector
	sanctions    *sanction.Service
	network      *network.Service
	debts        *debt.Service
	proofs       *objectstore.ProofStore
	clock        clock.Clock
}

type HandlerParams struct {
	fx.In

	Engine       *floor.Engine
	Obligations  *obligation.Service
	Orchestrator *reset.Orchestrator
	Activities   *activity.Service
	Detector     *anomaly.Detector
	Sanctions    *sanction.Service
	Network      *network.Service
	Debts        *debt.Service
	Clock        clock.Clock

	Proofs *objectstore.ProofStore `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		engine:       p.Engine,
		obligations:  p.Obligations,
		orchestrator: p.Orchestrator,
		activities:   p.Activities,
		detector:     p.Detector,
		sanctions:    p.Sanctions,
		network:      p.Network,
		debts:        p.Debts,
		proofs:       p.Proofs,
		clock:        p.Clock,
	}
}

type createUserRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name"`
}

// CreateUser registers a tier state with a weighted initial draw and, when a
// name is given, a public network profile.
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	t := h.engine.InitialTier()
	st, err := h.engine.Create(c.Request.Context(), req.UserID, t, clock.DateOf(h.clock.Now()))
	if err != nil {
		c.Error(err)
		return
	}

	if req.Name != "" {
		if err := h.network.UpsertProfile(c.Request.Context(), &network.Profile{
			UserID: req.UserID,
			Name:   req.Name,
			Tier:   t,
		}); err != nil {
			c.Error(err)
			return
		}
	}

	c.JSON(http.StatusCreated, st)
}

func (h *Handler) CheckReset(c *gin.Context) {
	out, ran, err := h.orchestrator.CheckAndRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reset": ran, "outcome": out})
}

func (h *Handler) ForceReset(c *gin.Context) {
	out, err := h.orchestrator.ForceReset(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, out)
}

type incrementRequest struct {
	Kind obligation.Kind `json:"kind" binding:"required"`
}

func (h *Handler) IncrementObligation(c *gin.Context) {
	var req incrementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	if err := h.obligations.Increment(c.Request.Context(), c.Param("id"), req.Kind); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetTier returns the tier state together with the rule and today's
// obligation standing.
func (h *Handler) GetTier(c *gin.Context) {
	st, err := h.engine.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	rule, err := tier.RuleFor(st.Tier)
	if err != nil {
		c.Error(err)
		return
	}

	ob, err := h.obligations.Evaluate(st)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state":       st,
		"rule":        rule,
		"obligations": ob,
	})
}

func (h *Handler) ResetCountdown(c *gin.Context) {
	c.JSON(http.StatusOK, h.orchestrator.TimeUntilReset())
}

type activityRequest struct {
	Type           activity.Type `json:"type" binding:"required"`
	ProductID      string        `json:"product_id"`
	CounterpartyID string        `json:"counterparty_id"`
	DeviceID       string        `json:"device_id"`
}

func (h *Handler) RecordActivity(c *gin.Context) {
	var req activityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	rec := &activity.Record{
		UserID:         c.Param("id"),
		Type:           req.Type,
		ProductID:      req.ProductID,
		CounterpartyID: req.CounterpartyID,
		DeviceID:       req.DeviceID,
	}
	if err := h.activities.Record(c.Request.Context(), rec); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ScanAnomalies(c *gin.Context) {
	findings, err := h.detector.RunScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"findings": findings})
}

type sanctionRequest struct {
	Violation anomaly.ViolationKind `json:"violation" binding:"required"`
	Reason    string                `json:"reason"`
}

func (h *Handler) ApplySanction(c *gin.Context) {
	var req sanctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = string(req.Violation)
	}

	s, err := h.sanctions.Apply(c.Request.Context(), c.Param("id"), sanction.KindFor(req.Violation), reason)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, s)
}

func (h *Handler) LatestSanction(c *gin.Context) {
	s, err := h.sanctions.Latest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if s == nil {
		c.Error(errutil.NotFound("no sanction on record"))
		return
	}

	c.JSON(http.StatusOK, s)
}

func (h *Handler) SanctionStatus(c *gin.Context) {
	status, err := h.sanctions.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *Handler) PurchaseTargets(c *gin.Context) {
	recommendations, err := h.network.Recommendations(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"recommendations": recommendations})
}

func (h *Handler) DebtHistory(c *gin.Context) {
	entries, err := h.debts.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type proofRequest struct {
	ObjectKey string `json:"object_key" binding:"required"`
	OCRText   string `json:"ocr_text"`
}

func (h *Handler) ValidateProof(c *gin.Context) {
	if h.proofs == nil {
		c.Error(errutil.Internal("proof store not configured"))
		return
	}

	var req proofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest(err.Error()))
		return
	}

	valid, err := h.detector.ValidateProof(c.Request.Context(), h.proofs, anomaly.ProofSubmission{
		UserID:    c.Param("id"),
		ObjectKey: req.ObjectKey,
		OCRText:   req.OCRText,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": valid})
}
