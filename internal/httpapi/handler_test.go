package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jinjinsansan/hachikai/pkg/config"
	"github.com/jinjinsansan/hachikai/pkg/middleware"
	"github.com/jinjinsansan/hachikai/services/activity"
	"github.com/jinjinsansan/hachikai/services/anomaly"
	"github.com/jinjinsansan/hachikai/services/debt"
	"github.com/jinjinsansan/hachikai/services/floor"
	"github.com/jinjinsansan/hachikai/services/network"
	"github.com/jinjinsansan/hachikai/services/obligation"
	"github.com/jinjinsansan/hachikai/services/reset"
	"github.com/jinjinsansan/hachikai/services/sanction"
	"github.com/jinjinsansan/hachikai/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, clk *testutil.FixedClock, draws ...float64) (*gin.Engine, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&floor.TierState{},
		&debt.Entry{},
		&activity.Record{},
		&anomaly.SuspiciousActivity{},
		&sanction.Sanction{},
		&network.Profile{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	rand := &testutil.ScriptedRand{Draws: draws}
	debts := debt.NewService(debt.ServiceParams{DB: db, Node: node, Config: &config.Config{}})
	engine := floor.NewEngine(floor.EngineParams{DB: db, Debt: debts, Rand: rand})
	obligations := obligation.NewService(obligation.ServiceParams{DB: db})
	orchestrator := reset.NewOrchestrator(reset.OrchestratorParams{Engine: engine, Obligations: obligations, Clock: clk})
	activities := activity.NewService(activity.ServiceParams{DB: db, Node: node, Clock: clk})
	detector := anomaly.NewDetector(anomaly.DetectorParams{DB: db, Activities: activities, Node: node, Clock: clk})
	sanctions := sanction.NewService(sanction.ServiceParams{DB: db, Engine: engine, Node: node, Clock: clk})
	net := network.NewService(network.ServiceParams{DB: db, Engine: engine, Rand: rand})

	h := NewHandler(HandlerParams{
		Engine:       engine,
		Obligations:  obligations,
		Orchestrator: orchestrator,
		Activities:   activities,
		Detector:     detector,
		Sanctions:    sanctions,
		Network:      net,
		Debts:        debts,
		Clock:        clk,
	})

	r := gin.New()
	r.Use(middleware.Error())

	v1 := r.Group("/v1")
	v1.POST("/users", h.CreateUser)
	users := v1.Group("/users/:id")
	users.POST("/reset/check", h.CheckReset)
	users.POST("/reset/force", h.ForceReset)
	users.GET("/reset/countdown", h.ResetCountdown)
	users.POST("/obligations", h.IncrementObligation)
	users.GET("/tier", h.GetTier)
	users.GET("/debt", h.DebtHistory)
	users.POST("/activities", h.RecordActivity)
	users.POST("/anomaly/scan", h.ScanAnomalies)
	users.POST("/sanctions", h.ApplySanction)
	users.GET("/sanctions/latest", h.LatestSanction)
	users.GET("/sanctions/status", h.SanctionStatus)
	users.GET("/purchase-targets", h.PurchaseTargets)

	return r, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateUserDrawsInitialTier(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)}
	r, _ := newTestRouter(t, clk, 0.0) // lowest weight bucket, tier 1

	w := doJSON(t, r, http.MethodPost, "/v1/users", gin.H{"user_id": "u1", "name": "Taro"})
	require.Equal(t, http.StatusCreated, w.Code)

	var st floor.TierState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.Equal(t, "u1", st.UserID)
	require.Equal(t, 1, st.Tier)
}

func TestCreateUserTwiceConflicts(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)}
	r, _ := newTestRouter(t, clk, 0.0, 0.0)

	w := doJSON(t, r, http.MethodPost, "/v1/users", gin.H{"user_id": "u1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/users", gin.H{"user_id": "u1"})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateUserValidation(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Now()}
	r, _ := newTestRouter(t, clk)

	w := doJSON(t, r, http.MethodPost, "/v1/users", gin.H{"name": "no id"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestObligationAndTierFlow(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)}
	r, db := newTestRouter(t, clk)
	require.NoError(t, db.Create(&floor.TierState{UserID: "u1", Tier: 3}).Error)

	w := doJSON(t, r, http.MethodPost, "/v1/users/u1/obligations", gin.H{"kind": "purchase"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/users/u1/tier", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		State       floor.TierState   `json:"state"`
		Obligations floor.Obligations `json:"obligations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp.State.PurchaseCount)
	require.True(t, resp.Obligations.PurchaseMet)
	require.False(t, resp.Obligations.AdViewMet)
}

func TestObligationUnknownKind(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Now()}
	r, db := newTestRouter(t, clk)
	require.NoError(t, db.Create(&floor.TierState{UserID: "u1", Tier: 3}).Error)

	w := doJSON(t, r, http.MethodPost, "/v1/users/u1/obligations", gin.H{"kind": "likes"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTierUnknownUserReturns404(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Now()}
	r, _ := newTestRouter(t, clk)

	w := doJSON(t, r, http.MethodGet, "/v1/users/ghost/tier", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestResetCheckOncePerDay(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 0, 5, 0, 0, time.UTC)}
	r, db := newTestRouter(t, clk, 0.50, 0.50)
	require.NoError(t, db.Create(&floor.TierState{UserID: "u1", Tier: 3, LastResetDate: "2026-08-29"}).Error)

	w := doJSON(t, r, http.MethodPost, "/v1/users/u1/reset/check", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"reset":true`)

	w = doJSON(t, r, http.MethodPost, "/v1/users/u1/reset/check", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"reset":false`)
}

func TestSanctionFlow(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)}
	r, db := newTestRouter(t, clk)
	require.NoError(t, db.Create(&floor.TierState{UserID: "u1", Tier: 5}).Error)

	w := doJSON(t, r, http.MethodPost, "/v1/users/u1/sanctions", gin.H{"violation": "pattern_abuse"})
	require.Equal(t, http.StatusCreated, w.Code)

	var s sanction.Sanction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	require.Equal(t, sanction.KindFloorPenalty, s.Kind)

	w = doJSON(t, r, http.MethodGet, "/v1/users/u1/sanctions/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/v1/users/u1/sanctions/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"banned":false`)

	var st floor.TierState
	require.NoError(t, db.First(&st, "user_id = ?", "u1").Error)
	require.Equal(t, 4, st.Tier)
}

func TestLatestSanctionEmpty(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Now()}
	r, db := newTestRouter(t, clk)
	require.NoError(t, db.Create(&floor.TierState{UserID: "u1", Tier: 5}).Error)

	w := doJSON(t, r, http.MethodGet, "/v1/users/u1/sanctions/latest", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestActivityAndScan(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	r, _ := newTestRouter(t, clk)

	for i := 0; i < 2; i++ {
		w := doJSON(t, r, http.MethodPost, "/v1/users/u1/activities", gin.H{
			"type":       "purchase",
			"product_id": "p1",
		})
		require.Equal(t, http.StatusCreated, w.Code)
		clk.Advance(time.Second) // two purchases one second apart
	}

	w := doJSON(t, r, http.MethodPost, "/v1/users/u1/anomaly/scan", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Findings []*anomaly.SuspiciousActivity `json:"findings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Findings)
}

func TestCountdownEndpoint(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 23, 30, 0, 0, time.UTC)}
	r, _ := newTestRouter(t, clk)

	w := doJSON(t, r, http.MethodGet, "/v1/users/u1/reset/countdown", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var c reset.Countdown
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	require.Equal(t, 0, c.Hours)
	require.Equal(t, 30, c.Minutes)
}

func TestPurchaseTargetsEndpoint(t *testing.T) {
	clk := &testutil.FixedClock{Instant: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)}
	r, db := newTestRouter(t, clk, 0.0)
	require.NoError(t, db.Create(&floor.TierState{UserID: "u1", Tier: 7}).Error)
	require.NoError(t, db.Create(&floor.TierState{UserID: "u2", Tier: 8}).Error)
	require.NoError(t, db.Create(&network.Profile{
		UserID: "u2", Name: "T", Tier: 8,
		Wishlist: []byte(`[{"id":"i1","title":"Speaker","price":8000,"priority":"high"}]`),
	}).Error)

	w := doJSON(t, r, http.MethodGet, "/v1/users/u1/purchase-targets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"u2"`)
}
