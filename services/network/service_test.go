package network

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jinjinsansan/hachikai/pkg/config"
	"github.com/jinjinsansan/hachikai/services/activity"
	"github.com/jinjinsansan/hachikai/services/debt"
	"github.com/jinjinsansan/hachikai/services/floor"
	"github.com/jinjinsansan/hachikai/services/testutil"
	"github.com/jinjinsansan/hachikai/services/tier"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T, draws ...float64) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &floor.TierState{}, &debt.Entry{}, &activity.Record{}, &Profile{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	debts := debt.NewService(debt.ServiceParams{DB: db, Node: node, Config: &config.Config{}})
	engine := floor.NewEngine(floor.EngineParams{DB: db, Debt: debts, Rand: &testutil.ScriptedRand{}})

	svc := NewService(ServiceParams{DB: db, Engine: engine, Rand: &testutil.ScriptedRand{Draws: draws}})
	return svc, db
}

func wishlist(t *testing.T, items ...WishlistItem) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(items)
	require.NoError(t, err)
	return datatypes.JSON(raw)
}

func seedMember(t *testing.T, db *gorm.DB, userID string, memberTier int, wl datatypes.JSON) {
	t.Helper()
	require.NoError(t, db.Create(&floor.TierState{UserID: userID, Tier: memberTier}).Error)
	require.NoError(t, db.Create(&Profile{UserID: userID, Name: userID, Tier: memberTier, Wishlist: wl}).Error)
}

func TestTargetTiersBands(t *testing.T) {
	require.Equal(t, []int{2, 3, 4, 5, 6, 7, 8}, TargetTiers(1))
	require.Equal(t, []int{3, 4, 5, 6, 7, 8}, TargetTiers(2))
	require.Equal(t, []int{4, 5, 6, 7, 8}, TargetTiers(3))
	require.Equal(t, []int{4, 5, 6, 7, 8}, TargetTiers(4))
	require.Equal(t, []int{6, 7, 8}, TargetTiers(5))
	require.Equal(t, []int{6, 7, 8}, TargetTiers(6))
	require.Equal(t, []int{8}, TargetTiers(7))
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, TargetTiers(8))
	require.Nil(t, TargetTiers(0))
	require.Nil(t, TargetTiers(9))
}

func TestValidatePurchaseFlow(t *testing.T) {
	// top tier buys anywhere
	require.True(t, ValidatePurchaseFlow(tier.Max, 1))
	// upward purchases allowed
	require.True(t, ValidatePurchaseFlow(3, 5))
	// same tier only from tier 5 up
	require.True(t, ValidatePurchaseFlow(5, 5))
	require.False(t, ValidatePurchaseFlow(4, 4))
	// downward purchases blocked below the top tier
	require.False(t, ValidatePurchaseFlow(6, 3))
}

func TestUpsertProfileValidation(t *testing.T) {
	svc, _ := newTestService(t)

	require.Error(t, svc.UpsertProfile(context.Background(), &Profile{Tier: 3}))
	require.Error(t, svc.UpsertProfile(context.Background(), &Profile{UserID: "u1", Tier: 0}))
	require.NoError(t, svc.UpsertProfile(context.Background(), &Profile{UserID: "u1", Name: "A", Tier: 3}))
}

func TestSelectPurchaseTargetPrefersHighScore(t *testing.T) {
	svc, db := newTestService(t, 0.0) // pick the top candidate
	require.NoError(t, db.Create(&floor.TierState{UserID: "buyer", Tier: 3}).Error)

	// tier distance 5 with a high-priority item in the fair price band
	seedMember(t, db, "strong", 8, wishlist(t, WishlistItem{ID: "i1", Title: "Speaker", Price: 8000, Priority: PriorityHigh}))
	// tier distance 1, low priority, cheap
	seedMember(t, db, "weak", 4, wishlist(t, WishlistItem{ID: "i2", Title: "Mat", Price: 3000, Priority: PriorityLow}))
	// ineligible tier
	seedMember(t, db, "below", 2, wishlist(t, WishlistItem{ID: "i3", Title: "X", Price: 8000, Priority: PriorityHigh}))
	// eligible but empty wishlist
	seedMember(t, db, "empty", 6, nil)

	target, err := svc.SelectPurchaseTarget(context.Background(), "buyer")
	require.NoError(t, err)
	require.NotNil(t, target)
	require.Equal(t, "strong", target.UserID)
}

func TestSelectPurchaseTargetNoCandidates(t *testing.T) {
	svc, db := newTestService(t, 0.0)
	require.NoError(t, db.Create(&floor.TierState{UserID: "buyer", Tier: 7}).Error)
	// only tier 8 is eligible for a tier-7 buyer
	seedMember(t, db, "peer", 7, wishlist(t, WishlistItem{ID: "i1", Title: "X", Price: 8000}))

	target, err := svc.SelectPurchaseTarget(context.Background(), "buyer")
	require.NoError(t, err)
	require.Nil(t, target)
}

func TestSelectPurchaseTargetExcludesSelf(t *testing.T) {
	svc, db := newTestService(t, 0.0)
	// a tier-6 buyer's band includes tier 6 itself
	seedMember(t, db, "buyer", 6, wishlist(t, WishlistItem{ID: "i1", Title: "X", Price: 8000}))

	target, err := svc.SelectPurchaseTarget(context.Background(), "buyer")
	require.NoError(t, err)
	require.Nil(t, target)
}

func TestSelectPurchaseTargetTracksTierTransitions(t *testing.T) {
	svc, db := newTestService(t, 0.0)
	require.NoError(t, db.Create(&floor.TierState{UserID: "buyer", Tier: 7}).Error)

	// profile written at tier 7; the nightly transition then promotes the
	// member to tier 8 without touching the profile row
	seedMember(t, db, "riser", 7, wishlist(t, WishlistItem{ID: "i1", Title: "X", Price: 8000}))
	out, err := svc.engine.Apply(context.Background(), "riser", floor.Obligations{PurchaseMet: true, AdViewMet: true})
	require.NoError(t, err)
	require.Equal(t, 8, out.NewTier)

	target, err := svc.SelectPurchaseTarget(context.Background(), "buyer")
	require.NoError(t, err)
	require.NotNil(t, target)
	require.Equal(t, "riser", target.UserID)
}

func TestSelectProductPrefersPriority(t *testing.T) {
	p := &Profile{UserID: "u1", Tier: 3}
	raw, err := json.Marshal([]WishlistItem{
		{ID: "low", Priority: PriorityLow},
		{ID: "high", Priority: PriorityHigh},
		{ID: "medium", Priority: PriorityMedium},
	})
	require.NoError(t, err)
	p.Wishlist = datatypes.JSON(raw)

	item, err := SelectProduct(p)
	require.NoError(t, err)
	require.Equal(t, "high", item.ID)
}

func TestSelectProductEmptyWishlist(t *testing.T) {
	item, err := SelectProduct(&Profile{UserID: "u1"})
	require.NoError(t, err)
	require.Nil(t, item)
}

func TestRecommendationsPerTierRule(t *testing.T) {
	svc, db := newTestService(t, 0.0, 0.0, 0.0)
	// tier 5 owes 2 purchases per day
	require.NoError(t, db.Create(&floor.TierState{UserID: "buyer", Tier: 5}).Error)
	seedMember(t, db, "target", 7, wishlist(t, WishlistItem{ID: "i1", Title: "X", Price: 8000, Priority: PriorityHigh}))

	recs, err := svc.Recommendations(context.Background(), "buyer")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "target", recs[0].Profile.UserID)
	require.Equal(t, "i1", recs[0].Item.ID)
}

func TestAidScoreCountsReceivedPurchases(t *testing.T) {
	svc, db := newTestService(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&activity.Record{
			ID: snowID(t, i), UserID: "buyer", Type: activity.TypePurchase, CounterpartyID: "receiver",
		}).Error)
	}
	require.NoError(t, db.Create(&activity.Record{
		ID: snowID(t, 99), UserID: "buyer", Type: activity.TypeAdView, CounterpartyID: "receiver",
	}).Error)

	score, err := svc.AidScore(context.Background(), "receiver")
	require.NoError(t, err)
	require.EqualValues(t, 30, score)

	score, err = svc.AidScore(context.Background(), "nobody")
	require.NoError(t, err)
	require.Zero(t, score)
}

func snowID(t *testing.T, n int) string {
	t.Helper()
	return "rec_" + string(rune('a'+n%26))
}
