package debt

import (
	"context"
	"testing"

	"github.com/jinjinsansan/hachikai/pkg/config"
	"github.com/jinjinsansan/hachikai/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Entry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node, Config: cfg})
}

func TestAmountDefaultsWhenUnconfigured(t *testing.T) {
	svc := newTestService(t, &config.Config{})
	require.EqualValues(t, 5000, svc.Amount())
}

func TestAmountFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Floor.DebtAccrualAmount = 3000

	svc := newTestService(t, cfg)
	require.EqualValues(t, 3000, svc.Amount())
}

func TestAppendAndHistory(t *testing.T) {
	svc := newTestService(t, &config.Config{})

	require.NoError(t, svc.Append(context.Background(), "u1", 5000, "daily purchase obligation unmet"))
	require.NoError(t, svc.Append(context.Background(), "u1", 10000, "daily purchase obligation unmet"))
	require.NoError(t, svc.Append(context.Background(), "u2", 5000, "daily purchase obligation unmet"))

	entries, err := svc.History(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.EqualValues(t, 5000, entries[0].Balance)
	require.EqualValues(t, 10000, entries[1].Balance)
}
