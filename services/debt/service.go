package debt

import (
	"context"

	"github.com/jinjinsansan/hachikai/pkg/config"
	"github.com/jinjinsansan/hachikai/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultAccrual = 5000

type Service struct {
	entries repository.Repository[Entry]
	node    *snowflake.Node
	amount  int64
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	amount := p.Config.Floor.DebtAccrualAmount
	if amount <= 0 {
		amount = defaultAccrual
	}

	return &Service{
		entries: repository.ProvideStore[Entry](p.DB),
		node:    p.Node,
		amount:  amount,
	}
}

// Amount returns the configured per-day accrual increment.
func (s *Service) Amount() int64 { return s.amount }

// Append records one accrual against the ledger. balance is the running
// balance after the accrual was applied to the tier state.
func (s *Service) Append(ctx context.Context, userID string, balance int64, reason string) error {
	entry := &Entry{
		ID:      s.node.Generate().String(),
		UserID:  userID,
		Amount:  s.amount,
		Balance: balance,
		Reason:  reason,
	}

	if err := s.entries.Create(ctx, entry); err != nil {
		zap.L().Error("failed to append debt entry", zap.String("user_id", userID), zap.Error(err))
		return err
	}

	return nil
}

// History returns all accruals for a user, oldest first.
func (s *Service) History(ctx context.Context, userID string) ([]*Entry, error) {
	return s.entries.Find(ctx, &Entry{UserID: userID})
}
