package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
)

// positionEpsilon is the smallest live size treated as an open position.
const positionEpsilon = 1e-9

type PositionGuard struct {
	gateway domain.Gateway
}

func NewPositionGuard(gateway domain.Gateway) *PositionGuard {
	return &PositionGuard{gateway: gateway}
}

// Authorize runs the local check against the cached position and then asks the
// venue for live positions. Both must pass on every signal. A non-nil error is
// either a *domain.GuardRejection or a gateway failure.
func (g *PositionGuard) Authorize(ctx context.Context, symbol string, side domain.Side, current *domain.Position) error {
	if current != nil && strings.EqualFold(current.Symbol, symbol) {
		return &domain.GuardRejection{
			Phase:  domain.GuardLocal,
			Reason: fmt.Sprintf("%s position already tracked for %s", current.Side, symbol),
		}
	}

	live, err := g.gateway.FetchPositions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch positions: %w", err)
	}
	for _, p := range live {
		if !strings.EqualFold(p.Symbol, symbol) || p.Quantity <= positionEpsilon {
			continue
		}
		if p.Side == side {
			return &domain.GuardRejection{
				Phase:  domain.GuardRemote,
				Reason: fmt.Sprintf("%s position of %v already open on exchange (no pyramiding)", p.Side, p.Quantity),
			}
		}
		return &domain.GuardRejection{
			Phase:  domain.GuardRemote,
			Reason: fmt.Sprintf("opposite %s position of %v open on exchange (no hedge lock)", p.Side, p.Quantity),
		}
	}
	return nil
}

// findLivePosition returns the first non-negligible live position for symbol.
func findLivePosition(live []domain.PositionSnapshot, symbol string) *domain.PositionSnapshot {
	for i := range live {
		if strings.EqualFold(live[i].Symbol, symbol) && live[i].Quantity > positionEpsilon {
			return &live[i]
		}
	}
	return nil
}
