package notify

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// FormatEvent renders a ledger event as a notification title and body.
func FormatEvent(e domain.Event) (title, message string) {
	switch e.Type {
	case domain.EventMarketCreated:
		return fmt.Sprintf("Market #%d opened", e.MarketID),
			fmt.Sprintf("%s\nStaking closes %s", e.Question, e.EndTime.UTC().Format(time.RFC1123))
	case domain.EventStakePlaced:
		return fmt.Sprintf("Stake on market #%d", e.MarketID),
			fmt.Sprintf("%s staked %s on side %s", e.Participant.Hex(), e.Amount.Dec(), e.Side)
	case domain.EventMarketResolved:
		winner := domain.SideB
		if e.Outcome {
			winner = domain.SideA
		}
		return fmt.Sprintf("Market #%d resolved", e.MarketID),
			fmt.Sprintf("Side %s won", winner)
	case domain.EventRewardClaimed:
		return fmt.Sprintf("Reward paid on market #%d", e.MarketID),
			fmt.Sprintf("%s received %s", e.Participant.Hex(), e.Amount.Dec())
	default:
		return string(e.Type), fmt.Sprintf("market #%d", e.MarketID)
	}
}
