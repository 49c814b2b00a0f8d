package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType names an observable ledger event.
type EventType string

const (
	EventMarketCreated  EventType = "market_created"
	EventStakePlaced    EventType = "stake_placed"
	EventMarketResolved EventType = "market_resolved"
	EventRewardClaimed  EventType = "reward_claimed"
)

// Event is emitted exactly once per successful ledger operation. Fields not
// relevant to Type are left zero.
type Event struct {
	ID          string
	Type        EventType
	MarketID    uint64
	Participant common.Address
	Side        Side
	Amount      uint256.Int
	Outcome     bool
	Question    string
	EndTime     time.Time
	At          time.Time
}

// Detail flattens the event into a JSON-friendly map. Amounts are decimal
// strings and addresses are checksummed hex.
func (e Event) Detail() map[string]any {
	d := map[string]any{
		"id":        e.ID,
		"type":      string(e.Type),
		"market_id": e.MarketID,
		"at":        e.At.UTC().Format(time.RFC3339Nano),
	}
	switch e.Type {
	case EventMarketCreated:
		d["question"] = e.Question
		d["end_time"] = e.EndTime.Unix()
	case EventStakePlaced:
		d["participant"] = e.Participant.Hex()
		d["side"] = e.Side.String()
		d["amount"] = e.Amount.Dec()
	case EventMarketResolved:
		d["outcome"] = e.Outcome
	case EventRewardClaimed:
		d["participant"] = e.Participant.Hex()
		d["amount"] = e.Amount.Dec()
	}
	return d
}

// EventSink receives ledger events. Emit must not block the caller.
type EventSink interface {
	Emit(e Event)
}

// Clock supplies the ambient current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
