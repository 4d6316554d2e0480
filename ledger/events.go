package ledger

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"tokenmart/core/types"
)

// EventTypeBlacklistUpdated fires when a blacklist flag actually changes.
const EventTypeBlacklistUpdated = "ledger.blacklist_updated"

type blacklistUpdated struct {
	Account common.Address
	Seller  bool
	Royalty bool
}

func (blacklistUpdated) EventType() string { return EventTypeBlacklistUpdated }

func (e blacklistUpdated) Event() *types.Event {
	return &types.Event{
		Type: EventTypeBlacklistUpdated,
		Attributes: map[string]string{
			"account": e.Account.Hex(),
			"seller":  strconv.FormatBool(e.Seller),
			"royalty": strconv.FormatBool(e.Royalty),
		},
	}
}
