package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tokenmart/custody"
)

type transferStep struct {
	from   common.Address
	to     common.Address
	amount *big.Int
}

// transferJournal executes bank transfers while remembering how to reverse
// them. If a later mandatory step fails, rollback restores every balance
// moved so far in reverse order.
type transferJournal struct {
	bank  custody.Bank
	steps []transferStep
}

func newTransferJournal(bank custody.Bank) *transferJournal {
	return &transferJournal{bank: bank}
}

// move transfers amount from one account to another and records the step for
// a potential rollback. Zero and nil amounts are accepted no-ops.
func (j *transferJournal) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := j.bank.Transfer(from, to, amount); err != nil {
		return err
	}
	j.steps = append(j.steps, transferStep{from: from, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

// rollback reverses every recorded transfer, newest first. A reversal
// failure leaves balances inconsistent, so the first such error is returned
// for the caller to surface.
func (j *transferJournal) rollback() error {
	for i := len(j.steps) - 1; i >= 0; i-- {
		step := j.steps[i]
		if err := j.bank.Transfer(step.to, step.from, step.amount); err != nil {
			return fmt.Errorf("market: rollback transfer failed: %w", err)
		}
	}
	j.steps = nil
	return nil
}
