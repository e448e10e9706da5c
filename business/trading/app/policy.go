package app

import "github.com/ethereum/go-ethereum/common"

// InitiatorPolicy grants every privileged operation to a single identity.
type InitiatorPolicy struct {
	Initiator common.Address
}

var _ Policy = InitiatorPolicy{}

// Allow reports whether caller is the initiator. The zero address is never
// authorized.
func (p InitiatorPolicy) Allow(caller common.Address, op Operation) bool {
	switch op {
	case OpTrade, OpDeposit, OpWithdraw:
	default:
		return false
	}
	return caller != (common.Address{}) && caller == p.Initiator
}
