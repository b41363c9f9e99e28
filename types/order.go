package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the on-chain lifecycle state of a storage order, as
// reported by get_order.
type OrderState int

const (
	OrderStateUnknown OrderState = iota
	OrderStateCreated
	OrderStateDeployed
	OrderStateChallengeRequest
	OrderStateOrderEnd
)

func (s OrderState) String() string {
	switch s {
	case OrderStateCreated:
		return "Created"
	case OrderStateDeployed:
		return "Deployed"
	case OrderStateChallengeRequest:
		return "ChallengeRequest"
	case OrderStateOrderEnd:
		return "OrderEnd"
	default:
		return "Unknown"
	}
}

// Pledge is one PST/DMC-denominated stake locked against an order. Amount
// uses shopspring/decimal, the teacher's own fixed-point library, since
// these are on-chain token amounts that must not lose precision to
// float64 rounding.
type Pledge struct {
	Account string
	Amount  decimal.Decimal
}

// Order is the on-chain order row a Contract references.
type Order struct {
	OrderID   string
	User      string // customer's chain account
	Miner     string // miner's chain account
	State     OrderState
	Pledges   []Pledge
	CreatedAt time.Time
}

// CyfsInfo is a device's advertised reachability, as returned by
// get_cyfs_info: used to verify that an incoming contract/challenge
// really originates from the chain-registered customer account.
type CyfsInfo struct {
	Addr string
	HTTP string
	V    uint32
}
