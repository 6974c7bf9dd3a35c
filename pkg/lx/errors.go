package lx

import "errors"

// Validation errors. Returned before any state is written.
var (
	ErrInvalidLeverage        = errors.New("invalid leverage")
	ErrInvalidTp              = errors.New("invalid take profit")
	ErrInvalidSl              = errors.New("invalid stop loss")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrPriceImpactTooHigh     = errors.New("price impact too high")
	ErrExposureLimit          = errors.New("exposure limit reached")
	ErrInvalidSlippage        = errors.New("invalid slippage")
	ErrSlippageExceeded       = errors.New("slippage exceeded")
	ErrInvalidOpenPrice       = errors.New("invalid open price")
	ErrInvalidTrigger         = errors.New("invalid trigger")
	ErrLimitOrderTimelock     = errors.New("limit order timelock")
	ErrWrongOrderType         = errors.New("wrong order type")
	ErrNotPendingOrder        = errors.New("not a pending order")
	ErrPendingOrder           = errors.New("trade is a pending order")
	ErrNoTp                   = errors.New("trade has no take profit")
	ErrNoSl                   = errors.New("trade has no stop loss")
	ErrTradingNotActive       = errors.New("trading not active")
	ErrPairNotFound           = errors.New("pair not found")
	ErrGroupNotFound          = errors.New("group not found")
	ErrFeeNotFound            = errors.New("fee not found")
	ErrCollateralNotFound     = errors.New("collateral not found")
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrNothingToClaim         = errors.New("nothing to claim")
)

// Sequencing errors. Caller misuse or a logic bug.
var (
	ErrBlockOrder     = errors.New("block height out of order")
	ErrTradeNotFound  = errors.New("trade not found")
	ErrTradeClosed    = errors.New("trade already closed")
	ErrUnknownCommand = errors.New("unknown command")
)

// Arithmetic errors.
var (
	ErrOverflow        = errors.New("arithmetic overflow")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrAccFeeUnderflow = errors.New("accumulated fee went backwards")
)

// External errors.
var (
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrStorageMiss      = errors.New("storage miss")
)

// ErrorClass groups errors by how callers should treat them.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassValidation
	ClassSequencing
	ClassArithmetic
	ClassExternal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassSequencing:
		return "sequencing"
	case ClassArithmetic:
		return "arithmetic"
	case ClassExternal:
		return "external"
	default:
		return "unknown"
	}
}

var errorClasses = map[ErrorClass][]error{
	ClassValidation: {
		ErrInvalidLeverage, ErrInvalidTp, ErrInvalidSl, ErrInsufficientCollateral,
		ErrPriceImpactTooHigh, ErrExposureLimit, ErrInvalidSlippage, ErrSlippageExceeded,
		ErrInvalidOpenPrice, ErrInvalidTrigger, ErrLimitOrderTimelock, ErrWrongOrderType,
		ErrNotPendingOrder, ErrPendingOrder, ErrNoTp, ErrNoSl, ErrTradingNotActive,
		ErrPairNotFound, ErrGroupNotFound, ErrFeeNotFound, ErrCollateralNotFound,
		ErrInvalidConfig, ErrNothingToClaim,
	},
	ClassSequencing: {ErrBlockOrder, ErrTradeNotFound, ErrTradeClosed, ErrUnknownCommand},
	ClassArithmetic: {ErrOverflow, ErrDivisionByZero, ErrAccFeeUnderflow},
	ClassExternal:   {ErrPriceUnavailable, ErrStorageMiss},
}

// Classify returns the class of err, or ClassUnknown.
func Classify(err error) ErrorClass {
	for class, errs := range errorClasses {
		for _, target := range errs {
			if errors.Is(err, target) {
				return class
			}
		}
	}
	return ClassUnknown
}
