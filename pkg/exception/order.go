package exception

import "github.com/yanun0323/errors"

var (
	ErrRiskRejected      = errors.New("order: rejected by risk")
	ErrKillSwitchTripped = errors.New("order: kill switch tripped")
	ErrOrderInvalid      = errors.New("order: invalid intent")
	ErrOrderDuplicate    = errors.New("order: duplicate order id")
	ErrOrderUnknown      = errors.New("order: unknown order id")
	ErrEngineNotRunning  = errors.New("engine: not running")
	ErrEngineStopped     = errors.New("engine: stopped")
)
