package model

import "errors"

// Error kinds from spec §7. Recoverable kinds (ErrNetwork, ErrEngineCrash,
// ErrEngineProtocol) are handled inside the component that detects them;
// fatal kinds propagate to the coordinator and trigger shutdown.
var (
	ErrNetwork        = errors.New("network error")
	ErrProtocol       = errors.New("protocol error")
	ErrAuth           = errors.New("authentication error")
	ErrUpdateRequired = errors.New("client update required")
	ErrEngineCrash    = errors.New("engine crashed")
	ErrEngineProtocol = errors.New("engine protocol violation")
	ErrConfig         = errors.New("configuration error")
	ErrShutdown       = errors.New("shutting down")
	ErrForcedShutdown = errors.New("shutdown grace period expired with work still outstanding")
)
