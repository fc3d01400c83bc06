package errors

import "fmt"

var (
	ErrWorkerPanic          = fmt.Errorf("worker panic")
	ErrValidation           = fmt.Errorf("validation error")
	ErrStorageUnavailable   = fmt.Errorf("storage unavailable")
	ErrDelivery             = fmt.Errorf("delivery failure")
	ErrUnknownEvent         = fmt.Errorf("unknown event")
	ErrInvalidToken         = fmt.Errorf("invalid token")
	ErrCoordinatorStopped   = fmt.Errorf("coordinator stopped")
	ErrInvalidFailurePolicy = fmt.Errorf("invalid persistence failure policy")
	ErrInvalidConfig        = fmt.Errorf("invalid configuration")
)
