package errs

// 业务错误码；1000 段为核心域错误
const (
	ValidationCode        = 1001 // 入参矛盾/超限/非法枚举
	NotFoundCode          = 1002 // 实体或子记录不存在
	ConflictCode          = 1003 // 乐观并发版本冲突，调用方需重读重试
	InvalidTransitionCode = 1004 // 非法状态机迁移
	CapacityExceededCode  = 1005 // 房间满员
	StoreUnavailableCode  = 1006 // 底层存储不可用，不在内部重试
)

var (
	ErrValidation        = NewCodeError(ValidationCode, "ValidationError")
	ErrNotFound          = NewCodeError(NotFoundCode, "NotFound")
	ErrConflict          = NewCodeError(ConflictCode, "Conflict")
	ErrInvalidTransition = NewCodeError(InvalidTransitionCode, "InvalidTransition")
	ErrCapacityExceeded  = NewCodeError(CapacityExceededCode, "CapacityExceeded")
	ErrStoreUnavailable  = NewCodeError(StoreUnavailableCode, "StoreUnavailable")
)
