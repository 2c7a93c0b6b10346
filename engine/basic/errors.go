package basic

import "errors"

// 文件相关错误
var (
	ErrDataCorruption = errors.New("data corruption detected")
	ErrFileLock       = errors.New("could not acquire file lock")
	ErrResourceClosed = errors.New("resource has been closed")
	ErrIO             = errors.New("I/O error")
)

// 页面相关错误
var (
	ErrPageOutOfBounds = errors.New("page id out of bounds")
	ErrDoubleFree      = errors.New("page has already been freed")
	ErrAlreadyDisposed = errors.New("page reference has already been disposed")
	ErrStackEmpty      = errors.New("free page stack is empty")
)

// 列相关错误
var (
	ErrTupleIdOutOfBounds  = errors.New("tuple id out of bounds")
	ErrEntryDeleted        = errors.New("entry has been deleted")
	ErrNullValueNotAllowed = errors.New("null value not allowed for non-nullable column")
	ErrFileAlreadyOpen     = errors.New("column file is already open in this process")
)

// WAL 相关错误
var (
	ErrWalSealed           = errors.New("write-ahead log has been sealed")
	ErrTransactionConflict = errors.New("transaction does not own the pending write-ahead log")
)

// 数据类型相关错误
var (
	ErrUnsupportedType = errors.New("unsupported column type")
	ErrInvalidValue    = errors.New("invalid value for column type")
)
