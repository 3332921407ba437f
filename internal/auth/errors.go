package auth

import (
	"errors"
	"fmt"
)

// Auth errors. Operations report them inside a Result rather than returning them.
var (
	ErrInitialization     = errors.New("auth system failed to initialize")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrTemporarilyLocked  = errors.New("too many failed login attempts")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrAccountLocked      = errors.New("account locked")
	ErrWrongPassword      = errors.New("wrong password")
	ErrValidation         = errors.New("validation failed")
	ErrDuplicate          = errors.New("duplicate record")
	ErrStoreUnavailable   = errors.New("record store unavailable")
	ErrOTPRejected        = errors.New("one-time code rejected")
	ErrUnauthenticated    = errors.New("not logged in")
	ErrForbidden          = errors.New("access denied")
	ErrInvalidStep        = errors.New("operation not allowed in the current step")
	ErrNotFound           = errors.New("record not found")
)

// Error codes for API responses
const (
	CodeRateLimited        = "RATE_LIMITED"
	CodeTemporarilyLocked  = "TEMPORARILY_LOCKED"
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	CodeAccountDeactivated = "ACCOUNT_DEACTIVATED"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeWrongPassword      = "WRONG_PASSWORD"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeDuplicateConflict  = "DUPLICATE_CONFLICT"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeOTPRejected        = "OTP_REJECTED"
	CodeInitialization     = "INITIALIZATION_ERROR"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeForbidden          = "FORBIDDEN"
	CodeInvalidStep        = "INVALID_STEP"
	CodeNotFound           = "NOT_FOUND"
	CodeNoRememberedLogin  = "NO_REMEMBERED_LOGIN"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInitialization, CodeInitialization},
	{ErrRateLimited, CodeRateLimited},
	{ErrTemporarilyLocked, CodeTemporarilyLocked},
	{ErrAccountNotFound, CodeAccountNotFound},
	{ErrAccountDeactivated, CodeAccountDeactivated},
	{ErrAccountLocked, CodeAccountLocked},
	{ErrWrongPassword, CodeWrongPassword},
	{ErrValidation, CodeValidationError},
	{ErrDuplicate, CodeDuplicateConflict},
	{ErrStoreUnavailable, CodeStoreUnavailable},
	{ErrOTPRejected, CodeOTPRejected},
	{ErrUnauthenticated, CodeUnauthenticated},
	{ErrForbidden, CodeForbidden},
	{ErrInvalidStep, CodeInvalidStep},
	{ErrNotFound, CodeNotFound},
}

// CodeFor maps an error to its API code
func CodeFor(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeStoreUnavailable
}

// User-facing messages
const (
	MsgLoginRateLimited   = "Quá nhiều lần đăng nhập. Vui lòng thử lại sau."
	MsgActionRateLimited  = "Quá nhiều thao tác. Vui lòng thử lại sau."
	MsgAccountNotFound    = "Tài khoản không tồn tại"
	MsgAccountDeactivated = "Tài khoản đã bị vô hiệu hóa"
	MsgAccountLocked      = "Tài khoản của bạn đã bị khóa. Vui lòng liên hệ quản trị viên."
	MsgWrongPassword      = "Mật khẩu không đúng"
	MsgLoginFailed        = "Có lỗi xảy ra khi đăng nhập. Vui lòng thử lại!"
	MsgInitialization     = "Hệ thống chưa sẵn sàng. Vui lòng thử lại sau."
	MsgUnauthenticated    = "Vui lòng đăng nhập để tiếp tục!"
	MsgForbidden          = "Bạn không có quyền thực hiện thao tác này!"
	MsgStoreUnavailable   = "Có lỗi xảy ra. Vui lòng thử lại!"

	MsgUsernameRequired  = "Vui lòng nhập tên đăng nhập!"
	MsgUsernameTooShort  = "Tên đăng nhập phải có ít nhất 3 ký tự!"
	MsgUsernameTaken     = "Tên người dùng đã tồn tại!"
	MsgEmailTaken        = "Email đã được sử dụng bởi tài khoản khác!"
	MsgUserNotFound      = "Không tìm thấy người dùng!"
	MsgUserCreated       = "Tạo người dùng thành công!"
	MsgUserUpdated       = "Cập nhật người dùng thành công!"
	MsgUserDeleted       = "Xóa người dùng thành công!"
	MsgUserLocked        = "Đã khóa người dùng thành công!"
	MsgUserUnlocked      = "Đã mở khóa người dùng thành công!"
	MsgPasswordReset     = "Đặt lại mật khẩu thành công!"
	MsgDefaultLockReason = "Khóa bởi quản trị viên"

	MsgFieldNameRequired = "Vui lòng nhập tên trường!"
	MsgFieldExists       = "Trường đã tồn tại!"
	MsgFieldNotFound     = "Không tìm thấy trường!"
	MsgFieldForbidden    = "Bạn không có quyền truy cập trường này!"
	MsgFieldCreated      = "Tạo trường thành công!"
	MsgFieldUpdated      = "Cập nhật trường thành công!"
	MsgFieldDeleted      = "Xóa trường thành công!"
	MsgDataRequired      = "Vui lòng nhập dữ liệu!"
	MsgDataExists        = "Dữ liệu đã tồn tại!"
	MsgDataNotFound      = "Không tìm thấy dữ liệu!"
	MsgDataAdded         = "Thêm dữ liệu thành công!"
	MsgDataRemoved       = "Xóa dữ liệu thành công!"

	MsgIdentifierRequired = "Vui lòng nhập tên đăng nhập hoặc email!"
	MsgIdentifierNotFound = "Không tìm thấy tên đăng nhập / email"
	MsgNoEmailOnAccount   = "Tài khoản chưa có email để nhận mã OTP!"
	MsgOTPSent            = "Mã OTP đã được gửi đến email của bạn!"
	MsgOTPIncomplete      = "Vui lòng nhập đầy đủ 6 số OTP"
	MsgOTPVerified        = "Xác minh OTP thành công!"
	MsgOTPCheckFailed     = "Có lỗi xảy ra khi xác minh OTP. Vui lòng thử lại!"
	MsgOTPSendFailed      = "Không thể gửi mã OTP. Vui lòng thử lại!"
	MsgEmailLost          = "Thông tin email bị mất. Vui lòng bắt đầu lại!"
	MsgNewPasswordEmpty   = "Vui lòng nhập mật khẩu mới"
	MsgPasswordTooShort   = "Mật khẩu phải có ít nhất 6 ký tự"
	MsgPasswordMismatch   = "Mật khẩu xác nhận không khớp"
	MsgVerifyOTPFirst     = "Vui lòng xác minh OTP trước!"
	MsgPasswordUpdated    = "Mật khẩu đã được cập nhật thành công! Vui lòng đăng nhập lại."
	MsgResetStepInvalid   = "Thao tác không hợp lệ ở bước hiện tại!"
)

// msgTemporarilyLocked formats the lockout message for the configured window
func msgTemporarilyLocked(minutes int) string {
	return fmt.Sprintf("Tài khoản tạm thời bị khóa do nhiều lần đăng nhập sai. Vui lòng thử lại sau %d phút.", minutes)
}
