package auth

// Result is the outcome of every user-facing operation. Failures carry a
// localized message, the input field to highlight, and an API code; they are
// never returned as Go errors.
type Result struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Field    string `json:"field,omitempty"`
	Code     string `json:"code,omitempty"`
	IsLocked bool   `json:"isLocked,omitempty"`
	Data     any    `json:"data,omitempty"`

	// Err is the sentinel behind a failure, for errors.Is checks
	Err error `json:"-"`
}

func succeeded(message string, data any) Result {
	return Result{Success: true, Message: message, Data: data}
}

func failed(err error, message, field string) Result {
	return Result{
		Success: false,
		Message: message,
		Field:   field,
		Code:    CodeFor(err),
		Err:     err,
	}
}

// Session returns the session attached to a successful login, or nil
func (r Result) Session() *Session {
	s, _ := r.Data.(*Session)
	return s
}
