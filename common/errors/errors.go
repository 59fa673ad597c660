package errors

import "fmt"

type Code string

var (
	// common
	UnknownCode         Code = "1000400"
	InvalidArgumentCode Code = "1000402"
	InvalidConfigCode   Code = "1000404"
	// homing/move
	MustHomeAxisFirstCode   Code = "10011600"
	MoveOutOfRangeCode      Code = "10011601"
	MustHomeXYAxesFirstCode Code = "10011602"
	HomingFailedCode        Code = "10011603"
	// calibration
	SampleRejectedCode     Code = "10011900"
	WobbleModeConflictCode Code = "10011901"
	StoreFailureCode       Code = "10011902"
	// dual carriage
	DualModeRefusedCode   Code = "10012000"
	ToolChangeRefusedCode Code = "10012001"
)

var codeMessageMaps = map[Code]string{
	UnknownCode:             "unknown error",
	InvalidArgumentCode:     "invalid argument",
	InvalidConfigCode:       "invalid machine config",
	MustHomeAxisFirstCode:   "Must home axis first",
	MoveOutOfRangeCode:      "Move out of range",
	MustHomeXYAxesFirstCode: "Must home X and Y axes first",
	HomingFailedCode:        "Homing failed",
	SampleRejectedCode:      "z-wobble sample rejected",
	WobbleModeConflictCode:  "cannot mix sinusoidal and lookup table z-wobble",
	StoreFailureCode:        "calibration store failure",
	DualModeRefusedCode:     "dual carriage mode change refused",
	ToolChangeRefusedCode:   "tool change refused",
}

var (
	MustHomeAxisFirstError   = FromCode(MustHomeAxisFirstCode)
	MustHomeXYAxesFirstError = FromCode(MustHomeXYAxesFirstCode)
)

type Error struct {
	Typ     string `json:"error"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func New(code Code, typ, message string) *Error {
	return &Error{
		Typ:     typ,
		Code:    code,
		Message: message,
	}
}

// Newf builds a MechanicsError whose message is the code text followed by
// the formatted detail.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, "MechanicsError", code.String()+": "+fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	return fmt.Sprintf("error: typ = %s, code = %s, message = %s", e.Typ, string(e.Code), e.Message)
}

// Is matches on code so callers can use errors.Is(err, errors.FromCode(c)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func FromError(err error) *Error {
	switch e := err.(type) {
	case *Error:
		return e
	default:
		return New(UnknownCode, "MechanicsError", e.Error())
	}
}

func FromCode(code Code) *Error {
	return New(code, "MechanicsError", code.String())
}

// HasCode reports whether err is a *Error carrying code.
func HasCode(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}

func (code Code) String() string {
	if msg, ok := codeMessageMaps[code]; ok {
		return msg
	}
	return "code(" + string(code) + ")"
}
