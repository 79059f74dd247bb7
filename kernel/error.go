package kernel

// Error describes a kernel error. All kernel errors are declared as global
// variables that point to an Error value. Boot code runs before any general
// purpose allocator is available so errors.New cannot be used; callers
// compare errors by identity instead.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Module + ": " + e.Message
}
