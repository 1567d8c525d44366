package errors

// Convenience functions for common error patterns

// Input and state errors

func Validation(message string) *StratusError {
	return New(CategoryValidation, SeverityWarning, message)
}

func Validationf(format string, args ...any) *StratusError {
	return Newf(CategoryValidation, SeverityWarning, format, args...)
}

func State(message string) *StratusError {
	return New(CategoryState, SeverityWarning, message)
}

func Statef(format string, args ...any) *StratusError {
	return Newf(CategoryState, SeverityWarning, format, args...)
}

func NotFound(kind, id string) *StratusError {
	return New(CategoryNotFound, SeverityWarning, kind+" not found").
		WithContext("id", id)
}

func Conflict(message string) *StratusError {
	return New(CategoryConflict, SeverityWarning, message)
}

// Subsystem errors

func StorageUnavailable(err error) *StratusError {
	return Wrap(err, CategoryStorage, SeverityError, "storage unavailable")
}

func Vcs(err error, op string) *StratusError {
	return Wrap(err, CategoryVcs, SeverityError, "git operation failed").
		WithContext("op", op)
}

func BackendUnavailable(backend string, err error) *StratusError {
	return Wrap(err, CategoryBackend, SeverityWarning, "backend unavailable").
		WithContext("backend", backend)
}

func Timeout(op string) *StratusError {
	return New(CategoryTimeout, SeverityError, "operation timed out").
		WithContext("op", op)
}

func Internal(err error, message string) *StratusError {
	return Wrap(err, CategoryInternal, SeverityError, message)
}

// Config errors

func ConfigInvalid(path string, err error) *StratusError {
	return Wrap(err, CategoryConfig, SeverityFatal, "configuration file invalid").
		WithContext("path", path)
}
