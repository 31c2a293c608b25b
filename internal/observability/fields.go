package observability

import "go.uber.org/zap"

// Field aliases so callers outside the HTTP layer don't import zap directly.

// String constructs a string log field.
func String(key, value string) zap.Field { return zap.String(key, value) }

// Int constructs an int log field.
func Int(key string, value int) zap.Field { return zap.Int(key, value) }

// Uint constructs a uint log field.
func Uint(key string, value uint) zap.Field { return zap.Uint(key, value) }

// Error constructs an error log field.
func Error(err error) zap.Field { return zap.Error(err) }
