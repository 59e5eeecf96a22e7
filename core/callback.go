package core

// CallbackFuncs adapts a pair of functions to Callback.  Nil fields are
// skipped.
type CallbackFuncs[T any] struct {
	Ready  func(r Resource[T])
	Failed func(err error)
}

func (c CallbackFuncs[T]) OnResourceReady(r Resource[T]) {
	if c.Ready != nil {
		c.Ready(r)
	}
}

func (c CallbackFuncs[T]) OnLoadFailed(err error) {
	if c.Failed != nil {
		c.Failed(err)
	}
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
