package arbitrage

import "context"

// Interceptor observes or vetoes saga steps. BeforeState runs before the step
// for ac.State; a non-nil error halts the saga at that state without running
// the step. AfterState runs once the step returned, with its error.
type Interceptor interface {
	BeforeState(ctx context.Context, ac *Context) error
	AfterState(ctx context.Context, ac *Context, stepErr error)
}

// Interceptors runs several interceptors in order. The first BeforeState
// error wins.
type Interceptors []Interceptor

func (is Interceptors) BeforeState(ctx context.Context, ac *Context) error {
	for _, i := range is {
		if err := i.BeforeState(ctx, ac); err != nil {
			return err
		}
	}
	return nil
}

func (is Interceptors) AfterState(ctx context.Context, ac *Context, stepErr error) {
	for _, i := range is {
		i.AfterState(ctx, ac, stepErr)
	}
}

// InterceptorFuncs adapts plain functions; nil fields are skipped.
type InterceptorFuncs struct {
	Before func(ctx context.Context, ac *Context) error
	After  func(ctx context.Context, ac *Context, stepErr error)
}

func (f InterceptorFuncs) BeforeState(ctx context.Context, ac *Context) error {
	if f.Before == nil {
		return nil
	}
	return f.Before(ctx, ac)
}

func (f InterceptorFuncs) AfterState(ctx context.Context, ac *Context, stepErr error) {
	if f.After != nil {
		f.After(ctx, ac, stepErr)
	}
}
