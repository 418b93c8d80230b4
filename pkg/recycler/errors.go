package recycler

import "errors"

// ErrMismatchedObject is returned by Handle.Recycle when the caller passes an
// object that is not the one the handle was issued with.
var ErrMismatchedObject = errors.New("recycler: recycled object does not match handle")

// ErrDoubleRecycle is returned when a handle is recycled twice without an
// intervening Get and the second call can see it synchronously: on the home
// goroutine (Stack.pushNow), or on any goroutine once the first recycle has
// placed the handle in a foreign WeakOrderQueue (its home Stack is cleared
// then). A second foreign recycle that finds the handle still attached to
// its home Stack loses the CAS in WeakOrderQueue.add instead and is dropped
// silently, with no error.
var ErrDoubleRecycle = errors.New("recycler: handle recycled multiple times")
