package ctxkeys

type Key int

const (
	Identity  Key = iota // auth.Identity of the caller, when authenticated
	RequestID            // string: echo request id
)
