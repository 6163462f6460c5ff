package routing

import "errors"

// Routing error taxonomy. Decide degrades to the fallback path for all of
// these except ErrNoAvailableBrokers, which means no assignment is
// possible at all.
var (
	ErrNoAvailableBrokers  = errors.New("no available brokers")
	ErrNoCapacityAvailable = errors.New("all candidate brokers over load threshold")
	ErrRoutingFailure      = errors.New("routing failure")
)
