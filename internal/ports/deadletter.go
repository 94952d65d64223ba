package ports

import "github.com/ghalamif/TradeReplica/internal/domain"

// DeadLetter keeps records a sink gave up on, for operators to inspect.
type DeadLetter interface {
	Append(sink string, env domain.Envelope, cause error) error
	Close() error
}
