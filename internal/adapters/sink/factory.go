package sink

import (
	"fmt"

	"github.com/ghalamif/TradeReplica/internal/ports"
)

// NewStore builds the Store for d.Driver.
func NewStore(d Descriptor) (ports.Store, error) {
	switch d.Driver {
	case "", DriverPostgres:
		return NewSQLStore(d), nil
	case DriverGormPostgres, DriverSQLite:
		return NewGormStore(d)
	case DriverRedis:
		return NewRedisStore(d), nil
	case DriverKafka:
		return NewKafkaStore(d)
	}
	return nil, fmt.Errorf("sink %s: unknown driver %q", d.Name, d.Driver)
}
