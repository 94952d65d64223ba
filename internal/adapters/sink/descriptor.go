package sink

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"
)

const (
	DriverPostgres     = "postgres"
	DriverGormPostgres = "gorm-postgres"
	DriverSQLite       = "sqlite"
	DriverRedis        = "redis"
	DriverKafka        = "kafka"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
	defaultRedisPort       = 6379

	// DefaultDialTimeout bounds every connection attempt when the sink sets none.
	DefaultDialTimeout = 5 * time.Second
)

// Descriptor identifies one persistence target.
type Descriptor struct {
	Name     string
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Schema namespaces the replicated tables, keys or topic.
	Schema  string
	SSLMode string
	Params  map[string]string
	// DSN overrides every connection field above when set.
	DSN string

	Path    string   // sqlite file, ":memory:" allowed
	Brokers []string // kafka
	Topic   string   // kafka
	RedisDB int

	DialTimeout time.Duration
}

func (d Descriptor) postgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}

	host := d.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := d.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.Database != "" {
		u.Path = "/" + d.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	// lib/pq takes whole seconds and reads 0 as no limit.
	query.Set("connect_timeout", strconv.Itoa(max(1, int(math.Ceil(d.dialTimeout().Seconds())))))
	for key, value := range d.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (d Descriptor) dialTimeout() time.Duration {
	if d.DialTimeout > 0 {
		return d.DialTimeout
	}
	return DefaultDialTimeout
}

func (d Descriptor) redisAddr() string {
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	port := d.Port
	if port == 0 {
		port = defaultRedisPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}
