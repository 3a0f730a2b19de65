// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mobex serves OBEX objects over a stream bearer and a packet
// bearer. The packages under pkg implement the protocol; this package only
// holds the service configuration.
package mobex

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Config is the service configuration, read from the environment.
type Config struct {
	// Stream bearer
	StreamAddress string `env:"STREAM_ADDRESS" envDefault:":6500"`
	Channel       uint8  `env:"CHANNEL"        envDefault:"9"`
	ChannelMTU    int    `env:"CHANNEL_MTU"    envDefault:"32767"`
	MaxFrameSize  int    `env:"MAX_FRAME_SIZE" envDefault:"65535"`

	// Packet bearer; a PSM of 0 disables it
	PacketAddress    string `env:"PACKET_ADDRESS"     envDefault:":6501"`
	PacketPath       string `env:"PACKET_PATH"        envDefault:"/psm/"`
	PSM              uint16 `env:"PSM"                envDefault:"4097"`
	PSMMTU           int    `env:"PSM_MTU"            envDefault:"8192"`
	PacketBufferSize int    `env:"PACKET_BUFFER_SIZE" envDefault:"1000"`

	// Object store profile
	Target        uuid.UUID `env:"TARGET"`
	MaxObjectSize int       `env:"MAX_OBJECT_SIZE" envDefault:"1048576"`
	MaxSessions   int       `env:"MAX_SESSIONS"    envDefault:"0"`

	// Admission
	RateLimitCapacity int64 `env:"RATE_LIMIT_CAPACITY" envDefault:"20"`
	RateLimitRefill   int64 `env:"RATE_LIMIT_REFILL"   envDefault:"5"`
	RateLimitPeers    int   `env:"RATE_LIMIT_PEERS"    envDefault:"10000"`

	// Observability
	HTTPAddress string        `env:"HTTP_ADDRESS" envDefault:":9090"`
	LogLevel    string        `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string        `env:"LOG_FORMAT"   envDefault:"json"`
	HealthTTL   time.Duration `env:"HEALTH_TTL"   envDefault:"10s"`

	// Timeouts
	AcceptTimeout   time.Duration `env:"ACCEPT_TIMEOUT"   envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// NewConfig parses the environment into a Config.
func NewConfig(opts env.Options) (Config, error) {
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	return c, nil
}
