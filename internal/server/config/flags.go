package config

import (
	"flag"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/flagx"
)

// flagNames are the short flags owned by the server config.
var flagNames = []string{"-a", "-w", "-d", "-m", "-s", "-t", "-r", "-l", "-i", "-f", "-u", "-p", "-b", "-g", "-e"}

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-w string   HTTP bind address for /ws and /metrics
//	-d string   PostgreSQL DSN
//	-m          use in-memory stores instead of PostgreSQL
//	-s string   JWT HMAC secret key
//	-t int      issued token validity, minutes
//	-r string   Redis address; empty disables the shared tier
//	-l int      max websocket connections per tenant
//	-i string   instance id (random when empty)
//	-f string   log format: json, text or zerolog
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Other arguments are ignored so subcommands can carry their own flags.
func parseFlags(config *Config, args []string) error {
	filtered := flagx.FilterArgs(args, flagNames)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "gRPC address")
	fs.StringVar(&config.EndpointAddrHTTP, "w", config.EndpointAddrHTTP, "HTTP address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.BoolVar(&config.InMemory, "m", config.InMemory, "in-memory stores")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenValidity := fs.Int("t", int(config.TokenValidityDuration.Minutes()), "token validity (in minutes)")

	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.IntVar(&config.MaxConnectionsPerTenant, "l", config.MaxConnectionsPerTenant, "max connections per tenant")
	fs.StringVar(&config.InstanceID, "i", config.InstanceID, "instance id")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(filtered); err != nil {
		return err
	}

	config.TokenValidityDuration = time.Duration(*tokenValidity) * time.Minute
	return nil
}
