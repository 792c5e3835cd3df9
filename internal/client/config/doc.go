// Package config loads runtime configuration for the pantrysync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Intervals use timex.Duration, so values are either strings like "3s" or
// integer nanoseconds. Missing keys keep their defaults:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "realtime_url": "ws://127.0.0.1:4000/realtime",
//	  "data_dir": "/var/lib/pantrysync",
//	  "user_id": "u-1",
//	  "group_id": "",
//	  "online_check_interval": "3s",
//	  "dedup_window": "5s",
//	  "persist_debounce": "500ms",
//	  "s3_bucket": "pantry-images"
//	}
//
// The package does not read environment variables.
package config
