package config

import (
	"fmt"
	"os"
)

func Template() string {
	return channelTemplate
}

// WriteTemplate writes the example config to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(channelTemplate), 0o600)
}

const channelTemplate = `[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true

[[channels]]
name = "game"
address = "127.0.0.1"
port = 9000
heartbeat_interval = "5s"
reset_heartbeat_on_receive = true
max_missed_heartbeats = 2
connect_timeout = "5s"
max_body_bytes = 4194304

[[channels]]
name = "chat"
address = "::1"
port = 9001
heartbeat_interval = "0s"
`
