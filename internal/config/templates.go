package config

import (
	"fmt"
	"os"
)

// TemplateValues fills the generated node config.
type TemplateValues struct {
	NodeID     uint16
	BuildingID uint16
	MasterKey  string
}

func Template(v TemplateValues) string {
	return fmt.Sprintf(nodeTemplate, v.NodeID, v.BuildingID, v.MasterKey)
}

func WriteTemplate(path string, v TemplateValues, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template(v)), 0o600)
}

const nodeTemplate = `node_id = %d
building_id = %d
role = "tech"
store = "arxnode.db"
log_level = "info"
# metrics_addr = "127.0.0.1:9464"

[keys]
master_key = "%s"
# roster = [1, 2, 3]

[mesh]
max_hops = 3
default_hops = 3
replay_capacity = 256
neighbor_timeout = "10m"
reserve_block = 16

[registry]
capacity = 4096
queue_depth = 4
max_unknown = 64

[radio]
kind = "udp"
listen = ":7400"
peers = ["255.255.255.255:7400"]
mtu = 255
tx_retries = 3

[radio.backoff]
initial_delay = "50ms"
multiplier = 2.0
max_delay = "1s"
jitter = true
`
