// Package config provides configuration types and loading for both the host
// binary (cmd/hostctl) and the node binary (cmd/node).
package config

import "time"

// Config is the complete host-side configuration: the point-to-point link
// to the attached node, the Power Manager's control parameters, the link
// supervisor's reattachment behaviour, and logging.
type Config struct {
	Connection    ConnectionConfig    `mapstructure:"connection"`
	PowerManager  PowerManagerConfig  `mapstructure:"power_manager"`
	LinkSupervisor LinkSupervisorConfig `mapstructure:"link_supervisor"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	MetricsAddr   string              `mapstructure:"metrics_addr"`
}

// ConnectionConfig defines how the host reaches whichever node is attached.
type ConnectionConfig struct {
	Type   string       `mapstructure:"type"` // serial, tcp, mqtt
	Serial SerialConfig `mapstructure:"serial"`
	TCP    TCPConfig    `mapstructure:"tcp"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
}

// SerialConfig defines serial port connection settings.
type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

// TCPConfig defines TCP connection settings.
type TCPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MQTTConfig defines MQTT connection settings, used when the attached node
// is reachable only through a site-wide MQTT gateway bridging the mesh.
type MQTTConfig struct {
	Broker         string `mapstructure:"broker"`
	NotifyTopic    string `mapstructure:"notify_topic"`
	CommandTopic   string `mapstructure:"command_topic"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	ClientID       string `mapstructure:"client_id"`
}

// PowerManagerConfig mirrors powermanager.PmConfig for the config file/env
// surface; internal/hostapp converts it into the real PmConfig.
type PowerManagerConfig struct {
	ThresholdMW    float64 `mapstructure:"threshold_mw"`
	PriorityNodeID *int    `mapstructure:"priority_node_id"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	NudgeStep      int     `mapstructure:"nudge_step"`
	Deadband       float64 `mapstructure:"deadband_mw"`
}

// LinkSupervisorConfig controls the link supervisor's heartbeat and
// reattach cadence.
type LinkSupervisorConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ScanTimeout       time.Duration `mapstructure:"scan_timeout"`
	ReattachRetryWait time.Duration `mapstructure:"reattach_retry_wait"`
}

// LoggingConfig defines logging settings, shared by both binaries.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// DefaultConfig returns the host configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Type: "serial",
			Serial: SerialConfig{
				Port: "/dev/ttyUSB0",
				Baud: 115200,
			},
			TCP: TCPConfig{
				Host: "localhost",
				Port: 4403,
			},
			MQTT: MQTTConfig{
				Broker:       "tcp://localhost:1883",
				NotifyTopic:  "dcmesh/notify",
				CommandTopic: "dcmesh/command",
			},
		},
		PowerManager: PowerManagerConfig{
			PollInterval:   2 * time.Second,
			StaleThreshold: 5 * time.Second,
			NudgeStep:      10,
			Deadband:       50,
		},
		LinkSupervisor: LinkSupervisorConfig{
			HeartbeatInterval: 2 * time.Second,
			ScanTimeout:       5 * time.Second,
			ReattachRetryWait: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		MetricsAddr: "",
	}
}

// NodeConfig is the node binary's configuration: its hardware/simulation
// mode, identity store location, and link service table.
type NodeConfig struct {
	Simulate    bool               `mapstructure:"simulate"`
	NodeID      int                `mapstructure:"node_id"`
	IdentityDir string             `mapstructure:"identity_dir"`
	Hardware    NodeHardwareConfig `mapstructure:"hardware"`
	Link        NodeLinkConfig     `mapstructure:"link"`
	Logging     LoggingConfig      `mapstructure:"logging"`
}

// NodeHardwareConfig names the board resources the real HAL binds: the load
// switch pin and the I2C power monitor.
type NodeHardwareConfig struct {
	PWMPin    string `mapstructure:"pwm_pin"`
	I2CBus    string `mapstructure:"i2c_bus"`
	SenseAddr uint16 `mapstructure:"sense_addr"`
}

// NodeLinkConfig carries the link endpoint's service table constants and the byte
// transport the link endpoint is served over.
type NodeLinkConfig struct {
	ServiceUUID string `mapstructure:"service_uuid"`
	SensorUUID  string `mapstructure:"sensor_uuid"`
	CommandUUID string `mapstructure:"command_uuid"`
	LocalName   string `mapstructure:"local_name"`
	Port        string `mapstructure:"port"`
	Baud        int    `mapstructure:"baud"`
}

// DefaultNodeConfig returns the node configuration with sensible defaults.
func DefaultNodeConfig() *NodeConfig {
	return &NodeConfig{
		Simulate:    false,
		IdentityDir: "/var/lib/dcmesh/node",
		Hardware: NodeHardwareConfig{
			PWMPin:    "GPIO18",
			I2CBus:    "",
			SenseAddr: 0x40,
		},
		Link: NodeLinkConfig{
			ServiceUUID: "dcmesh-svc",
			SensorUUID:  "dcmesh-sensor",
			CommandUUID: "dcmesh-cmd",
			LocalName:   "DCMESH",
			Baud:        115200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
