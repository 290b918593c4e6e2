package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load reads the host configuration from viper.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	cfg.Connection.Type = viper.GetString("connection.type")

	cfg.Connection.Serial.Port = viper.GetString("connection.serial.port")
	cfg.Connection.Serial.Baud = viper.GetInt("connection.serial.baud")
	if cfg.Connection.Serial.Baud == 0 {
		cfg.Connection.Serial.Baud = 115200
	}

	cfg.Connection.TCP.Host = viper.GetString("connection.tcp.host")
	cfg.Connection.TCP.Port = viper.GetInt("connection.tcp.port")
	if cfg.Connection.TCP.Port == 0 {
		cfg.Connection.TCP.Port = 4403
	}

	cfg.Connection.MQTT.Broker = viper.GetString("connection.mqtt.broker")
	cfg.Connection.MQTT.NotifyTopic = viper.GetString("connection.mqtt.notify_topic")
	cfg.Connection.MQTT.CommandTopic = viper.GetString("connection.mqtt.command_topic")
	cfg.Connection.MQTT.Username = viper.GetString("connection.mqtt.username")
	cfg.Connection.MQTT.Password = viper.GetString("connection.mqtt.password")
	cfg.Connection.MQTT.ClientID = viper.GetString("connection.mqtt.client_id")

	cfg.PowerManager.ThresholdMW = viper.GetFloat64("power_manager.threshold_mw")
	if id := viper.GetInt("power_manager.priority_node_id"); viper.IsSet("power_manager.priority_node_id") {
		cfg.PowerManager.PriorityNodeID = &id
	}
	cfg.PowerManager.PollInterval = getDurationOrDefault("power_manager.poll_interval", cfg.PowerManager.PollInterval)
	cfg.PowerManager.StaleThreshold = getDurationOrDefault("power_manager.stale_threshold", cfg.PowerManager.StaleThreshold)
	if n := viper.GetInt("power_manager.nudge_step"); n != 0 {
		cfg.PowerManager.NudgeStep = n
	}
	if d := viper.GetFloat64("power_manager.deadband_mw"); d != 0 {
		cfg.PowerManager.Deadband = d
	}

	cfg.LinkSupervisor.HeartbeatInterval = getDurationOrDefault("link_supervisor.heartbeat_interval", cfg.LinkSupervisor.HeartbeatInterval)
	cfg.LinkSupervisor.ScanTimeout = getDurationOrDefault("link_supervisor.scan_timeout", cfg.LinkSupervisor.ScanTimeout)
	cfg.LinkSupervisor.ReattachRetryWait = getDurationOrDefault("link_supervisor.reattach_retry_wait", cfg.LinkSupervisor.ReattachRetryWait)

	cfg.Logging.Level = viper.GetString("logging.level")
	cfg.Logging.Format = viper.GetString("logging.format")
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	cfg.MetricsAddr = viper.GetString("metrics_addr")

	return cfg, nil
}

// LoadNode reads the node configuration from viper.
func LoadNode() (*NodeConfig, error) {
	cfg := DefaultNodeConfig()

	cfg.Simulate = viper.GetBool("simulate")
	cfg.NodeID = viper.GetInt("node_id")
	if dir := viper.GetString("identity_dir"); dir != "" {
		cfg.IdentityDir = dir
	}

	if v := viper.GetString("hardware.pwm_pin"); v != "" {
		cfg.Hardware.PWMPin = v
	}
	if v := viper.GetString("hardware.i2c_bus"); v != "" {
		cfg.Hardware.I2CBus = v
	}
	if v := viper.GetUint16("hardware.sense_addr"); v != 0 {
		cfg.Hardware.SenseAddr = v
	}

	if v := viper.GetString("link.service_uuid"); v != "" {
		cfg.Link.ServiceUUID = v
	}
	if v := viper.GetString("link.sensor_uuid"); v != "" {
		cfg.Link.SensorUUID = v
	}
	if v := viper.GetString("link.command_uuid"); v != "" {
		cfg.Link.CommandUUID = v
	}
	if v := viper.GetString("link.local_name"); v != "" {
		cfg.Link.LocalName = v
	}
	cfg.Link.Port = viper.GetString("link.port")
	if b := viper.GetInt("link.baud"); b != 0 {
		cfg.Link.Baud = b
	}

	cfg.Logging.Level = viper.GetString("logging.level")
	cfg.Logging.Format = viper.GetString("logging.format")
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	return cfg, nil
}

// Validate checks the host configuration for errors.
func (c *Config) Validate() error {
	switch c.Connection.Type {
	case "serial", "tcp", "mqtt":
	case "":
		return fmt.Errorf("connection.type is required")
	default:
		return fmt.Errorf("invalid connection.type: %s (must be serial, tcp, or mqtt)", c.Connection.Type)
	}

	switch c.Connection.Type {
	case "serial":
		if c.Connection.Serial.Port == "" {
			return fmt.Errorf("connection.serial.port is required for serial connection")
		}
	case "tcp":
		if c.Connection.TCP.Host == "" {
			return fmt.Errorf("connection.tcp.host is required for tcp connection")
		}
	case "mqtt":
		if c.Connection.MQTT.Broker == "" {
			return fmt.Errorf("connection.mqtt.broker is required for mqtt connection")
		}
	}

	if c.PowerManager.ThresholdMW < 0 {
		return fmt.Errorf("power_manager.threshold_mw must not be negative")
	}
	if c.PowerManager.NudgeStep < 0 {
		return fmt.Errorf("power_manager.nudge_step must not be negative")
	}

	return nil
}

// Validate checks the node configuration for errors.
func (c *NodeConfig) Validate() error {
	if c.IdentityDir == "" {
		return fmt.Errorf("identity_dir is required")
	}
	if c.Link.LocalName == "" {
		return fmt.Errorf("link.local_name is required")
	}
	if c.NodeID < 0 {
		return fmt.Errorf("node_id must not be negative")
	}
	if !c.Simulate && c.Hardware.PWMPin == "" {
		return fmt.Errorf("hardware.pwm_pin is required when not simulating")
	}
	return nil
}

func getDurationOrDefault(key string, def time.Duration) time.Duration {
	if !viper.IsSet(key) {
		return def
	}
	d := viper.GetDuration(key)
	if d <= 0 {
		return def
	}
	return d
}
