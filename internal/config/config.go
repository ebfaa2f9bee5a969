package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	PCA9685   PCA9685Config   `yaml:"pca9685"`
	Servo     ServoConfig     `yaml:"servo"`
	Admission AdmissionConfig `yaml:"admission"`
	Connect   ConnectConfig   `yaml:"connect"`
	BusReset  BusResetConfig  `yaml:"bus_reset"`
	UDP       UDPConfig       `yaml:"udp"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Log       LogConfig       `yaml:"log"`
	Shutdown  ShutdownConfig  `yaml:"shutdown"`
}

type PCA9685Config struct {
	I2CBus      int     `yaml:"i2c_bus"`
	Address     uint16  `yaml:"address"`
	FrequencyHz float64 `yaml:"frequency_hz"`
	// OutputEnableGPIO is the BCM pin wired to the board's /OE input.
	// 0 leaves /OE to its pull-down (outputs always enabled).
	OutputEnableGPIO int `yaml:"output_enable_gpio"`
}

type ServoConfig struct {
	MinDuty float64 `yaml:"min_duty"`
	MaxDuty float64 `yaml:"max_duty"`
	// AnglePolicy is one of extrapolate, clamp, reject.
	AnglePolicy string `yaml:"angle_policy"`
}

type AdmissionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type ConnectConfig struct {
	// Retries is how many more times to connect after a failed attempt (and
	// the bus reset it triggers).
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type BusResetConfig struct {
	// Enable is a pointer so an absent key can default to true.
	Enable   *bool           `yaml:"enable"`
	Timeout  time.Duration   `yaml:"timeout"`
	Commands []CommandConfig `yaml:"commands"`
}

func (c BusResetConfig) Enabled() bool { return c.Enable == nil || *c.Enable }

type CommandConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type UDPConfig struct {
	Enable      bool   `yaml:"enable"`
	Listen      string `yaml:"listen"`
	MaxDatagram int    `yaml:"max_datagram"`
	Reply       bool   `yaml:"reply"`
}

type MQTTConfig struct {
	Enable         bool          `yaml:"enable"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type LogConfig struct {
	// File enables a rotating log file; empty logs to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	// Seeded before decoding because 0 is a valid bus number.
	cfg := Config{PCA9685: PCA9685Config{I2CBus: 1}}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.PCA9685.I2CBus < 0 {
		return fmt.Errorf("pca9685.i2c_bus must be >= 0")
	}
	if cfg.PCA9685.Address == 0 {
		cfg.PCA9685.Address = 0x40
	}
	if cfg.PCA9685.Address > 0x7F {
		return fmt.Errorf("pca9685.address must be a 7-bit address")
	}
	if cfg.PCA9685.FrequencyHz == 0 {
		cfg.PCA9685.FrequencyHz = 50
	}
	if cfg.PCA9685.FrequencyHz < 24 || cfg.PCA9685.FrequencyHz > 1526 {
		return fmt.Errorf("pca9685.frequency_hz must be within [24,1526]")
	}
	if cfg.PCA9685.OutputEnableGPIO < 0 {
		return fmt.Errorf("pca9685.output_enable_gpio must be >= 0")
	}

	if cfg.Servo.MinDuty == 0 && cfg.Servo.MaxDuty == 0 {
		cfg.Servo.MinDuty = 0.05
		cfg.Servo.MaxDuty = 0.10
	}
	if cfg.Servo.MinDuty < 0 || cfg.Servo.MaxDuty > 1 {
		return fmt.Errorf("servo.min_duty and servo.max_duty must be within [0,1]")
	}
	if cfg.Servo.MinDuty >= cfg.Servo.MaxDuty {
		return fmt.Errorf("servo.min_duty must be < servo.max_duty")
	}
	cfg.Servo.AnglePolicy = strings.ToLower(strings.TrimSpace(cfg.Servo.AnglePolicy))
	switch cfg.Servo.AnglePolicy {
	case "":
		cfg.Servo.AnglePolicy = "extrapolate"
	case "extrapolate", "clamp", "reject":
	default:
		return fmt.Errorf("servo.angle_policy must be one of extrapolate, clamp, reject")
	}

	if cfg.Admission.Timeout <= 0 {
		cfg.Admission.Timeout = 150 * time.Millisecond
	}

	if cfg.Connect.Retries < 0 {
		return fmt.Errorf("connect.retries must be >= 0")
	}
	if cfg.Connect.RetryDelay <= 0 {
		cfg.Connect.RetryDelay = 500 * time.Millisecond
	}

	if cfg.BusReset.Timeout <= 0 {
		cfg.BusReset.Timeout = 10 * time.Second
	}
	if len(cfg.BusReset.Commands) == 0 {
		cfg.BusReset.Commands = []CommandConfig{
			{Command: "sudo", Args: []string{"rmmod", "i2c_bcm2835"}},
			{Command: "sudo", Args: []string{"modprobe", "i2c_bcm2835"}},
		}
	}
	for i, c := range cfg.BusReset.Commands {
		if strings.TrimSpace(c.Command) == "" {
			return fmt.Errorf("bus_reset.commands[%d].command is required", i)
		}
	}

	if cfg.UDP.Listen == "" {
		cfg.UDP.Listen = ":5005"
	}
	if cfg.UDP.MaxDatagram <= 0 {
		cfg.UDP.MaxDatagram = 1024
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.Topic == "" {
			return fmt.Errorf("mqtt.topic is required when mqtt.enable is true")
		}
	}
	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "servolink"
	}
	if cfg.MQTT.ConnectTimeout <= 0 {
		cfg.MQTT.ConnectTimeout = 10 * time.Second
	}

	if !cfg.UDP.Enable && !cfg.MQTT.Enable {
		return fmt.Errorf("at least one of udp.enable or mqtt.enable must be true")
	}

	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB <= 0 {
			cfg.Log.MaxSizeMB = 10
		}
		if cfg.Log.MaxBackups <= 0 {
			cfg.Log.MaxBackups = 3
		}
		if cfg.Log.MaxAgeDays <= 0 {
			cfg.Log.MaxAgeDays = 28
		}
	}

	if cfg.Shutdown.Timeout <= 0 {
		cfg.Shutdown.Timeout = 2 * time.Second
	}
	return nil
}
