package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	Env    string `yaml:"env"`     // "dev" | "prod"
	DBPath string `yaml:"db_path"` // e.g. "./data/attendance.db"

	CADir        string `yaml:"ca_dir"`
	CertsDir     string `yaml:"certs_dir"`
	Organization string `yaml:"organization"`

	// Identity of the dedicated attendance signing certificate. Empty means
	// records are signed with the CA key.
	ServerID string `yaml:"server_id"`

	// Students pre-authorized for DevSeedRoom on dev startup.
	DevSeedStudents []string `yaml:"dev_seed_students"`
	DevSeedRoom     string   `yaml:"dev_seed_room"`

	CAValidityDays      int `yaml:"ca_validity_days"`
	StudentValidityDays int `yaml:"student_validity_days"`
	DoorValidityDays    int `yaml:"door_validity_days"`
	ServerValidityDays  int `yaml:"server_validity_days"`
	RSABits             int `yaml:"rsa_bits"`

	ChallengeTTLSeconds int `yaml:"challenge_ttl_seconds"`
	NonceWindowSeconds  int `yaml:"nonce_window_seconds"`
	CRLValidityDays     int `yaml:"crl_validity_days"`
}

func Default() Config {
	return Config{
		HTTPAddr:            ":8080",
		Env:                 "dev",
		DBPath:              "./data/attendance.db",
		CADir:               "./data/ca",
		CertsDir:            "./data/certs",
		Organization:        "College",
		CAValidityDays:      3650,
		StudentValidityDays: 365,
		DoorValidityDays:    1825,
		ServerValidityDays:  1825,
		RSABits:             2048,
		ChallengeTTLSeconds: 30,
		NonceWindowSeconds:  300,
		CRLValidityDays:     7,
	}
}

// Load reads the optional YAML file at path, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if cfg.Env != "dev" && cfg.Env != "prod" {
		// fail-soft: treat unknown as dev
		cfg.Env = "dev"
	}
	return cfg, nil
}

// FromEnv builds a config from defaults plus environment only.
func FromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenvDefault("SECUREATTEND_HTTP_ADDR", c.HTTPAddr)
	c.Env = strings.ToLower(getenvDefault("SECUREATTEND_ENV", c.Env))
	c.DBPath = getenvDefault("SECUREATTEND_DB_PATH", c.DBPath)
	c.CADir = getenvDefault("SECUREATTEND_CA_DIR", c.CADir)
	c.CertsDir = getenvDefault("SECUREATTEND_CERTS_DIR", c.CertsDir)
	c.Organization = getenvDefault("SECUREATTEND_ORGANIZATION", c.Organization)
	c.ServerID = getenvDefault("SECUREATTEND_SERVER_ID", c.ServerID)
	if v := splitCSV(os.Getenv("SECUREATTEND_DEV_SEED_STUDENTS")); len(v) > 0 {
		c.DevSeedStudents = v
	}
	c.DevSeedRoom = getenvDefault("SECUREATTEND_DEV_SEED_ROOM", c.DevSeedRoom)

	c.CAValidityDays = getenvInt("SECUREATTEND_CA_VALIDITY_DAYS", c.CAValidityDays)
	c.StudentValidityDays = getenvInt("SECUREATTEND_STUDENT_VALIDITY_DAYS", c.StudentValidityDays)
	c.DoorValidityDays = getenvInt("SECUREATTEND_DOOR_VALIDITY_DAYS", c.DoorValidityDays)
	c.ServerValidityDays = getenvInt("SECUREATTEND_SERVER_VALIDITY_DAYS", c.ServerValidityDays)
	c.RSABits = getenvInt("SECUREATTEND_RSA_BITS", c.RSABits)
	c.ChallengeTTLSeconds = getenvInt("SECUREATTEND_CHALLENGE_TTL_SECONDS", c.ChallengeTTLSeconds)
	c.NonceWindowSeconds = getenvInt("SECUREATTEND_NONCE_WINDOW_SECONDS", c.NonceWindowSeconds)
	c.CRLValidityDays = getenvInt("SECUREATTEND_CRL_VALIDITY_DAYS", c.CRLValidityDays)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
