// Package config provides helper functionality to read the verifier configuration from JSON config files or OS ENV
// variables. The default configuration can be overriden first by:
//
// - a .env file in the working directory, loaded into the process environment,
//
// - a valid JSON config file (see cmd/conf.json for a sample) and then by
//
// - OS ENV variables: prefixed with POR_ (ie. POR_NODE, POR_SIGNERKEY, ...). All OS ENV variables should be valid
// strings, except for POR_BLOCKCHAIN which should be a string with a valid JSON format. For example:
// # export POR_BLOCKCHAIN='{"name":"sepolia","node":"https://sepolia.infura.io/v3/KEY","chainId":11155111}'
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default configuration variables.
var (
	DBTypeDefault    = "mongodb"
	DBConnDefault    = ""
	RestfulEPDefault = ""
	PortDefault      = "4000"
	SSLPortDefault   = ""
	SSLCertDefault   = ""
	SSLKeyDefault    = ""
	MbTypeDefault    = "amqp"
	MbConnDefault    = ""
	BcDefault        = BlockConfig{Name: "sepolia", ChainID: 11155111, Poll: 1000}

	ThresholdDefault       = 5.0
	GasLimitDefault        = uint64(100000)
	MaxFeeGweiDefault      = uint64(50)
	MaxPriorityGweiDefault = uint64(5)

	LockTimeoutDefault    = 120 // seconds
	ConfirmTimeoutDefault = 180 // seconds
	ReadTimeoutDefault    = 15  // seconds
	BalanceRetriesDefault = 3

	LogLevelDefault = "INFO"
)

// Errors returned by Validate.
var (
	ErrNoNode      = errors.New("blockchain node url is required")
	ErrNoContracts = errors.New("reserveOracle and alertContract addresses are required")
	ErrNoSigner    = errors.New("a signer key or an HD wallet seed is required")
	ErrBadClaim    = errors.New("scheduled claim requires an account and a non-negative claimed amount")
)

// BlockConfig defines the required fields for the ledger connection. Node contains the url (ie.
// https://localhost:8545) and Secret is an optional field when Basic Authentication is required by the node.
// ReserveOracle and AlertContract are the addresses of the contracts the verifier writes to. Poll is the receipt
// polling interval in milliseconds.
type BlockConfig struct {
	Name          string `json:"name"`
	Node          string `json:"node"`
	Secret        string `json:"secret"`
	ChainID       int64  `json:"chainId"`
	ReserveOracle string `json:"reserveOracle"`
	AlertContract string `json:"alertContract"`
	Poll          int    `json:"poll"`
}

// SignerConfig identifies the single signing identity of the service. Either Key (hex private key) or Seed (hex HD
// wallet seed) plus the Wallet/Change/ID derivation path must be informed. Key takes precedence.
type SignerConfig struct {
	Key    string `json:"key"`
	Seed   string `json:"hdseed"`
	Wallet uint32 `json:"wallet"`
	Change uint8  `json:"change"`
	ID     uint32 `json:"id"`
}

// FeeConfig contains the fee ceilings used for every write.
type FeeConfig struct {
	GasLimit           uint64 `json:"gasLimit"`
	MaxFeeGwei         uint64 `json:"maxFeeGwei"`
	MaxPriorityFeeGwei uint64 `json:"maxPriorityFeeGwei"`
}

// ScheduleConfig defines the scheduled verification: a cron spec and the fixed claim to verify. An empty Spec
// disables the schedule.
type ScheduleConfig struct {
	Spec       string  `json:"spec"`
	Account    string  `json:"account"`
	Claimed    float64 `json:"claimed"`
	ExchangeID uint64  `json:"exchangeId"`
}

// ServiceConfig contains the required fields for the verifier service. Database, API endpoint, ports, SSL cert and
// key, message broker type and url, the ledger, signer, verification threshold, fees, timeouts (in seconds) and the
// scheduled claim.
type ServiceConfig struct {
	DBType          string         `json:"dbtype"`
	DBConn          string         `json:"dbconn"`
	RestfulEndpoint string         `json:"endpoint"`
	Port            string         `json:"port"`
	SSLPort         string         `json:"sslport"`
	SSLCert         string         `json:"sslcert"`
	SSLKey          string         `json:"sslkey"`
	MbType          string         `json:"mbtype"`
	MbConn          string         `json:"mbconn"`
	Bc              BlockConfig    `json:"blockchain"`
	Signer          SignerConfig   `json:"signer"`
	Threshold       float64        `json:"threshold"`
	Fees            FeeConfig      `json:"fees"`
	LockTimeout     int            `json:"lockTimeout"`
	ConfirmTimeout  int            `json:"confirmTimeout"`
	ReadTimeout     int            `json:"readTimeout"`
	BalanceRetries  int            `json:"balanceRetries"`
	Schedule        ScheduleConfig `json:"schedule"`
	LogLevel        string         `json:"logLevel"`
	PrettyLogs      bool           `json:"prettyLogs"`
}

// ExtractConfiguration reads from the given JSON filename and returns the ServiceConfig or an error otherwise.
func ExtractConfiguration(filename string) (ServiceConfig, error) {
	conf := ServiceConfig{
		DBType:          DBTypeDefault,
		DBConn:          DBConnDefault,
		RestfulEndpoint: RestfulEPDefault,
		Port:            PortDefault,
		SSLPort:         SSLPortDefault,
		SSLCert:         SSLCertDefault,
		SSLKey:          SSLKeyDefault,
		MbType:          MbTypeDefault,
		MbConn:          MbConnDefault,
		Bc:              BcDefault,
		Threshold:       ThresholdDefault,
		Fees: FeeConfig{
			GasLimit:           GasLimitDefault,
			MaxFeeGwei:         MaxFeeGweiDefault,
			MaxPriorityFeeGwei: MaxPriorityGweiDefault,
		},
		LockTimeout:    LockTimeoutDefault,
		ConfirmTimeout: ConfirmTimeoutDefault,
		ReadTimeout:    ReadTimeoutDefault,
		BalanceRetries: BalanceRetriesDefault,
		LogLevel:       LogLevelDefault,
	}
	// a missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return conf, fmt.Errorf("cannot load .env file: %w", err)
	}
	// read from config file first
	if filename != "" {
		file, err := os.Open(filename)
		if err != nil {
			return conf, fmt.Errorf("configuration file not found: %w", err)
		}
		defer file.Close()

		if err = json.NewDecoder(file).Decode(&conf); err != nil {
			return conf, fmt.Errorf("cannot decode configuration file %s: %w", filename, err)
		}
	}
	// then override config values with OS ENV variables
	if err := overrideFromEnv(&conf); err != nil {
		return conf, err
	}

	return conf, nil
}

func overrideFromEnv(conf *ServiceConfig) error {
	var tmp string
	if tmp = os.Getenv("POR_DBTYPE"); tmp != "" {
		conf.DBType = tmp
	}
	if tmp = os.Getenv("POR_DBCONN"); tmp != "" {
		conf.DBConn = tmp
	}
	if tmp = os.Getenv("POR_ENDPOINT"); tmp != "" {
		conf.RestfulEndpoint = tmp
	}
	if tmp = os.Getenv("POR_PORT"); tmp != "" {
		conf.Port = tmp
	}
	if tmp = os.Getenv("POR_SSLPORT"); tmp != "" {
		conf.SSLPort = tmp
	}
	if tmp = os.Getenv("POR_SSLCERT"); tmp != "" {
		conf.SSLCert = tmp
	}
	if tmp = os.Getenv("POR_SSLKEY"); tmp != "" {
		conf.SSLKey = tmp
	}
	if tmp = os.Getenv("POR_MBTYPE"); tmp != "" {
		conf.MbType = tmp
	}
	if tmp = os.Getenv("POR_MBCONN"); tmp != "" {
		conf.MbConn = tmp
	}
	if tmp = os.Getenv("POR_BLOCKCHAIN"); tmp != "" {
		if err := json.Unmarshal([]byte(tmp), &conf.Bc); err != nil {
			return fmt.Errorf("error reading blockchain from OS ENV POR_BLOCKCHAIN: %w", err)
		}
	}
	if tmp = os.Getenv("POR_NODE"); tmp != "" {
		conf.Bc.Node = tmp
	}
	if tmp = os.Getenv("POR_RESERVEORACLE"); tmp != "" {
		conf.Bc.ReserveOracle = tmp
	}
	if tmp = os.Getenv("POR_ALERTCONTRACT"); tmp != "" {
		conf.Bc.AlertContract = tmp
	}
	if tmp = os.Getenv("POR_SIGNERKEY"); tmp != "" {
		conf.Signer.Key = tmp
	}
	if tmp = os.Getenv("POR_SEED"); tmp != "" {
		conf.Signer.Seed = tmp
	}
	if tmp = os.Getenv("POR_THRESHOLD"); tmp != "" {
		v, err := strconv.ParseFloat(tmp, 64)
		if err != nil {
			return fmt.Errorf("error reading POR_THRESHOLD: %w", err)
		}
		conf.Threshold = v
	}
	if tmp = os.Getenv("POR_SCHEDULE"); tmp != "" {
		conf.Schedule.Spec = tmp
	}
	if tmp = os.Getenv("POR_LOGLEVEL"); tmp != "" {
		conf.LogLevel = tmp
	}

	return nil
}

// Validate checks the configuration holds everything required to sign and submit writes.
func (c ServiceConfig) Validate() error {
	if c.Bc.Node == "" {
		return ErrNoNode
	}
	if c.Bc.ReserveOracle == "" || c.Bc.AlertContract == "" {
		return ErrNoContracts
	}
	if c.Signer.Key == "" && c.Signer.Seed == "" {
		return ErrNoSigner
	}
	if c.Schedule.Spec != "" && (c.Schedule.Account == "" || c.Schedule.Claimed < 0) {
		return ErrBadClaim
	}

	return nil
}

// LockWait returns the maximum time a write waits for the signer's sequencer.
func (c ServiceConfig) LockWait() time.Duration {
	return seconds(c.LockTimeout, LockTimeoutDefault)
}

// ConfirmWait returns the maximum time a write waits for ledger confirmation.
func (c ServiceConfig) ConfirmWait() time.Duration {
	return seconds(c.ConfirmTimeout, ConfirmTimeoutDefault)
}

// ReadWait returns the maximum time of a single ledger read.
func (c ServiceConfig) ReadWait() time.Duration {
	return seconds(c.ReadTimeout, ReadTimeoutDefault)
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}

	return time.Duration(v) * time.Second
}
