package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"

	"github.com/paychan-labs/paychand/internal/core/ports"
	envunlocker "github.com/paychan-labs/paychand/internal/infrastructure/unlocker/env"
	fileunlocker "github.com/paychan-labs/paychand/internal/infrastructure/unlocker/file"
)

type Config struct {
	Datadir       string
	RPCPort       uint32
	LogLevel      uint32
	Network       string
	PeerRPCURL    string
	AuthToken     string
	PeerPublicKey string
	Timeout       int64
	ChannelAmount uint64
	TxFee         uint64
	MaxInFlight   uint64
	IncomingTxID  string

	BitcoindHost     string
	BitcoindUser     string
	BitcoindPassword string
	BitcoindTLS      bool

	UnlockerType     string
	UnlockerFilePath string
	UnlockerPassword string

	unlocker ports.Unlocker
}

var (
	Datadir       = "DATADIR"
	RPCPort       = "RPC_PORT"
	LogLevel      = "LOG_LEVEL"
	Network       = "NETWORK"
	PeerRPCURL    = "PEER_RPC_URL"
	AuthToken     = "AUTH_TOKEN"
	PeerPublicKey = "PEER_PUBLIC_KEY"
	Timeout       = "TIMEOUT"
	ChannelAmount = "CHANNEL_AMOUNT"
	TxFee         = "TX_FEE"
	MaxInFlight   = "MAX_IN_FLIGHT"
	IncomingTxID  = "INCOMING_TXID"

	BitcoindHost     = "BITCOIND_HOST"
	BitcoindUser     = "BITCOIND_USER"
	BitcoindPassword = "BITCOIND_PASSWORD"
	BitcoindTLS      = "BITCOIND_TLS"

	// Unlocker configuration
	UnlockerType     = "UNLOCKER_TYPE"
	UnlockerFilePath = "UNLOCKER_FILE_PATH"
	UnlockerPassword = "UNLOCKER_PASSWORD"

	defaultDatadir  = appDatadir("paychand", false)
	defaultRPCPort  = 7100
	defaultLogLevel = 4
	defaultNetwork  = "regtest"
	defaultTxFee    = 1000
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("PAYCHAND")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(RPCPort, defaultRPCPort)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(Network, defaultNetwork)
	viper.SetDefault(TxFee, defaultTxFee)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	config := &Config{
		Datadir:          viper.GetString(Datadir),
		RPCPort:          viper.GetUint32(RPCPort),
		LogLevel:         viper.GetUint32(LogLevel),
		Network:          viper.GetString(Network),
		PeerRPCURL:       viper.GetString(PeerRPCURL),
		AuthToken:        viper.GetString(AuthToken),
		PeerPublicKey:    viper.GetString(PeerPublicKey),
		Timeout:          viper.GetInt64(Timeout),
		ChannelAmount:    viper.GetUint64(ChannelAmount),
		TxFee:            viper.GetUint64(TxFee),
		MaxInFlight:      viper.GetUint64(MaxInFlight),
		IncomingTxID:     viper.GetString(IncomingTxID),
		BitcoindHost:     viper.GetString(BitcoindHost),
		BitcoindUser:     viper.GetString(BitcoindUser),
		BitcoindPassword: viper.GetString(BitcoindPassword),
		BitcoindTLS:      viper.GetBool(BitcoindTLS),
		UnlockerType:     viper.GetString(UnlockerType),
		UnlockerFilePath: cleanAndExpandPath(viper.GetString(UnlockerFilePath)),
		UnlockerPassword: viper.GetString(UnlockerPassword),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	if err := config.initUnlockerService(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if len(c.PeerRPCURL) <= 0 {
		return fmt.Errorf("missing peer rpc url")
	}
	if len(c.AuthToken) <= 0 {
		return fmt.Errorf("missing auth token")
	}
	if len(c.PeerPublicKey) <= 0 {
		return fmt.Errorf("missing peer public key")
	}
	if c.Timeout <= 0 || c.Timeout >= 1<<32 {
		return fmt.Errorf("channel timeout must be a positive 32-bit locktime")
	}
	if c.ChannelAmount == 0 {
		return fmt.Errorf("missing channel amount")
	}
	if c.MaxInFlight == 0 {
		return fmt.Errorf("missing in-flight limit")
	}
	if len(c.BitcoindHost) <= 0 {
		return fmt.Errorf("missing bitcoind host")
	}
	if _, err := c.NetParams(); err != nil {
		return err
	}
	return nil
}

// NetParams resolves the configured network name.
func (c *Config) NetParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
}

func (c *Config) UnlockerService() ports.Unlocker {
	return c.unlocker
}

func (c *Config) initUnlockerService() error {
	if len(c.UnlockerType) <= 0 {
		return nil
	}

	var svc ports.Unlocker
	var err error
	switch c.UnlockerType {
	case "file":
		svc, err = fileunlocker.NewService(c.UnlockerFilePath)
	case "env":
		svc, err = envunlocker.NewService(c.UnlockerPassword)
	default:
		err = fmt.Errorf("unknown unlocker type")
	}
	if err != nil {
		return err
	}
	c.unlocker = svc
	return nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// appDatadir returns an operating system specific directory to be used for
// storing application data for an application.
func appDatadir(appName string, roaming bool) string {
	if appName == "" || appName == "." {
		return "."
	}

	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := string(unicode.ToUpper(rune(appName[0]))) + appName[1:]
	appNameLower := string(unicode.ToLower(rune(appName[0]))) + appName[1:]

	// Get the OS specific home directory via the Go standard lib.
	var homeDir string
	usr, err := user.Current()
	if err == nil {
		homeDir = usr.HomeDir
	}

	// Fall back to standard HOME environment variable that works
	// for most POSIX OSes if the directory from the Go standard
	// lib failed.
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}

	goos := runtime.GOOS
	switch goos {
	// Attempt to use the LOCALAPPDATA or APPDATA environment variable on
	// Windows.
	case "windows":
		// Windows XP and before didn't have a LOCALAPPDATA, so fallback
		// to regular APPDATA when LOCALAPPDATA is not set.
		appData := os.Getenv("LOCALAPPDATA")
		if roaming || appData == "" {
			appData = os.Getenv("APPDATA")
		}

		if appData != "" {
			return filepath.Join(appData, appNameUpper)
		}

	case "darwin":
		if homeDir != "" {
			return filepath.Join(homeDir, "Library",
				"Application Support", appNameUpper)
		}

	case "plan9":
		if homeDir != "" {
			return filepath.Join(homeDir, appNameLower)
		}

	default:
		if homeDir != "" {
			return filepath.Join(homeDir, "."+appNameLower)
		}
	}

	// Fall back to the current directory if all else fails.
	return "."
}

func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
