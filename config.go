// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "cnminer.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "cnminer.log"
	defaultKernelFilename = "cryptonight.cl"
)

var (
	minerHomeDir      = appDataDir("cnminer")
	defaultConfigFile = filepath.Join(minerHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(minerHomeDir, defaultLogDirname)
	defaultIntensity  = 1024
	defaultWorkSize   = 8
	// Cryptonight batches are far smaller than sha-family miners since every
	// lane owns a 2 MiB scratchpad.  The upper bound only guards against
	// nonsense values; device memory is the real limit and is checked when
	// the device is initialized.
	minIntensity = 8
	maxIntensity = 1 << 21
)

type config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`
	ListDevices bool `short:"l" long:"listdevices" description:"List available OpenCL devices and exit"`

	// Config / log options
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir     string `long:"logdir" description:"Directory to log output."`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// Debugging options
	Profile    string `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`
	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	MemProfile string `long:"memprofile" description:"Write mem profile to the specified file"`

	// Status API options
	APIListeners []string `long:"apilisten" description:"Add an interface/port to expose miner status API"`

	// GPU options
	Platform      string `long:"platform" description:"OpenCL platform index to use"`
	Devices       string `short:"D" long:"devices" description:"Comma separated list of OpenCL device indexes to mine on (default all)"`
	Intensity     string `short:"i" long:"intensity" description:"Nonces per batch, comma separated per device.  Must be a multiple of the work size"`
	WorkSize      string `short:"W" long:"worksize" description:"OpenCL work group size, comma separated per device"`
	Autocalibrate string `short:"A" long:"autocalibrate" description:"Automatically pick intensity targeting the given batch duration in milliseconds, comma separated per device"`
	Kernel        string `short:"k" long:"kernel" description:"Path to the OpenCL kernel source"`
	Variant       int    `long:"variant" description:"Cryptonight variant used to verify candidate shares on the CPU {0, 1, 2}"`

	Benchmark bool `short:"B" long:"benchmark" description:"Run in benchmark mode."`

	// Pool related options
	Pool         string `short:"o" long:"pool" description:"Pool to connect to (e.g.stratum+tcp://pool:port) "`
	PoolUser     string `short:"m" long:"pooluser" description:"Pool username (wallet address for most cryptonight pools)"`
	PoolPassword string `short:"n" long:"poolpass" default-mask:"-" description:"Pool password"`
	Proxy        string `long:"proxy" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)"`
	ProxyUser    string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass    string `long:"proxypass" default-mask:"-" description:"Password for proxy server"`

	// Values derived from the comma separated option strings above.  They
	// are indexed by enabled-device order, not raw device index.
	PlatformIndex     int
	DeviceIDs         []int
	IntensityInts     []int
	WorkSizeInts      []int
	AutocalibrateInts []int
}

// appDataDir returns an application data directory under the user's home
// directory, falling back to the working directory when the home directory
// cannot be determined.
func appDataDir(appName string) string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(homeDir, "."+appName)
}

// parseIntList parses a comma separated list of base-10 integers.  An empty
// string yields an empty (non-nil) slice.
func parseIntList(list string) ([]int, error) {
	ints := []int{}
	if list == "" {
		return ints, nil
	}
	for _, s := range strings.Split(list, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q in list %q", s, list)
		}
		ints = append(ints, i)
	}
	return ints, nil
}

// filesExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsytems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(minerHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// Command line options always take precedence.
func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile: defaultConfigFile,
		DebugLevel: defaultLogLevel,
		LogDir:     defaultLogDir,
		Kernel:     defaultKernelFilename,
	}

	// Create the home directory if it doesn't already exist.
	funcName := "loadConfig"
	err := os.MkdirAll(minerHomeDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(-1)
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err = preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	if cfg.Platform != "" {
		cfg.PlatformIndex, err = strconv.Atoi(cfg.Platform)
		if err != nil {
			err := fmt.Errorf("Invalid platform index %q: %v", cfg.Platform, err)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	cfg.DeviceIDs, err = parseIntList(cfg.Devices)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	cfg.IntensityInts, err = parseIntList(cfg.Intensity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	for _, intensity := range cfg.IntensityInts {
		if intensity < minIntensity || intensity > maxIntensity {
			err := fmt.Errorf("Intensity %v not within range %v to %v.",
				intensity, minIntensity, maxIntensity)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	cfg.WorkSizeInts, err = parseIntList(cfg.WorkSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	for _, workSize := range cfg.WorkSizeInts {
		if workSize <= 0 {
			err := fmt.Errorf("Work size %v must be positive.", workSize)
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	cfg.AutocalibrateInts, err = parseIntList(cfg.Autocalibrate)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	if cfg.Variant < 0 || cfg.Variant > 2 {
		err := fmt.Errorf("Unknown cryptonight variant %v.", cfg.Variant)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize logging at the default logging level.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	setLogLevels(defaultLogLevel)

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Handle environment variable expansion in the kernel path.
	cfg.Kernel = cleanAndExpandPath(cfg.Kernel)

	if !cfg.Benchmark && !cfg.ListDevices && cfg.Pool == "" {
		err := fmt.Errorf("%s: no pool specified -- set --pool or run "+
			"with --benchmark", funcName)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		mainLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
