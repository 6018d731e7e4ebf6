// Package config resolves the fishnet Config snapshot from defaults,
// an optional config file, the environment, and command-line flags, in
// that increasing order of precedence (spec §6.2).
//
// Grounded on the teacher-adjacent celalettindemir-make-singer-backend's
// internal/config/config.go (SetDefault/BindEnv/ReadInConfig layering),
// generalized from that service's per-field viper.Get* calls into
// fishnet's CLI-first resolution order by layering github.com/spf13/pflag
// on top, and validated at startup with
// github.com/go-playground/validator/v10 the way no repo in the pack
// does yet but spec.md §7's "Config: fatal at startup" calls for.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fishnet-go/fishnet/internal/model"
)

// Version is stamped at build time via -ldflags; it is reported in the
// acquire body and the User-Agent header (spec §6.1).
var Version = "dev"

// Load parses args (normally os.Args[1:] after the subcommand) and
// resolves a Config. noConf, when set via --no-conf, skips the config
// file layer entirely.
func Load(args []string) (model.Config, error) {
	flags := pflag.NewFlagSet("fishnet", pflag.ContinueOnError)

	flags.String("key", "", "fishnet API key")
	flags.String("key-file", "", "path to a file containing the API key")
	flags.String("cores", "auto", "number of cores to use, or \"auto\"")
	flags.String("endpoint", "https://lichess.org/fishnet", "fishnet server endpoint")
	userBacklog := flags.String("user-backlog", "", "join only if user queue backlog exceeds this (short|long|duration)")
	systemBacklog := flags.String("system-backlog", "", "join only if system queue backlog exceeds this (short|long|duration)")
	maxBackoff := flags.Duration("max-backoff", 30*time.Second, "maximum retry backoff")
	cpuPriorityFlag := flags.Int("cpu-priority", 0, "any non-zero value runs engine subprocesses at nice 10 (the value itself is not used as the nice level); 0 leaves their priority unchanged")
	noConf := flags.Bool("no-conf", false, "do not read a config file")
	statsFile := flags.String("stats-file", "", "path to a stats file")
	noStatsFile := flags.Bool("no-stats-file", false, "disable stats file output")
	progressInterval := flags.Duration("progress-interval", 5*time.Second, "partial-submission interval, 0 disables progress reporting")
	enginePath := flags.String("engine-path", "stockfish", "path to the standard Stockfish binary")
	fairyEnginePath := flags.String("fairy-engine-path", "fairy-stockfish", "path to the variant-capable Stockfish binary")
	hashMB := flags.Int("hash-mb", 32, "hash table size in MiB per engine instance")
	_ = flags.Bool("auto-update", false, "out of scope: no-op, kept for CLI compatibility")

	if err := flags.Parse(args); err != nil {
		return model.Config{}, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}

	v := viper.New()
	v.SetDefault("key", "")
	v.SetDefault("key_file", "")
	v.SetDefault("cores", "auto")
	v.SetDefault("endpoint", "https://lichess.org/fishnet")
	v.SetDefault("user_backlog", "")
	v.SetDefault("system_backlog", "")
	v.SetDefault("max_backoff", "30s")
	v.SetDefault("cpu_priority", 0)
	v.SetDefault("stats_file", "")
	v.SetDefault("enable_stats", true)

	if !*noConf {
		v.SetConfigName("fishnet")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		_ = v.ReadInConfig() // optional: absence is not an error
	}

	v.AutomaticEnv()
	_ = v.BindEnv("key", "KEY")
	_ = v.BindEnv("key_file", "KEY_FILE")
	_ = v.BindEnv("cores", "CORES")
	_ = v.BindEnv("endpoint", "ENDPOINT")
	_ = v.BindEnv("user_backlog", "USER_BACKLOG")
	_ = v.BindEnv("system_backlog", "SYSTEM_BACKLOG")
	_ = v.BindEnv("max_backoff", "MAX_BACKOFF")
	_ = v.BindEnv("cpu_priority", "CPU_PRIORITY")
	_ = v.BindEnv("stats_file", "STATS_FILE")
	_ = v.BindEnv("enable_stats", "ENABLE_STATS")

	if err := v.BindPFlag("key", flags.Lookup("key")); err != nil {
		return model.Config{}, err
	}
	if err := v.BindPFlag("key_file", flags.Lookup("key-file")); err != nil {
		return model.Config{}, err
	}
	if err := v.BindPFlag("cores", flags.Lookup("cores")); err != nil {
		return model.Config{}, err
	}
	if err := v.BindPFlag("endpoint", flags.Lookup("endpoint")); err != nil {
		return model.Config{}, err
	}
	if flags.Changed("user-backlog") {
		v.Set("user_backlog", *userBacklog)
	}
	if flags.Changed("system-backlog") {
		v.Set("system_backlog", *systemBacklog)
	}
	if flags.Changed("max-backoff") {
		v.Set("max_backoff", maxBackoff.String())
	}
	if flags.Changed("cpu-priority") {
		v.Set("cpu_priority", *cpuPriorityFlag)
	}
	if flags.Changed("stats-file") {
		v.Set("stats_file", *statsFile)
	}

	resolvedKey, err := resolveKey(v.GetString("key"), v.GetString("key_file"))
	if err != nil {
		return model.Config{}, err
	}

	userBacklogCfg, err := model.ParseBacklog(v.GetString("user_backlog"))
	if err != nil {
		return model.Config{}, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}
	systemBacklogCfg, err := model.ParseBacklog(v.GetString("system_backlog"))
	if err != nil {
		return model.Config{}, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}
	maxBackoffCfg, err := time.ParseDuration(v.GetString("max_backoff"))
	if err != nil {
		return model.Config{}, fmt.Errorf("%w: invalid max-backoff: %v", model.ErrConfig, err)
	}

	coresCfg := resolveCores(v.GetString("cores"))

	priority := model.CPUPriorityUnchanged
	if v.GetInt("cpu_priority") != 0 {
		priority = model.CPUPriorityLow
	}

	cfg := model.Config{
		Key:              resolvedKey,
		Endpoint:         strings.TrimRight(v.GetString("endpoint"), "/"),
		Cores:            coresCfg,
		UserBacklog:      userBacklogCfg,
		SystemBacklog:    systemBacklogCfg,
		MaxBackoff:       maxBackoffCfg,
		CPUPriority:      priority,
		StatsFile:        v.GetString("stats_file"),
		EnableStats:      v.GetBool("enable_stats") && !*noStatsFile,
		ProgressInterval: *progressInterval,
		EnableProgress:   *progressInterval > 0,
		EnginePath:       *enginePath,
		FairyEnginePath:  *fairyEnginePath,
		HashMB:           *hashMB,
		Version:          Version,
	}

	if err := validator.New().Struct(cfg); err != nil {
		return model.Config{}, fmt.Errorf("%w: %v", model.ErrConfig, err)
	}
	return cfg, nil
}

func resolveKey(key, keyFile string) (string, error) {
	if key != "" {
		return key, nil
	}
	if keyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return "", fmt.Errorf("%w: read key file: %v", model.ErrConfig, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func resolveCores(raw string) int {
	if raw == "" || raw == "auto" {
		n := runtime.NumCPU() - 1
		if n < 1 {
			n = 1
		}
		return n
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n < 1 {
		return 1
	}
	return n
}
