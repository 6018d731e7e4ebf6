package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fishnet-go/fishnet/internal/engine"
)

// configureCmd walks the operator through the handful of required
// settings and writes them to fishnet.toml, mirroring the original
// client's interactive setup (configure.rs) but delegating the actual
// file write to viper rather than a hand-rolled ini writer.
func configureCmd(_ []string) error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("fishnet configuration")
	fmt.Println("this writes ./fishnet.toml; press enter to accept a default")

	key := prompt(reader, "fishnet key", "")
	cores := prompt(reader, fmt.Sprintf("cores to use (auto for %d)", runtime.NumCPU()-1), "auto")
	endpoint := prompt(reader, "endpoint", "https://lichess.org/fishnet")

	v := viper.New()
	v.Set("key", key)
	v.Set("cores", cores)
	v.Set("endpoint", endpoint)
	v.SetConfigType("toml")
	if err := v.WriteConfigAs("fishnet.toml"); err != nil {
		return fmt.Errorf("write fishnet.toml: %w", err)
	}
	fmt.Println("wrote fishnet.toml")
	return nil
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

// systemdCmd prints a unit file to stdout for the operator to redirect
// into place, the way the original client's systemd.rs does. The unit
// file's exact contents are out of scope; this is a minimal template
// good enough to run `fishnet run` under systemd.
func systemdCmd(_ []string, user bool) error {
	exe, err := os.Executable()
	if err != nil {
		exe = "fishnet"
	}
	target := "default.target"
	if !user {
		target = "multi-user.target"
	}
	fmt.Println("[Unit]")
	fmt.Println("Description=Fishnet client")
	fmt.Println("After=network-online.target")
	fmt.Println("Wants=network-online.target")
	fmt.Println()
	fmt.Println("[Service]")
	fmt.Printf("ExecStart=%s run\n", exe)
	fmt.Println("KillMode=mixed")
	fmt.Println("Restart=always")
	fmt.Println()
	fmt.Println("[Install]")
	fmt.Printf("WantedBy=%s\n", target)
	return nil
}

// benchmarkNodes is the fixed node budget searched per engine instance,
// chosen to run long enough to get past Stockfish's early, noisy nps
// ramp-up without making the operator wait on a slow machine.
const benchmarkNodes = 4_000_000

// benchmarkCmd spawns one engine.Stub per core, runs a fixed-node search
// on the startpos in each concurrently, and reports the aggregate
// nodes/sec, for operators sizing --cores before committing to a
// long-running client.
func benchmarkCmd(args []string) error {
	flags := pflag.NewFlagSet("benchmark", pflag.ContinueOnError)
	enginePath := flags.String("engine-path", "stockfish", "path to the standard Stockfish binary")
	cores := flags.Int("cores", runtime.NumCPU(), "number of engine instances to run concurrently")
	hashMB := flags.Int("hash-mb", 32, "hash table size in MiB per engine instance")
	if err := flags.Parse(args); err != nil {
		return err
	}
	fmt.Printf("benchmarking %s with %d core(s), hash=%dMiB, %d nodes each ...\n", *enginePath, *cores, *hashMB, benchmarkNodes)

	logger := newLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	type outcome struct {
		nodes uint64
		err   error
	}
	results := make(chan outcome, *cores)
	started := time.Now()
	for i := 0; i < *cores; i++ {
		go func(id int) {
			stub := engine.New(engine.Config{
				StandardPath: *enginePath,
				HashMB:       *hashMB,
				MaxBackoffS:  30,
				Logger:       logger.With().Int("worker", id).Logger(),
			})
			defer stub.Close(ctx)
			result, err := stub.Search(ctx, engine.SearchParams{
				Variant: "standard",
				FEN:     "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
				Nodes:   benchmarkNodes,
			})
			if err != nil {
				results <- outcome{err: err}
				return
			}
			results <- outcome{nodes: result.Nodes}
		}(i)
	}

	var totalNodes uint64
	for i := 0; i < *cores; i++ {
		out := <-results
		if out.err != nil {
			return fmt.Errorf("benchmark: engine instance failed: %w", out.err)
		}
		totalNodes += out.nodes
	}

	elapsed := time.Since(started)
	knps := float64(totalNodes) / elapsed.Seconds() / 1000
	fmt.Printf("%d core(s): %d total nodes in %s, %.0f knps aggregate\n", *cores, totalNodes, elapsed.Round(time.Millisecond), knps)
	return nil
}

func printLicense() {
	fmt.Println("fishnet is distributed under the terms of the GNU General Public License, version 3 or later.")
	fmt.Println("See https://www.gnu.org/licenses/gpl-3.0.html for the full text.")
}
