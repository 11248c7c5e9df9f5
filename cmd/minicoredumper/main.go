// Command minicoredumper is the kernel core_pattern handler entrypoint
// (§6): the kernel invokes it with the crashing process's identity as
// positional arguments and the would-be core image on stdin. Argument
// parsing here mirrors the teacher's parseFlags/Config shim (flag.Parse
// plus positional args), generalized from livecore's {pid, output-file}
// pair to the kernel's fixed seven-field contract.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/kraj/minicoredumper/internal/config"
	"github.com/kraj/minicoredumper/internal/dumpctx"
)

const defaultConfigPath = "/etc/minicoredumper/minicoredumper.cfg.yaml"

// parseArgs parses the kernel's fixed positional argv: PID UID GID SIGNUM
// TIMESTAMP HOSTNAME COMM, with an optional trailing config-path override
// (§6: "An optional eighth argument, if present, overrides the default
// configuration file path.").
func parseArgs(args []string) (dumpctx.Request, string, error) {
	if len(args) != 7 && len(args) != 8 {
		return dumpctx.Request{}, "", fmt.Errorf("usage: minicoredumper PID UID GID SIGNUM TIMESTAMP HOSTNAME COMM [CONFIG_PATH]")
	}

	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return dumpctx.Request{}, "", fmt.Errorf("invalid PID: %w", err)
	}
	uid, err := strconv.Atoi(args[1])
	if err != nil {
		return dumpctx.Request{}, "", fmt.Errorf("invalid UID: %w", err)
	}
	gid, err := strconv.Atoi(args[2])
	if err != nil {
		return dumpctx.Request{}, "", fmt.Errorf("invalid GID: %w", err)
	}
	signum, err := strconv.Atoi(args[3])
	if err != nil {
		return dumpctx.Request{}, "", fmt.Errorf("invalid SIGNUM: %w", err)
	}

	// Resolve the real on-disk executable path via readlink, matching
	// original_source/src/minicoredumper/corestripper.c's readlink("/proc/%i/exe", ...)
	// so that receipt selectors keyed on a real binary path (§3) can match.
	// If the target has already exited the symlink may be gone; fall back
	// to the literal /proc path rather than failing the whole invocation.
	exeLink := fmt.Sprintf("/proc/%d/exe", pid)
	exe, err := os.Readlink(exeLink)
	if err != nil {
		exe = exeLink
	}

	req := dumpctx.Request{
		Pid:       pid,
		UID:       uid,
		GID:       gid,
		Signum:    signum,
		Timestamp: args[4],
		Hostname:  args[5],
		Comm:      args[6],
		Exe:       exe,
	}

	cfgPath := defaultConfigPath
	if len(args) == 8 {
		cfgPath = args[7]
	}
	return req, cfgPath, nil
}

func main() {
	flag.Parse()

	req, cfgPath, err := parseArgs(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "minicoredumper: %v\n", err)
		os.Exit(1)
	}

	os.Umask(0o077)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minicoredumper: config: %v\n", err)
		os.Exit(1)
	}

	if err := dumpctx.Run(req, cfg, os.Stdin, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "minicoredumper: %v\n", err)
		os.Exit(1)
	}

	// Graceful completion, including the no-matching-receipt no-op case,
	// always exits 0 (§6): the kernel must never see a nonzero status from
	// its core_pattern handler for conditions this tool considers normal.
	os.Exit(0)
}
