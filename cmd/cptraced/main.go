//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/dmoj-sandbox/cptrace/tracer"
)

const usage string = `contest-judge process tracer

cptraced runs one untrusted command under ptrace supervision: it enforces
a per-syscall policy via seccomp + ptrace, applies CPU/wall/memory/output
limits, and reports the outcome (exit status, resource usage, and the
denied syscall if the policy killed the program).
`

// ADDR_NO_RANDOMIZE personality bit; defined locally so this file does
// not pull in a platform-specific constant set.
const addrNoRandomize = 0x0040000

// Globals to be populated at build time during Makefile processing.
var (
	version  string // extracted from VERSION file
	commitId string // latest cptrace git commit-id
	builtAt  string // build time
	builtBy  string // build owner
)

//
// cptraced main function
//
func main() {

	app := cli.NewApp()
	app.Name = "cptraced"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.Float64Flag{
			Name:  "cpu-time",
			Usage: "CPU time limit in seconds; 0 disables the time watchdog",
		},
		cli.Float64Flag{
			Name:  "wall-time",
			Usage: "wall-clock limit in seconds (default: 3x cpu-time)",
		},
		cli.Int64Flag{
			Name:  "memory",
			Usage: "memory limit in KiB; 0 disables the memory rlimits",
		},
		cli.Int64Flag{
			Name:  "address-grace",
			Value: 4096,
			Usage: "KiB added to the address-space rlimit above the memory limit",
		},
		cli.Int64Flag{
			Name:  "data-grace",
			Usage: "KiB added to the data rlimit above the memory limit",
		},
		cli.Uint64Flag{
			Name:  "nproc",
			Usage: "process-count rlimit; 0 leaves it unset",
		},
		cli.Uint64Flag{
			Name:  "fsize",
			Usage: "output file-size rlimit in KiB; 0 leaves it unset",
		},
		cli.StringFlag{
			Name:  "cwd",
			Usage: "working directory for the traced command (default: inherit)",
		},
		cli.StringSliceFlag{
			Name:  "env",
			Usage: "NAME=VALUE environment entry for the traced command; replaces the inherited environment when given",
		},
		cli.StringFlag{
			Name:  "policy",
			Value: "default",
			Usage: "syscall policy preset; allowed values are \"default\", \"permissive\" and \"none\" (no tracing at all)",
		},
		cli.BoolFlag{
			Name:  "no-aslr",
			Usage: "disable address-space layout randomization in the traced command",
		},
		cli.BoolFlag{
			Name:  "avoid-seccomp",
			Usage: "force every syscall through a ptrace stop instead of the seccomp fast path (slow; debugging aid)",
		},
		cli.BoolFlag{
			Name:  "systemd-notify",
			Usage: "send a systemd readiness notification once the tracee is spawned",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path or empty string for stderr output (default: \"\")",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
	}

	// show-version specialization.
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("cptraced\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n"+
			"\tbuilt at: \t%s\n"+
			"\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	// Hidden init command backing the supervisor's re-exec spawn helper;
	// never invoked by users directly.
	app.Commands = []cli.Command{
		{
			Name:   tracer.InitCommand,
			Hidden: true,
			Action: func(c *cli.Context) error {
				// Does not return: execve's the target or exits with a
				// reserved spawn-failure code.
				tracer.RunInit()
				return nil
			},
		},
	}

	// Define 'debug' and 'log' settings.
	app.Before = func(ctx *cli.Context) error {

		// Create/set the log-file destination.
		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(
				path,
				os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC,
				0666,
			)
			if err != nil {
				logrus.Fatalf(
					"Error opening log file %v: %v. Exiting ...",
					path, err,
				)
				return err
			}

			logrus.SetOutput(f)
			log.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
			log.SetOutput(os.Stderr)
		}

		if logFormat := ctx.GlobalString("log-format"); logFormat == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
			})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
				FullTimestamp:   true,
			})
		}

		// Set desired log-level.
		if logLevel := ctx.GlobalString("log-level"); logLevel != "" {
			switch logLevel {
			case "debug":
				logrus.SetLevel(logrus.DebugLevel)
			case "info":
				logrus.SetLevel(logrus.InfoLevel)
			case "warning":
				logrus.SetLevel(logrus.WarnLevel)
			case "error":
				logrus.SetLevel(logrus.ErrorLevel)
			case "fatal":
				logrus.SetLevel(logrus.FatalLevel)
			default:
				logrus.Fatalf(
					"log-level option '%v' not recognized. Exiting ...",
					logLevel,
				)
			}
		} else {
			// Set 'info' as our default log-level.
			logrus.SetLevel(logrus.InfoLevel)
		}

		return nil
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(ctx *cli.Context) error {

	if len(ctx.Args()) == 0 {
		return cli.NewExitError("no command given; usage: cptraced [options] -- command [args...]", 2)
	}

	security, err := presetPolicy(ctx.GlobalString("policy"))
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	env, err := parseEnv(ctx.GlobalStringSlice("env"))
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	var personality uint
	if ctx.GlobalBool("no-aslr") {
		personality |= addrNoRandomize
	}

	cfg := tracer.Config{
		Argv: ctx.Args(),
		Cwd:  ctx.GlobalString("cwd"),
		Env:  env,
		Limits: tracer.Limits{
			CPUTime:      time.Duration(ctx.GlobalFloat64("cpu-time") * float64(time.Second)),
			WallTime:     time.Duration(ctx.GlobalFloat64("wall-time") * float64(time.Second)),
			Memory:       ctx.GlobalInt64("memory"),
			AddressGrace: ctx.GlobalInt64("address-grace"),
			DataGrace:    ctx.GlobalInt64("data-grace"),
			NProc:        ctx.GlobalUint64("nproc"),
			FSize:        ctx.GlobalUint64("fsize"),
		},
		Personality:  personality,
		Security:     security,
		AvoidSeccomp: ctx.GlobalBool("avoid-seccomp"),
	}

	logrus.WithFields(logrus.Fields{
		"argv":   cfg.Argv,
		"policy": ctx.GlobalString("policy"),
		"cpu":    cfg.Limits.CPUTime,
		"memory": cfg.Limits.Memory,
	}).Info("Spawning traced command ...")

	sup, err := tracer.New(cfg)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	if ctx.GlobalBool("systemd-notify") {
		if sent, err := systemd.SdNotify(false, systemd.SdNotifyReady); !sent || err != nil {
			logrus.Warnf("Unable to send systemd ready notification: %v", err)
		}
	}

	res, err := sup.Wait()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	printResult(res)

	if res.IsTLE || res.IsMLE || res.IsOLE || res.IsRTE || res.IsIR {
		return cli.NewExitError("", 1)
	}
	return nil
}

// parseEnv turns --env NAME=VALUE entries into the tracer's environment
// map. Any --env entry replaces the inherited environment as a whole; a
// bare NAME (no '=') maps to nil, so that name is left out of it.
func parseEnv(entries []string) (map[string]*string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	env := make(map[string]*string, len(entries))
	for _, e := range entries {
		name, value, found := cut(e, "=")
		if name == "" {
			return nil, fmt.Errorf("malformed --env entry %q", e)
		}
		if !found {
			env[name] = nil
			continue
		}
		v := value
		env[name] = &v
	}
	return env, nil
}

// cut is a local copy of strings.Cut.
func cut(s, sep string) (before, after string, found bool) {
	if i := strings.Index(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

func printResult(res *tracer.ResultSnapshot) {

	verdict := "OK"
	switch {
	case res.IsTLE:
		verdict = "TLE"
	case res.IsMLE:
		verdict = "MLE"
	case res.IsOLE:
		verdict = "OLE"
	case res.ProtectionFault != nil:
		verdict = "RTE (protection fault)"
	case res.IsRTE:
		verdict = "RTE"
	case res.IsIR:
		verdict = "IR"
	}

	fmt.Printf("verdict: %s\n", verdict)
	fmt.Printf("return-code: %d\n", res.ReturnCode)
	fmt.Printf("cpu-time: %.3fs\n", res.ExecutionTime.Seconds())
	fmt.Printf("wall-time: %.3fs\n", res.WallClockTime.Seconds())
	fmt.Printf("max-memory: %d KiB\n", res.MaxMemory)

	if f := res.ProtectionFault; f != nil {
		fmt.Printf("denied-syscall: %s (%d) args=%v\n",
			f.SyscallName, f.SyscallNumber, f.Args)
	}
}
