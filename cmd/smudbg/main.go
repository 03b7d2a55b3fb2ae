package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"smudbg/config"
	"smudbg/log"
	"smudbg/smu/dialect"
	"smudbg/smu/discover"
	"smudbg/smu/platform"
	"smudbg/smu/report"
	"smudbg/smu/smuio"
	"smudbg/smu/telemetry"
	"smudbg/version"
)

var flags = pflag.NewFlagSet("smudbg", pflag.ExitOnError)

var (
	cfgPath   = flags.String("config", "", "TOML config file")
	debug     = flags.Bool("debug", false, "debug logging")
	sim       = flags.Bool("sim", false, "run against the built-in simulated platform")
	driverDir = flags.String("driver-dir", "", "driver sysfs directory override")

	showInfo   = flags.Bool("info", false, "print platform identity and exit")
	showReport = flags.Bool("report", false, "print a JSON session report")

	doScan  = flags.Bool("scan", false, "scan for mailbox registers")
	ackRisk = flags.Bool("ack-risk", false, "acknowledge that scanning writes to unidentified registers")

	doMonitor  = flags.Bool("monitor", false, "sample the telemetry table periodically")
	intervalMs = flags.Int("interval", 0, "monitor interval in ms (0 = config default)")
	pageSize   = flags.Int("page-size", 0, "telemetry rows per page (0 = config default)")
	page       = flags.Int("page", 0, "telemetry page to print")
	durationS  = flags.Int("duration", 0, "monitor duration in seconds (0 = until killed)")

	getFmax = flags.Bool("get-fmax", false, "read the boost frequency limit")
	setFmax = flags.Uint32("set-fmax", 0, "set the boost frequency limit in MHz")

	core      = flags.Int("core", -1, "core index for margin operations")
	getMargin = flags.Bool("get-margin", false, "read the selected core's margin")
	setMargin = flags.Int("set-margin", 0, "set the selected core's margin")

	rawCmd  = flags.String("raw", "", "raw command code to send (e.g. 0x02)")
	rawArgs = flags.String("args", "", "comma-separated raw command arguments")
	boxName = flags.String("box", "rsmu", "mailbox for raw commands: rsmu, mp1, hsmp")

	smnRead  = flags.String("smn-read", "", "read a 32-bit register at the given address")
	smnWrite = flags.String("smn-write", "", "write a 32-bit register, formatted addr=value")
)

func main() {
	flags.Parse(os.Args[1:])
	log.Init("smudbg", *debug)
	log.Infof("smudbg %s (%s)", version.Version, version.GitHash)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal(err)
	}
	if *debug {
		cfg.Debug = true
	}
	if *driverDir != "" {
		cfg.DriverDir = *driverDir
	}
	if *intervalMs > 0 {
		cfg.Monitor.IntervalMs = *intervalMs
	}
	if *pageSize > 0 {
		cfg.Monitor.PageSize = *pageSize
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if cfg.Debug && !*debug {
		log.Init("smudbg", true)
	}

	gw, cleanup, err := openGateway(cfg)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	sys, err := platform.Probe(gw)
	if err != nil {
		fatal(err)
	}
	sys.Mailboxes.SetPollBudget(cfg.Mailbox.PollRetries,
		time.Duration(cfg.Mailbox.PollIntervalUs)*time.Microsecond)

	if err := run(cfg, sys); err != nil {
		fatal(err)
	}
}

func run(cfg config.ToolConfig, sys *platform.System) error {
	switch {
	case *showInfo:
		return printInfo(sys)
	case *doScan:
		return runScan(cfg, sys)
	case *doMonitor:
		return runMonitor(cfg, sys)
	case *getFmax:
		return runGetFmax(sys)
	case flags.Changed("set-fmax"):
		return runSetFmax(sys)
	case *getMargin:
		return runGetMargin(sys)
	case flags.Changed("set-margin"):
		return runSetMargin(sys)
	case *rawCmd != "":
		return runRaw(sys)
	case *smnRead != "":
		return runSmnRead(sys)
	case *smnWrite != "":
		return runSmnWrite(sys)
	case *showReport:
		return printReport(sys, nil, nil)
	default:
		fmt.Fprintln(os.Stderr, "usage: smudbg [flags]")
		flags.PrintDefaults()
		return nil
	}
}

func openGateway(cfg config.ToolConfig) (smuio.Gateway, func(), error) {
	if *sim {
		return simGateway(), func() {}, nil
	}
	dir := cfg.DriverDir
	if dir == "" {
		dir = smuio.DefaultDriverDir
	}
	drv, err := smuio.OpenDriver(dir)
	if err != nil {
		return nil, nil, err
	}
	return drv, drv.Close, nil
}

// simGateway models a Matisse-class board well enough to exercise every
// code path, discovery included.
func simGateway() smuio.Gateway {
	box := &smuio.SimBox{
		Triple: smuio.Triple{Cmd: 0x03B10524, Rsp: 0x03B10570, Arg: 0x03B10A40},
		Profile: smuio.SimProfile{
			Version:      0x002E3600, // 46.54.0
			GetFmaxCmd:   dialect.CMD_GET_FMAX,
			SetFmaxCmd:   dialect.CMD_SET_FMAX_LEGACY,
			GetMarginCmd: dialect.CMD_GET_MARGIN_ZEN3,
			SetMarginCmd: dialect.CMD_SET_MARGIN_LEGACY,
		},
	}
	gw := smuio.NewSimGateway(smuio.DriverInfo{
		FWVersion:    "46.54.0",
		IFVersion:    11,
		CodenameID:   int(platform.Matisse),
		TableVersion: 0x240903,
		TableBytes:   0x200,
	}, box)
	box.SetFmax(4650)
	gw.SetTable(make([]byte, 0x200))

	// Topology fuses for a single-CCD 8-core part.
	gw.Preload(0x0005D218, 1<<22)
	gw.Preload(0x0005D21C, 0)
	gw.Preload(0x30081800+0x238, 0)
	return gw
}

func printInfo(sys *platform.System) error {
	id := sys.ID
	fmt.Printf("codename:      %s (family 0x%X)\n", id.Codename, id.Family)
	fmt.Printf("firmware:      %s (raw 0x%08X)\n", id.FWVersion, id.RawFWVersion)
	fmt.Printf("mp1 interface: v%d\n", id.IFVersion)
	fmt.Printf("cores:         %d (%d CCD / %d CCX)\n",
		id.Topology.PhysCores, id.Topology.CCDs, id.Topology.CCXs)
	if id.TelemetrySupported() {
		fmt.Printf("telemetry:     version 0x%X, %d bytes\n", id.TableVersion, id.TableBytes)
	} else {
		fmt.Printf("telemetry:     not available\n")
	}
	for _, kind := range []smuio.Kind{smuio.Primary, smuio.Secondary, smuio.Tertiary} {
		if mb := sys.Mailboxes.Get(kind); mb != nil {
			t := mb.Triple()
			fmt.Printf("%-5s mailbox: CMD 0x%08X RSP 0x%08X ARG 0x%08X\n",
				kind, t.Cmd, t.Rsp, t.Arg)
		}
	}
	return nil
}

func runScan(cfg config.ToolConfig, sys *platform.System) error {
	sc := discover.NewScanner(sys.Gateway, sys.ID.RawFWVersion)
	sc.AcknowledgeRisk = *ackRisk
	sc.SetPollBudget(cfg.Mailbox.PollRetries,
		time.Duration(cfg.Mailbox.PollIntervalUs)*time.Microsecond)

	ranges := platform.ScanRanges(sys.ID.Codename, cfg.ScanRanges)
	found, err := sc.Scan(context.Background(), ranges)
	if err != nil {
		return err
	}
	for _, d := range found {
		fmt.Println(d)
	}
	if *showReport {
		return printReport(sys, found, nil)
	}
	return nil
}

func runMonitor(cfg config.ToolConfig, sys *platform.System) error {
	if !sys.ID.TelemetrySupported() {
		return telemetry.ErrNoTable
	}
	sp, err := telemetry.New(sys.Gateway, int(sys.ID.TableBytes))
	if err != nil {
		return err
	}

	ctx := context.Background()
	if *durationS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*durationS)*time.Second)
		defer cancel()
	}

	interval := time.Duration(cfg.Monitor.IntervalMs) * time.Millisecond
	err = sp.Monitor(ctx, interval, func(sp *telemetry.Sampler) {
		fmt.Printf("--- sample %d (page %d/%d) ---\n",
			sp.Samples(), *page+1, sp.Pages(cfg.Monitor.PageSize))
		for _, row := range sp.Rows(*page, cfg.Monitor.PageSize) {
			fmt.Printf("  [%3d] +0x%03X  %12.4f  max %12.4f\n",
				row.Index, row.Offset, row.Value, row.Max)
		}
	})
	if err == context.DeadlineExceeded || err == context.Canceled {
		err = nil
	}
	if err == nil && *showReport {
		return printReport(sys, nil, sp)
	}
	return err
}

func resolver(sys *platform.System) *dialect.Resolver {
	return dialect.NewResolver(&sys.ID, sys.Mailboxes.Get(smuio.Primary))
}

func runGetFmax(sys *platform.System) error {
	mhz, err := resolver(sys).FrequencyLimit()
	if err != nil {
		return err
	}
	fmt.Printf("frequency limit: %d MHz\n", mhz)
	return nil
}

func runSetFmax(sys *platform.System) error {
	if err := resolver(sys).SetFrequencyLimit(*setFmax); err != nil {
		return err
	}
	fmt.Printf("frequency limit set to %d MHz\n", *setFmax)
	return nil
}

func runGetMargin(sys *platform.System) error {
	if *core < 0 {
		return fmt.Errorf("--get-margin requires --core")
	}
	margin, err := resolver(sys).Margin(*core)
	if err != nil {
		return err
	}
	fmt.Printf("core %d margin: %d\n", *core, margin)
	return nil
}

func runSetMargin(sys *platform.System) error {
	if *core < 0 {
		return fmt.Errorf("--set-margin requires --core")
	}
	if err := resolver(sys).SetMargin(*core, *setMargin); err != nil {
		return err
	}
	fmt.Printf("core %d margin set to %d\n", *core, *setMargin)
	return nil
}

func runRaw(sys *platform.System) error {
	code, err := parseU32(*rawCmd)
	if err != nil {
		return fmt.Errorf("bad command code %q: %w", *rawCmd, err)
	}

	var args smuio.Args
	if *rawArgs != "" {
		parts := strings.Split(*rawArgs, ",")
		if len(parts) > smuio.NumArgs {
			return fmt.Errorf("at most %d arguments", smuio.NumArgs)
		}
		for i, p := range parts {
			v, err := parseU32(strings.TrimSpace(p))
			if err != nil {
				return fmt.Errorf("bad argument %q: %w", p, err)
			}
			args[i] = v
		}
	}

	var kind smuio.Kind
	switch strings.ToLower(*boxName) {
	case "rsmu":
		kind = smuio.Primary
	case "mp1":
		kind = smuio.Secondary
	case "hsmp":
		kind = smuio.Tertiary
	default:
		return fmt.Errorf("unknown mailbox %q", *boxName)
	}

	st, out, err := sys.Mailboxes.Run(code, kind, args)
	if err != nil {
		return err
	}
	fmt.Printf("status: %s (0x%02X)\n", smuio.StatusText(st), st)
	if st == smuio.RSP_OK {
		for i, v := range out {
			fmt.Printf("  arg%d: 0x%08X (%d)\n", i, v, v)
		}
	}
	return nil
}

func runSmnRead(sys *platform.System) error {
	addr, err := parseU32(*smnRead)
	if err != nil {
		return fmt.Errorf("bad address %q: %w", *smnRead, err)
	}
	val, err := sys.Gateway.ReadRegister(addr)
	if err != nil {
		return err
	}
	fmt.Printf("0x%08X: 0x%08X (%d)\n", addr, val, val)
	return nil
}

func runSmnWrite(sys *platform.System) error {
	addr, val, err := parseAddrValue(*smnWrite)
	if err != nil {
		return err
	}
	if err := sys.Gateway.WriteRegister(addr, val); err != nil {
		return err
	}
	fmt.Printf("0x%08X <- 0x%08X\n", addr, val)
	return nil
}

func parseAddrValue(s string) (uint32, uint32, error) {
	addrStr, valStr, ok := strings.Cut(s, "=")
	if !ok {
		return 0, 0, fmt.Errorf("expected addr=value, got %q", s)
	}
	addr, err := parseU32(strings.TrimSpace(addrStr))
	if err != nil {
		return 0, 0, fmt.Errorf("bad address %q: %w", addrStr, err)
	}
	val, err := parseU32(strings.TrimSpace(valStr))
	if err != nil {
		return 0, 0, fmt.Errorf("bad value %q: %w", valStr, err)
	}
	return addr, val, nil
}

func printReport(sys *platform.System, found []discover.Discovered, sp *telemetry.Sampler) error {
	rep := report.Build(sys.ID, found, sp)
	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func parseU32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}

func fatal(err error) {
	log.Errorf("%v", err)
	os.Exit(1)
}
