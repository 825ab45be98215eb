package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/classifier/command"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/classifier/stub"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/interference"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/montage"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/recording"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/storage"
	"github.com/himanishpuri/ezscreen/pkg/logger"
	"github.com/himanishpuri/ezscreen/pkg/utils"
)

// Global flags
var (
	dbPath           string
	tempDir          string
	classifierProg   string
	classifierScript string
	sampleRate       float64
	timeout          time.Duration
	retries          int
	workers          int
	keepPayloads     bool
)

func registerGlobalFlags() {
	flag.StringVar(&dbPath, "db", getEnvOrDefault("EZSCREEN_DB_PATH", storage.DefaultDBFile), "Path to the SQLite run ledger (empty disables it)")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("EZSCREEN_TEMP_DIR", os.TempDir()), "Directory for classifier payload files")
	flag.StringVar(&classifierProg, "classifier", getEnvOrDefault("EZSCREEN_CLASSIFIER", "stub"), "Classifier program, or \"stub\" for a dry run")
	flag.StringVar(&classifierScript, "classifier-script", os.Getenv("EZSCREEN_CLASSIFIER_SCRIPT"), "Script passed to the classifier program before the entry point")
	flag.Float64Var(&sampleRate, "srate", recording.DefaultSampleRate, "Expected sample rate in Hz (0 accepts any)")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Timeout of one classifier call")
	flag.IntVar(&retries, "retries", 2, "Extra attempts for a failing classifier call")
	flag.IntVar(&workers, "workers", 0, "Channels transformed concurrently (0 = GOMAXPROCS)")
	flag.BoolVar(&keepPayloads, "keep-payloads", false, "Keep classifier payload files in the temp dir")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newClassifier() ezscreen.Classifier {
	if classifierProg == "stub" {
		return stub.New()
	}
	opts := []command.Option{command.WithTempDir(tempDir)}
	if classifierScript != "" {
		opts = append(opts, command.WithArgs(classifierScript))
	}
	if keepPayloads {
		opts = append(opts, command.KeepPayloads())
	}
	return command.New(classifierProg, opts...)
}

// createService creates a new service with configured options
func createService() (ezscreen.Service, error) {
	opts := []ezscreen.Option{
		ezscreen.WithDBPath(dbPath),
		ezscreen.WithSampleRate(sampleRate),
		ezscreen.WithClassifierTimeout(timeout),
		ezscreen.WithRetries(retries),
		ezscreen.WithClassifier(newClassifier()),
	}
	if workers > 0 {
		opts = append(opts, ezscreen.WithWorkers(workers))
	}
	return ezscreen.NewService(opts...)
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	registerGlobalFlags()
	flag.Usage = printUsage
	flag.Parse()

	log := logger.GetLogger()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	log.Debugf("Executing command: %s", cmd)

	var err error
	switch cmd {
	case "screen":
		err = handleProcess(ezscreen.VariantScreened, args)
	case "raw":
		err = handleProcess(ezscreen.VariantRaw, args)
	case "runs":
		err = handleRuns(args)
	case "scores":
		err = handleScores(args)
	case "purge":
		err = handlePurge(args)
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// splitArgs separates leading positional arguments from flags so that
// "screen rec.wav -montage m.yaml" works like the flag package expects.
func splitArgs(args []string) (positional, flags []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

func handleProcess(variant ezscreen.Variant, args []string) error {
	log := logger.GetLogger()

	positional, flagArgs := splitArgs(args)
	fs := flag.NewFlagSet(string(variant), flag.ExitOnError)
	montagePath := fs.String("montage", "", "Montage YAML file (required)")
	fileID := fs.String("file-id", "", "Recording identifier (default: WAV file name)")
	blockSeconds := fs.Float64("block", 0, "Block length in seconds (0 = whole file)")
	labelsPath := fs.String("labels", "", "Text file with one channel label per recording row (default: montage names)")
	fs.Parse(flagArgs)
	positional = append(positional, fs.Args()...)

	if len(positional) != 1 || *montagePath == "" {
		fmt.Printf("Usage: ezscreen %s <recording.wav> -montage <montage.yaml> [-file-id <id>] [-block <seconds>] [-labels <file>]\n", variant)
		os.Exit(1)
	}
	wavPath := positional[0]

	m, err := montage.Load(*montagePath)
	if err != nil {
		return fmt.Errorf("loading montage: %w", err)
	}

	var chanList []string
	if *labelsPath != "" {
		if chanList, err = readLabels(*labelsPath); err != nil {
			return err
		}
	}

	parts, info, err := recording.ReadWAVBlocks(wavPath, *blockSeconds)
	if err != nil {
		return fmt.Errorf("reading recording: %w", err)
	}
	if st, err := os.Stat(wavPath); err == nil {
		fmt.Printf("Recording %s: %s, %d channels, %s samples at %d Hz\n", wavPath,
			humanize.Bytes(uint64(st.Size())), info.NumChannels, humanize.Comma(int64(info.NumSamples)), info.SampleRate)
	}
	if chanList != nil && len(chanList) != info.NumChannels {
		return fmt.Errorf("%s has %d labels for %d channels", *labelsPath, len(chanList), info.NumChannels)
	}

	if variant == ezscreen.VariantScreened {
		if merged := mergeShortTail(parts, interference.PowerlineBand); len(merged) < len(parts) {
			log.Warnf("Trailing block of %s samples is too short to resolve the powerline band; merged into block %d",
				humanize.Comma(int64(parts[len(parts)-1].NumSamples())), len(merged)-1)
			parts = merged
		}
	}

	id := *fileID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
	}

	blocks := make([]ezscreen.Block, len(parts))
	for i, part := range parts {
		blocks[i] = ezscreen.Block{
			Recording: part,
			Meta: ezscreen.RunMetadata{
				FileID:     id,
				BlockIndex: i,
				NBlocks:    len(parts),
				BlockSize:  part.NumSamples(),
				SRate:      part.SampleRate,
				FileBlock:  fmt.Sprintf("%s_%d", id, i),
				ChanList:   chanList,
				Montage:    m,
			},
		}
	}

	svc, err := createService()
	if err != nil {
		return fmt.Errorf("service initialization failed: %w", err)
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Infof("Processing %d block(s) of %s (%s)", len(blocks), id, variant)
	report, err := svc.Run(ctx, variant, blocks)
	if report != nil {
		printReport(report, m)
	}
	if err != nil {
		return err
	}
	if report.Failed() {
		return fmt.Errorf("%d of %d block(s) failed", len(report.Failures), len(blocks))
	}
	return nil
}

// mergeShortTail folds a trailing block too short to resolve band into the
// block before it. A single block is returned unchanged.
func mergeShortTail(parts []*recording.Recording, band interference.Band) []*recording.Recording {
	if len(parts) < 2 {
		return parts
	}
	tail := parts[len(parts)-1]
	if _, _, err := interference.BandIndexRange(tail.NumSamples(), tail.SampleRate, band); !errors.Is(err, interference.ErrEmptyBand) {
		return parts
	}

	prev := parts[len(parts)-2]
	chans := make([][]float64, prev.NumChannels())
	for i := range chans {
		chans[i] = slices.Concat(prev.Channels[i], tail.Channels[i])
	}
	out := slices.Clone(parts[:len(parts)-1])
	out[len(out)-1] = &recording.Recording{SampleRate: prev.SampleRate, Channels: chans}
	return out
}

// readLabels reads one channel label per non-empty line.
func readLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	var labels []string
	for line := range strings.Lines(string(data)) {
		if label := strings.TrimSpace(line); label != "" {
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%s holds no labels", path)
	}
	return labels, nil
}

func printReport(report *ezscreen.RunReport, m *montage.Montage) {
	for _, res := range report.Results {
		fmt.Printf("\n%s  run %s  (%s, %d attempt(s))\n", res.Meta.FileBlock, res.RunID,
			res.Duration.Round(time.Millisecond), res.Attempts)
		if res.Screening != nil {
			if len(res.Screening.Flagged) == 0 {
				fmt.Println("   No channels flagged for powerline interference")
			} else {
				names, _ := m.Names(res.Screening.Flagged)
				fmt.Printf("   Flagged: %s\n", strings.Join(names, ", "))
			}
		}
		fmt.Printf("   Monopolar: %d  Bipolar: %d  Support: %d\n",
			res.Groups.Monopolar.Len(), res.Groups.Bipolar.Len(), res.Groups.SupportBipolar.Len())
	}
	for _, f := range report.Failures {
		fmt.Printf("\nFAILED %v\n", f)
	}
	fmt.Printf("\n%d block(s) ok, %d failed\n", len(report.Results), len(report.Failures))
}

func handleRuns(args []string) error {
	fileID := ""
	if len(args) > 0 {
		fileID = args[0]
	}

	svc, err := createService()
	if err != nil {
		return fmt.Errorf("service initialization failed: %w", err)
	}
	defer svc.Close()

	runs, err := svc.Runs(fileID)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("Found %d run(s):\n\n", len(runs))
	for _, r := range runs {
		fmt.Printf("%s  %-8s %-6s %s  block %d/%d  %s\n", r.ID, r.Variant, r.Status, r.FileID,
			r.BlockIndex+1, r.NBlocks, humanize.Time(r.CreatedAt))
		if r.Status == ezscreen.StatusFailed {
			fmt.Printf("   %s: %s\n", r.Stage, r.Error)
			continue
		}
		fmt.Printf("   flagged %v  mp %d  bp %d  support %d  attempts %d\n",
			r.Flagged, r.MonopolarCount, r.BipolarCount, r.SupportCount, r.Attempts)
	}
	return nil
}

func handleScores(args []string) error {
	if len(args) != 1 {
		fmt.Println("Usage: ezscreen scores <run_id>")
		os.Exit(1)
	}

	if !utils.IsRunID(args[0]) {
		return fmt.Errorf("%q is not a run id", args[0])
	}

	svc, err := createService()
	if err != nil {
		return fmt.Errorf("service initialization failed: %w", err)
	}
	defer svc.Close()

	scores, err := svc.Scores(args[0])
	if errors.Is(err, ezscreen.ErrRunNotFound) {
		return fmt.Errorf("run %s not found", args[0])
	}
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		fmt.Println("Run has no interference scores (raw variant or empty montage)")
		return nil
	}

	for _, s := range scores {
		mark := ""
		if s.Flagged {
			mark = "  FLAGGED"
		}
		fmt.Printf("%3d  %-10s %14s  z=%+.3f%s\n", s.ChannelID, s.Name,
			humanize.FormatFloat("#,###.##", s.Score), s.ZScore, mark)
	}
	return nil
}

func handlePurge(args []string) error {
	if len(args) != 1 {
		fmt.Println("Usage: ezscreen purge <file_id>")
		os.Exit(1)
	}

	svc, err := createService()
	if err != nil {
		return fmt.Errorf("service initialization failed: %w", err)
	}
	defer svc.Close()

	if err := svc.DeleteRuns(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted runs of %s\n", args[0])
	return nil
}

func printUsage() {
	fmt.Println("ezscreen - powerline interference screening and montage derivation")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  -db <path>                 SQLite run ledger (env: EZSCREEN_DB_PATH, default: ezscreen.sqlite3)")
	fmt.Println("  -temp <dir>                Payload directory (env: EZSCREEN_TEMP_DIR)")
	fmt.Println("  -classifier <program>      Classifier program or \"stub\" (env: EZSCREEN_CLASSIFIER)")
	fmt.Println("  -classifier-script <path>  Script argument for the classifier (env: EZSCREEN_CLASSIFIER_SCRIPT)")
	fmt.Println("  -srate <hz>                Expected sample rate (default: 2000)")
	fmt.Println("  -timeout <dur>             Classifier call timeout (default: 5m)")
	fmt.Println("  -retries <n>               Extra classifier attempts (default: 2)")
	fmt.Println("\nUsage:")
	fmt.Println("  ezscreen [global-options] screen <recording.wav> -montage <montage.yaml> [-file-id <id>] [-block <seconds>] [-labels <file>]")
	fmt.Println("  ezscreen [global-options] raw <recording.wav> -montage <montage.yaml> [-file-id <id>] [-block <seconds>] [-labels <file>]")
	fmt.Println("  ezscreen [global-options] runs [file_id]")
	fmt.Println("  ezscreen [global-options] scores <run_id>")
	fmt.Println("  ezscreen [global-options] purge <file_id>")
	fmt.Println("\nA screened run folds a trailing block too short for the 48-52 Hz band into the block before it.")
	fmt.Println("\nExamples:")
	fmt.Println("  # Dry run with the echo classifier, 60 s blocks")
	fmt.Println("  ezscreen screen patient01.wav -montage patient01.yaml -block 60")
	fmt.Println()
	fmt.Println("  # Real classifier")
	fmt.Println("  ezscreen -classifier python3 -classifier-script ez_detect.py screen patient01.wav -montage patient01.yaml")
}
