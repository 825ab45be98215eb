package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/himanishpuri/ezscreen/pkg/ezscreen"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/classifier/command"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/classifier/stub"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/recording"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/storage"
	"github.com/himanishpuri/ezscreen/pkg/logger"
)

var (
	port             int
	dbPath           string
	tempDir          string
	classifierProg   string
	classifierScript string
	sampleRate       float64
	timeout          time.Duration
	retries          int
	maxBodyMB        int64
	allowedOrigins   string
)

func registerFlags() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("EZSCREEN_DB_PATH", storage.DefaultDBFile), "Path to the SQLite run ledger (empty disables it)")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("EZSCREEN_TEMP_DIR", os.TempDir()), "Directory for classifier payload files")
	flag.StringVar(&classifierProg, "classifier", getEnvOrDefault("EZSCREEN_CLASSIFIER", "stub"), "Classifier program, or \"stub\" for a dry run")
	flag.StringVar(&classifierScript, "classifier-script", os.Getenv("EZSCREEN_CLASSIFIER_SCRIPT"), "Script passed to the classifier program before the entry point")
	flag.Float64Var(&sampleRate, "srate", recording.DefaultSampleRate, "Expected sample rate in Hz (0 accepts any)")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Timeout of one classifier call")
	flag.IntVar(&retries, "retries", 2, "Extra attempts for a failing classifier call")
	flag.Int64Var(&maxBodyMB, "max-body-mb", 256, "Maximum request body size in MB")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	registerFlags()
	flag.Parse()
	log := logger.GetLogger()

	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	var cl ezscreen.Classifier = stub.New()
	if classifierProg != "stub" {
		opts := []command.Option{command.WithTempDir(tempDir)}
		if classifierScript != "" {
			opts = append(opts, command.WithArgs(classifierScript))
		}
		cl = command.New(classifierProg, opts...)
	} else {
		log.Warnf("Using the stub classifier; results are echoes of the derived channels")
	}

	service, err := ezscreen.NewService(
		ezscreen.WithDBPath(dbPath),
		ezscreen.WithSampleRate(sampleRate),
		ezscreen.WithClassifierTimeout(timeout),
		ezscreen.WithRetries(retries),
		ezscreen.WithClassifier(cl),
	)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		SampleRate:     sampleRate,
		MaxBodyBytes:   maxBodyMB << 20,
		AllowedOrigins: origins,
	}

	server := NewServer(service, config)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
