package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/vk/tradegrid/internal/app"
	"github.com/vk/tradegrid/internal/session"
)

// EnvPrefix prefixes the environment variables that back every flag, e.g.
// TRADEGRID_LLM_URL for -llm-url.
const EnvPrefix = "TRADEGRID_"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated AppConfig,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("tradegrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
TradeGrid - A concurrent multi-agent trading analysis engine.

Usage:
  tradegrid [options]                 serve the HTTP API
  tradegrid -symbol AAPL [options]    run one analysis and print the result

Every option can also be set through the environment as TRADEGRID_<NAME>,
with dashes replaced by underscores (e.g. TRADEGRID_LLM_URL).

Options:
`)
		flagSet.PrintDefaults()
	}

	pipelineFlag := flagSet.String("pipeline", "", "Path to a pipeline .hcl file or directory. Empty uses the built-in pipeline.")
	pFlag := flagSet.String("p", "", "Path to the pipeline file or directory (shorthand).")
	portFlag := flagSet.Int("port", 8080, "Port for the HTTP API and metrics.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	maxRunsFlag := flagSet.Int("max-runs", 4, "Maximum number of analyses running at once.")
	maxQueuedFlag := flagSet.Int("max-queued", 16, "Maximum number of analyses waiting for admission. 0 is unbounded.")
	admissionWaitFlag := flagSet.Duration("admission-wait", 0, "How long a queued analysis waits for admission. 0 waits until cancelled.")
	stepCeilingFlag := flagSet.Int("step-ceiling", 64, "Maximum stage invocations per analysis.")
	runTimeoutFlag := flagSet.Duration("run-timeout", 10*time.Minute, "Wall-clock limit per analysis. 0 is unlimited.")
	retentionFlag := flagSet.Duration("retention", session.DefaultRetention, "How long finished analyses stay in memory.")

	llmURLFlag := flagSet.String("llm-url", "", "Base URL of the LLM service. Empty uses the offline client.")
	llmModelFlag := flagSet.String("llm-model", "", "Default model name sent to the LLM service.")
	llmPoolFlag := flagSet.Int("llm-pool-size", 4, "Number of pooled LLM clients.")
	llmTimeoutFlag := flagSet.Duration("llm-timeout", 60*time.Second, "Per-request LLM timeout.")
	dataURLFlag := flagSet.String("data-url", "", "Base URL of the market data service. Empty uses the offline client.")
	dataPoolFlag := flagSet.Int("data-pool-size", 8, "Number of pooled market data clients.")
	dataTimeoutFlag := flagSet.Duration("data-timeout", 30*time.Second, "Per-request market data timeout.")
	maxRetriesFlag := flagSet.Uint64("max-retries", 3, "Retries for transient service failures.")
	rateLimitFlag := flagSet.Float64("rate-limit", 0, "Requests per second per pooled client. 0 is unlimited.")

	redisAddrFlag := flagSet.String("redis-addr", "", "Redis address for progress and results. Empty keeps them in memory.")
	redisPasswordFlag := flagSet.String("redis-password", "", "Redis password.")
	redisDBFlag := flagSet.Int("redis-db", 0, "Redis database number.")
	socketIOURLFlag := flagSet.String("socketio-url", "", "Socket.IO server receiving realtime progress. Empty disables it.")
	socketIONamespaceFlag := flagSet.String("socketio-namespace", "/", "Socket.IO namespace for progress events.")

	symbolFlag := flagSet.String("symbol", "", "Run a single analysis for this ticker and exit.")
	dateFlag := flagSet.String("date", "", "Analysis date (YYYY-MM-DD). Defaults to today.")
	analystsFlag := flagSet.String("analysts", "", "Comma-separated analysts to run. Empty runs all.")
	depthFlag := flagSet.Int("depth", 0, "Research depth preset, 1 to 5.")
	debateRoundsFlag := flagSet.Int("debate-rounds", 0, "Investment debate rounds, overriding the depth preset.")
	riskRoundsFlag := flagSet.Int("risk-rounds", 0, "Risk debate rounds, overriding the depth preset.")
	marketTypeFlag := flagSet.String("market-type", "", "Market type passed to data services, e.g. 'us' or 'crypto'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if err := applyEnv(flagSet, os.LookupEnv); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() > 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))}
	}

	path := *pipelineFlag
	if path == "" {
		path = *pFlag
	}
	slog.Debug("Pipeline path determined.", "path", path)

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	if _, ok := app.ParseLevel(logLevel); !ok {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	var analysis *session.Request
	if *symbolFlag != "" {
		date := *dateFlag
		if date == "" {
			date = time.Now().Format(time.DateOnly)
		}
		analysis = &session.Request{
			Symbol:          strings.ToUpper(*symbolFlag),
			AsOf:            date,
			Analysts:        splitList(*analystsFlag),
			ResearchDepth:   *depthFlag,
			MaxDebateRounds: *debateRoundsFlag,
			MaxRiskRounds:   *riskRoundsFlag,
			MarketType:      *marketTypeFlag,
		}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		PipelinePath:    path,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
		Port:            *portFlag,
		Analysis:        analysis,
		MaxRuns:         *maxRunsFlag,
		MaxQueued:       *maxQueuedFlag,
		AdmissionWait:   *admissionWaitFlag,
		StepCeiling:     *stepCeilingFlag,
		RunTimeout:      *runTimeoutFlag,
		Retention:       *retentionFlag,
		LLM: app.ServiceConfig{
			URL:        *llmURLFlag,
			Model:      *llmModelFlag,
			PoolSize:   *llmPoolFlag,
			Timeout:    *llmTimeoutFlag,
			MaxRetries: *maxRetriesFlag,
			RateLimit:  *rateLimitFlag,
		},
		Data: app.ServiceConfig{
			URL:        *dataURLFlag,
			PoolSize:   *dataPoolFlag,
			Timeout:    *dataTimeoutFlag,
			MaxRetries: *maxRetriesFlag,
			RateLimit:  *rateLimitFlag,
		},
		RedisAddr:         *redisAddrFlag,
		RedisPassword:     *redisPasswordFlag,
		RedisDB:           *redisDBFlag,
		SocketIOURL:       *socketIOURLFlag,
		SocketIONamespace: *socketIONamespaceFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

// applyEnv fills every flag not given on the command line from its
// TRADEGRID_ environment variable.
func applyEnv(fs *flag.FlagSet, lookup func(string) (string, bool)) error {
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || explicit[f.Name] {
			return
		}
		key := EnvVar(f.Name)
		value, ok := lookup(key)
		if !ok {
			return
		}
		if setErr := fs.Set(f.Name, value); setErr != nil {
			err = fmt.Errorf("invalid value %q for %s: %w", value, key, setErr)
		}
	})
	return err
}

// EnvVar returns the environment variable backing a flag.
func EnvVar(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
