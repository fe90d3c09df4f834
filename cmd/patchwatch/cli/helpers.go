package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	awsx "github.com/patchwatch/patchwatch/internal/aws"
	"github.com/patchwatch/patchwatch/internal/config"
	"github.com/patchwatch/patchwatch/internal/core"
	"github.com/patchwatch/patchwatch/internal/logging"
	"github.com/patchwatch/patchwatch/internal/runner"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// v holds flag bindings; config.Load layers env and file underneath.
var (
	v          = viper.New()
	configPath string
)

// RegisterGlobalFlags adds flags shared by every command.
func RegisterGlobalFlags(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ./"+config.DefaultConfigFile+")")
	pf.String("log-level", config.DefaultLogLevel, "console log level (debug, info, warn, error)")
	pf.String("ledger", "", "run ledger database path")
	pf.String("accounts", "", "accounts CSV (account_id,role_name,region)")
	pf.String("store", "", "report store: s3 or local")
	pf.Bool("no-email", false, "do not send the report email")

	v.BindPFlag("log.level", pf.Lookup("log-level"))
	v.BindPFlag("ledger_path", pf.Lookup("ledger"))
	v.BindPFlag("accounts_file", pf.Lookup("accounts"))
	v.BindPFlag("report.store", pf.Lookup("store"))
}

// loadConfig resolves and validates the full configuration.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if noEmail, _ := cmd.Flags().GetBool("no-email"); noEmail {
		cfg.Email.Enabled = false
	}
	return cfg, nil
}

// openEngine opens the ledger named by the configuration without requiring
// the AWS settings to be valid.
func openEngine() (*core.Engine, error) {
	cfg, err := config.Read(v, configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return core.OpenEngine(cfg.LedgerPath, operator(), logging.NewLogger(cfg.Log.Level, ""))
}

func operator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

// phaseEnv is everything one phase command owns and must release.
type phaseEnv struct {
	runner  *runner.Runner
	engine  *core.Engine
	logFile *os.File
}

func (e *phaseEnv) Close() {
	e.engine.Close()
	e.logFile.Close()
}

// openPhase builds the runner for phase: per-run log file, ledger, and an AWS
// client factory over the caller's default credentials.
func openPhase(ctx context.Context, cmd *cobra.Command, phase core.Phase) (*phaseEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logFile, err := logging.OpenRunLogFile(cfg.Log.Dir, string(phase), time.Now())
	if err != nil {
		return nil, err
	}
	logger := logging.NewTeeLogger(cfg.Log.Level, logFile, "")
	logger.Info().Str("log_file", logFile.Name()).Msg("logging initialized")

	engine, err := core.OpenEngine(cfg.LedgerPath, operator(), logger)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	base, err := awsx.LoadBaseConfig(ctx, cfg.SharedAccount.Region)
	if err != nil {
		engine.Close()
		logFile.Close()
		return nil, err
	}
	factory := awsx.NewClientFactory(base, logger, cfg.RatePerSecond)

	return &phaseEnv{
		runner:  runner.New(cfg, engine, factory),
		engine:  engine,
		logFile: logFile,
	}, nil
}

func printOutcome(name string, out *runner.Outcome) {
	if out == nil || out.Run == nil || out.Run.Status == core.RunError {
		return
	}
	if out.Empty() {
		fmt.Printf("%s: nothing to report (run %s)\n", name, out.Run.UUID)
		return
	}
	fmt.Printf("%s: %d windows reported (run %s)\n", name, out.Rows, out.Run.UUID)
	if out.Location != "" {
		fmt.Printf("  report:  %s\n", out.Location)
	}
	if out.MessageID != "" {
		fmt.Printf("  email:   %s\n", out.MessageID)
	}
}
