package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/cliagent/internal/config"
	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/internal/logging"
	"github.com/opencode-ai/cliagent/internal/permission"
	"github.com/opencode-ai/cliagent/internal/provider"
	"github.com/opencode-ai/cliagent/internal/runtime"
	"github.com/opencode-ai/cliagent/internal/session"
	"github.com/opencode-ai/cliagent/internal/storage"
	"github.com/opencode-ai/cliagent/internal/workspace"
	"github.com/opencode-ai/cliagent/pkg/types"
)

// app holds the services shared by the commands.
type app struct {
	config   *types.Config
	workDir  string
	models   *provider.Registry
	bus      *event.Bus
	sessions *session.Service
}

// newApp loads configuration for the working directory and wires the local
// runtime into a session service.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	workDir, err := GetWorkDir(directory)
	if err != nil {
		return nil, err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
		logging.Logger = logging.Logger.Level(logging.ParseLevel(cfg.LogLevel))
	}
	if cfg.WorkingDirectory != "" && directory == "" {
		workDir = cfg.WorkingDirectory
	}

	idleTimeout, err := config.IdleTimeout(cfg)
	if err != nil {
		return nil, err
	}

	models, err := provider.InitializeProviders(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	store := storage.New(config.StorageDir(cfg))
	bus := event.NewBus()
	svc := session.NewService(session.Config{
		Runtime:          runtime.NewLocal(store, models, workDir),
		Bus:              bus,
		WorkingDirectory: workDir,
		Isolation:        cfg.Isolation,
		Workspace:        workspace.New(workspaceFolders(cfg, workDir)...),
		Policy:           permission.NewPolicy(cfg.Permission),
		IdleTimeout:      idleTimeout,
	})

	logging.Debug().
		Str("workDir", workDir).
		Str("storage", store.BasePath()).
		Str("model", models.DefaultModel()).
		Msg("application initialized")

	return &app{
		config:   cfg,
		workDir:  workDir,
		models:   models,
		bus:      bus,
		sessions: svc,
	}, nil
}

// workspaceFolders returns the configured workspace folders, resolved
// against workDir, or workDir itself when none are configured.
func workspaceFolders(cfg *types.Config, workDir string) []string {
	if len(cfg.Workspace) == 0 {
		return []string{workDir}
	}
	folders := make([]string, 0, len(cfg.Workspace))
	for _, f := range cfg.Workspace {
		if !filepath.IsAbs(f) {
			f = filepath.Join(workDir, f)
		}
		folders = append(folders, f)
	}
	return folders
}

// Close disposes live sessions and stops the bus.
func (a *app) Close() error {
	return errors.Join(a.sessions.Close(), a.bus.Close())
}
