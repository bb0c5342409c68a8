package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opencode-ai/cliagent/internal/permission"
	"github.com/opencode-ai/cliagent/internal/workspace"
	"github.com/opencode-ai/cliagent/pkg/types"
)

func TestWorkspaceFolders(t *testing.T) {
	tests := []struct {
		name      string
		workspace []string
		want      []string
	}{
		{"defaults to working directory", nil, []string{"/proj"}},
		{"absolute folders kept", []string{"/a", "/b"}, []string{"/a", "/b"}},
		{"relative folders resolved", []string{"lib", "../shared"}, []string{"/proj/lib", "/shared"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &types.Config{Workspace: tt.workspace}
			assert.Equal(t, tt.want, workspaceFolders(cfg, "/proj"))
		})
	}
}

func TestWorkspaceFolders_ProjectWritesApproved(t *testing.T) {
	workDir := t.TempDir()
	b := permission.NewBroker(permission.BrokerConfig{
		WorkingDirectory: workDir,
		Workspace:        workspace.New(workspaceFolders(&types.Config{}, workDir)...),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	write := func(file string) bool {
		return b.Request(ctx, types.PermissionRequest{
			Kind: types.PermissionWrite, FileName: file, Diff: "+x",
		}).Approved()
	}
	assert.True(t, write(filepath.Join(workDir, "main.go")), "project write without prompting")
	assert.False(t, write(filepath.Join(workDir, ".env")), "protected file still needs confirmation")
}
