package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Handle is an opaque reference to an isolated filesystem workspace,
// passed through to a delegation recipient.
type Handle struct {
	Path string
}

type Provisioner interface {
	Provision(ctx context.Context, agentID, conversationID string) (Handle, error)
}

// LocalProvisioner creates per-delegation directories under a base path.
type LocalProvisioner struct {
	baseDir string
}

func NewLocalProvisioner(baseDir string) *LocalProvisioner {
	return &LocalProvisioner{baseDir: baseDir}
}

func (p *LocalProvisioner) Provision(_ context.Context, agentID, conversationID string) (Handle, error) {
	dir := filepath.Join(p.baseDir, agentID, conversationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Handle{}, fmt.Errorf("provision workspace: %w", err)
	}
	return Handle{Path: dir}, nil
}
