package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paperpos.log")

	logger, err := New("production", path)
	require.NoError(t, err)
	logger.Info("sale processed", zap.String("bill_id", "INV-1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"bill_id":"INV-1"`)
}

func TestInstallReplacesGlobals(t *testing.T) {
	logger, err := New("development", "")
	require.NoError(t, err)

	restore := Install(logger)
	defer restore()
	assert.Same(t, logger, zap.L())
}
