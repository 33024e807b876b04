//go:build !sqlite

package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	logx "wsched/pkg/logx"
)

func TestSQLiteNotBuilt(t *testing.T) {
	_, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "j.db")}, logx.Nop())
	require.ErrorIs(t, err, ErrDisabled)
}
