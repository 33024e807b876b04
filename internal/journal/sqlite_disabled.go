//go:build !sqlite

package journal

import (
	"fmt"

	logx "wsched/pkg/logx"
)

func openSQLite(Config, logx.Logger) (Store, error) {
	return nil, fmt.Errorf("%w: sqlite driver not built (use -tags sqlite)", ErrDisabled)
}
