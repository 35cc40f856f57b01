package pgstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/lib/pq"
)

// classify wraps connection-class failures with ErrStoreUnavailable and
// returns every other error unchanged.
func classify(err error) error {
	if err == nil || errors.Is(err, goVerify.ErrStoreUnavailable) {
		return err
	}
	if unavailable(err) {
		return fmt.Errorf("%w: %v", goVerify.ErrStoreUnavailable, err)
	}
	return err
}

func unavailable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return true
		}
		return false
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}
