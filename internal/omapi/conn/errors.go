package conn

import (
	"errors"

	"github.com/danmuck/omapi/internal/omapi"
	"golang.org/x/sys/unix"
)

// statusFromErr maps socket errors onto the closed status set.
func statusFromErr(err error) omapi.Status {
	switch {
	case err == nil:
		return omapi.StatusSuccess
	case errors.Is(err, unix.ECONNREFUSED):
		return omapi.StatusConnectionRefused
	case errors.Is(err, unix.ENETUNREACH), errors.Is(err, unix.EHOSTUNREACH):
		return omapi.StatusNetworkUnreachable
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE), errors.Is(err, unix.ENOBUFS):
		return omapi.StatusNoResources
	case errors.Is(err, unix.ENOMEM):
		return omapi.StatusNoMemory
	case errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNRESET), errors.Is(err, unix.ENOTCONN):
		return omapi.StatusNotConnected
	default:
		return omapi.StatusUnexpected
	}
}

func temporary(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
