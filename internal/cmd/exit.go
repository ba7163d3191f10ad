package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/archive"
	"github.com/3leaps/plagctl/pkg/session"
	"github.com/3leaps/plagctl/pkg/validate"
)

var (
	exitInvalidArgument = int(foundry.ExitInvalidArgument)
	exitFileNotFound    = int(foundry.ExitFileNotFound)
	exitFileRead        = int(foundry.ExitFileReadError)
	exitFileWrite       = int(foundry.ExitFileWriteError)
	exitUnavailable     = int(foundry.ExitExternalServiceUnavailable)
	exitInterrupted     = int(foundry.ExitSignalInt)
)

// exitFindings is returned when a check succeeded but crossed --fail-on.
const exitFindings = 3

// cliError carries the process exit code for a failed command.
type cliError struct {
	code int
	msg  string
	err  error
}

func (e *cliError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

func exitError(code int, msg string, err error) error {
	return &cliError{code: code, msg: msg, err: err}
}

// ExitWithCode logs msg and terminates the process with code.
func ExitWithCode(logger *zap.Logger, code int, msg string, err error) {
	if err != nil {
		logger.Error(msg, zap.Error(err), zap.Int("exit_code", code))
	} else {
		logger.Error(msg, zap.Int("exit_code", code))
	}
	_ = logger.Sync()
	os.Exit(code)
}

// apiExit maps a client or poller error to an exit error. Transport,
// server and polling failures exit as service unavailable.
func apiExit(msg string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return exitError(exitInterrupted, msg+" (interrupted)", err)
	case validate.IsValidationError(err):
		return exitError(exitInvalidArgument, msg, err)
	case api.IsAuthExpired(err), errors.Is(err, session.ErrNotAuthenticated):
		return exitError(exitInvalidArgument, "Session expired or missing, please run 'plagctl login'", err)
	case api.IsNotFound(err), archive.IsNotFound(err):
		return exitError(exitFileNotFound, msg, err)
	case errors.Is(err, api.ErrBadRequest), errors.Is(err, api.ErrForbidden), archive.IsAccessDenied(err):
		return exitError(exitInvalidArgument, msg, err)
	default:
		return exitError(exitUnavailable, msg, err)
	}
}
