package main

import (
	"errors"

	"github.com/kompox/kdeploy/usecase/deploy"
)

// Exit codes distinguish an unconfirmed rollout from an unhealthy one for scripts.
const (
	exitFailure      = 1
	exitNotConfirmed = 2
	exitUnhealthy    = 3
)

func exitCode(err error) int {
	switch {
	case errors.Is(err, deploy.ErrNotConfirmed):
		return exitNotConfirmed
	case errors.Is(err, deploy.ErrUnhealthy):
		return exitUnhealthy
	}
	return exitFailure
}
