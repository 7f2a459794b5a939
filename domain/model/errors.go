package model

import "errors"

var (
	ErrDeploymentNotFound = errors.New("deployment not found")
)
