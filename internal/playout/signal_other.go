/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

//go:build !unix

package playout

import (
	"errors"
	"os"
)

// ErrPauseUnsupported is returned where processes cannot be suspended.
var ErrPauseUnsupported = errors.New("pause is not supported on this platform")

func suspend(*os.Process) error { return ErrPauseUnsupported }

func resume(*os.Process) error { return ErrPauseUnsupported }
