package storage

import "errors"

// ErrNoSnapshot is returned when no engine run has been saved yet
var ErrNoSnapshot = errors.New("no snapshot saved")
