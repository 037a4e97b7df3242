package inode

import (
	"errors"
	"fmt"

	"github.com/example/blockfs/pkg/device"
)

// Sentinel errors returned by inode operations.
var (
	ErrNoSpace   = errors.New("no space left on device")
	ErrBadRecord = errors.New("invalid inode record")
	ErrNegative  = errors.New("negative length")
)

// OpError carries the operation and sector that produced an error.
type OpError struct {
	Op     string
	Sector device.SectorNum
	Err    error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("%s sector %d: %v", e.Op, e.Sector, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op string, sector device.SectorNum, err error) error {
	return &OpError{Op: op, Sector: sector, Err: err}
}
