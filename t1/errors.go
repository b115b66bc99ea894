package t1

import "errors"

// ErrRBlockError describes an R-block response that could not be
// classified as error-free. No function in this package returns it:
// WriteChained resends the segment on an error R-block instead.
var ErrRBlockError = errors.New("t1: R-block error response")
