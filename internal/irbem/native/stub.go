//go:build !cgo || !irbem

package native

import (
	"fmt"

	"github.com/PRBEM/IRBEM/internal/irbem"
)

// Open always fails: this binary was built without the irbem tag.
func Open(path string) (irbem.Backend, error) {
	return nil, fmt.Errorf("%w: built without IRBEM-LIB support (rebuild with -tags irbem), cannot load %s", irbem.ErrBackendUnavailable, path)
}
