// Package native binds the IRBEM-LIB shared library. The library is loaded
// at run time from a path, so one binary can serve different builds of it.
// Build with -tags irbem (cgo required); otherwise Open reports
// irbem.ErrBackendUnavailable.
package native
