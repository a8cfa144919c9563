package recommend

import "errors"

var (
	// ErrAnchorNotFound is returned when the anchor id does not resolve to a
	// product. No candidate queries are issued in that case.
	ErrAnchorNotFound = errors.New("anchor product not found")

	// ErrCatalogQuery wraps any catalog failure. The whole request is aborted;
	// partial results are never returned.
	ErrCatalogQuery = errors.New("catalog query failed")
)
