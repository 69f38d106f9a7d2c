package repo

import "errors"

// ErrNotFound reports a lookup that matched no row. Stores translate
// driver sentinels into this one so handlers can map it to a 404
// without importing database/sql.
var ErrNotFound = errors.New("not found")
