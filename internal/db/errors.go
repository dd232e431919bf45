package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/floorplan-import/internal/store"
)

// ErrTransactionConflict reports that a concurrent transaction touched the
// same records; the unit of work can be retried.
var ErrTransactionConflict = errors.New("transaction conflict")

// queryErrorMarkers maps SurrealDB message fragments to sentinels.
var queryErrorMarkers = []struct {
	fragment string
	sentinel error
}{
	{"already exists", store.ErrAlreadyExists},
	{"already contains", store.ErrAlreadyExists},
	{"Transaction conflict", ErrTransactionConflict},
}

// wrapQueryError tags known SurrealDB query errors with a sentinel and
// passes everything else through.
func wrapQueryError(err error) error {
	var qe *surrealdb.QueryError
	if !errors.As(err, &qe) {
		return err
	}
	for _, m := range queryErrorMarkers {
		if strings.Contains(qe.Message, m.fragment) {
			return fmt.Errorf("%w: %s", m.sentinel, qe.Message)
		}
	}
	return err
}
