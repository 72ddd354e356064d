package store

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/nitesh/meal_match/internal/apperr"
	dbtypes "github.com/nitesh/meal_match/internal/db"
	"github.com/nitesh/meal_match/pkg/models"
)

type columnKind int

const (
	textColumn columnKind = iota
	floatColumn
	intColumn
	dateColumn
	statusColumn
)

// updatableColumns are the snapshot columns a caller may change on a batch.
var updatableColumns = map[string]columnKind{
	"distance":     floatColumn,
	"description":  textColumn,
	"image_url":    textColumn,
	"capture_date": dateColumn,
	"capture_time": textColumn,
	"count":        intColumn,
	"location":     textColumn,
	"latitude":     floatColumn,
	"longitude":    floatColumn,
	"status":       statusColumn,
}

// floatLimits keep values inside the NUMERIC precision of each column.
var floatLimits = map[string][2]float64{
	"distance":  {0, 9999.999999},
	"latitude":  {-90, 90},
	"longitude": {-180, 180},
}

// buildUpdate turns a column->value mapping into a SET clause with numbered
// placeholders. Columns are emitted in sorted order.
func buildUpdate(fields map[string]any) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("%w: no fields to update", apperr.ErrInvalidArgument)
	}
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		kind, ok := updatableColumns[col]
		if !ok {
			return "", nil, fmt.Errorf("%w: column %q cannot be updated", apperr.ErrInvalidArgument, col)
		}
		v, err := coerce(col, kind, fields[col])
		if err != nil {
			return "", nil, err
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	return strings.Join(sets, ", "), args, nil
}

func coerce(col string, kind columnKind, v any) (any, error) {
	invalid := func() error {
		return fmt.Errorf("%w: bad value for %s: %v", apperr.ErrInvalidArgument, col, v)
	}
	switch kind {
	case textColumn:
		s, ok := v.(string)
		if !ok {
			return nil, invalid()
		}
		return s, nil
	case statusColumn:
		s, ok := v.(string)
		if !ok || !models.ValidStatus(s) {
			return nil, invalid()
		}
		return s, nil
	case dateColumn:
		s, ok := v.(string)
		if !ok {
			return nil, invalid()
		}
		d, err := dbtypes.ParseDate(s)
		if err != nil {
			return nil, invalid()
		}
		return d, nil
	case floatColumn:
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, invalid()
		}
		if lim, ok := floatLimits[col]; ok && (f < lim[0] || f > lim[1]) {
			return nil, invalid()
		}
		return f, nil
	case intColumn:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
			return nil, invalid()
		}
		return int64(f), nil
	}
	return nil, invalid()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
