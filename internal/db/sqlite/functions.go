package sqlite

import (
	"database/sql/driver"
	"math"
	"sync"

	msqlite "modernc.org/sqlite"

	"github.com/kailas-cloud/imgdex/internal/db"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions installs the vector functions for every connection opened
// afterwards. Registration is process-wide.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = msqlite.RegisterDeterministicScalarFunction("cosine_distance", 2, cosineDistanceFunc)
	})
	return registerErr
}

func cosineDistanceFunc(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	a, ok := args[0].([]byte)
	if !ok {
		return nil, nil
	}
	b, ok := args[1].([]byte)
	if !ok {
		return nil, nil
	}
	va, err := db.DecodeVector(a)
	if err != nil {
		return nil, err
	}
	vb, err := db.DecodeVector(b)
	if err != nil {
		return nil, err
	}
	d, ok := CosineDistance(va, vb)
	if !ok {
		return nil, nil
	}
	return d, nil
}

// CosineDistance returns 1 - cos(a, b). ok is false for mismatched lengths or
// zero vectors, which SQL sees as NULL.
func CosineDistance(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), true
}
