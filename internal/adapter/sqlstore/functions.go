package sqlstore

import (
	"database/sql/driver"
	"fmt"
	"sync"

	"modernc.org/sqlite"

	"kb/internal/adapter/vector"
)

var registerOnce sync.Once

// registerFunctions makes vec_cosine(a, b) available on every connection
// opened afterwards. Arguments are embedding blobs; NULL in gives NULL out.
func registerFunctions() error {
	var err error
	registerOnce.Do(func() {
		err = sqlite.RegisterDeterministicScalarFunction("vec_cosine", 2, vecCosine)
	})
	return err
}

func vecCosine(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_cosine: expected 2 arguments, got %d", len(args))
	}
	a, err := asEmbedding(args[0])
	if err != nil {
		return nil, err
	}
	b, err := asEmbedding(args[1])
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, nil
	}
	return vector.Cosine(a, b), nil
}

func asEmbedding(arg driver.Value) ([]float32, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case []byte:
		return vector.Decode(v)
	default:
		return nil, fmt.Errorf("vec_cosine: unsupported argument type %T; want BLOB", arg)
	}
}
