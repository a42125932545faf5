package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const batchSuffix = ".parquet"

var (
	componentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	batchKeyPattern  = regexp.MustCompile(`^date=\d{4}-\d{2}-\d{2}/batch-[a-zA-Z0-9][a-zA-Z0-9._-]*\.parquet$`)
)

// BuildBatchPath names a new batch object: one directory per UTC ingest day
// so listings come back in ingest order.
func BuildBatchPath(table string, ingestedAt time.Time, batchID string) (string, error) {
	if err := checkComponent(table, "table name"); err != nil {
		return "", err
	}
	if err := checkComponent(batchID, "batch id"); err != nil {
		return "", err
	}
	day := ingestedAt.UTC().Format("2006-01-02")
	return path.Join(table, "date="+day, "batch-"+batchID+batchSuffix), nil
}

func TablePrefix(table string) (string, error) {
	if err := checkComponent(table, "table name"); err != nil {
		return "", err
	}
	return table + "/", nil
}

// IsBatchKey reports whether key is a batch object of table as written by
// BuildBatchPath. Stray objects under the prefix are not batches.
func IsBatchKey(table, key string) bool {
	rest, ok := strings.CutPrefix(key, table+"/")
	if !ok {
		return false
	}
	return batchKeyPattern.MatchString(rest)
}

func checkComponent(value, field string) error {
	if !componentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
