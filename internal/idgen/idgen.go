// Package idgen provides the primary key strategies for new rows.
package idgen

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/chiron/internal/adapter"
)

type Strategy string

const (
	Snowflake Strategy = "snowflake"
	UUID      Strategy = "uuid"
	ULID      Strategy = "ulid"
	// Database leaves id assignment to the backend.
	Database Strategy = "database"
)

// New returns the generator for strategy. The Database strategy returns a
// nil generator.
func New(strategy Strategy, node int64) (adapter.IDGenerator, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(string(strategy)))) {
	case Snowflake, "":
		n, err := snowflake.NewNode(node)
		if err != nil {
			return nil, fmt.Errorf("snowflake node: %w", err)
		}
		return func(string) string { return n.Generate().String() }, nil
	case UUID:
		return func(string) string { return uuid.NewString() }, nil
	case ULID:
		return func(string) string { return strings.ToLower(ulid.Make().String()) }, nil
	case Database:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown id strategy %q", strategy)
	}
}
