package app

import (
	"time"

	"github.com/iriberri/provgraph/internal/platform/envutil"
)

type Config struct {
	// DBDriver is "postgres" or "sqlite".
	DBDriver   string
	SQLitePath string

	// RepoRoot is the local file repository root; GCSBucket switches the
	// repository to object storage when set.
	RepoRoot  string
	GCSBucket string

	// EngineVersion participates in content hashing: bumping it
	// invalidates every cached hash.
	EngineVersion string

	WorkerEnabled     bool
	WorkerPoll        time.Duration
	WorkerClaimLimit  int
	WorkerConcurrency int
}

func LoadConfig() Config {
	return Config{
		DBDriver:          envutil.String("DB_DRIVER", "postgres"),
		SQLitePath:        envutil.String("SQLITE_PATH", ":memory:"),
		RepoRoot:          envutil.String("REPO_ROOT", "./repository"),
		GCSBucket:         envutil.String("GCS_BUCKET", ""),
		EngineVersion:     envutil.String("ENGINE_VERSION", "1.0"),
		WorkerEnabled:     envutil.Bool("WORKER_ENABLED", true),
		WorkerPoll:        envutil.Duration("WORKER_POLL_INTERVAL", time.Second),
		WorkerClaimLimit:  envutil.Int("WORKER_CLAIM_LIMIT", 10),
		WorkerConcurrency: envutil.Int("WORKER_CONCURRENCY", 4),
	}
}
