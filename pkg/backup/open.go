package backup

import (
	"context"
	"fmt"

	"github.com/merakimate/merakimate/pkg/blob"
	"github.com/merakimate/merakimate/pkg/blob/fs"
	"github.com/merakimate/merakimate/pkg/blob/memory"
	"github.com/merakimate/merakimate/pkg/blob/redis"
	"github.com/merakimate/merakimate/pkg/blob/s3"
	"github.com/merakimate/merakimate/pkg/blob/sqlite"
)

// Options selects and configures the blob driver behind a Store.
type Options struct {
	Driver blob.Driver

	Dir string // fs

	Bucket    string // s3
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool

	RedisAddr     string // redis
	RedisPassword string
	RedisDB       int

	SQLitePath string // sqlite
}

// OpenBlobs constructs the blob store named by opts.Driver.
func OpenBlobs(ctx context.Context, opts Options) (blob.Store, error) {
	switch opts.Driver {
	case blob.DriverFS, "":
		return fs.New(opts.Dir)
	case blob.DriverMemory:
		return memory.New(), nil
	case blob.DriverS3:
		return s3.New(ctx, s3.Config{
			Region:    opts.Region,
			Bucket:    opts.Bucket,
			Prefix:    opts.Prefix,
			Endpoint:  opts.Endpoint,
			PathStyle: opts.PathStyle,
		})
	case blob.DriverRedis:
		return redis.New(ctx, redis.Config{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
	case blob.DriverSQLite:
		return sqlite.Open(opts.SQLitePath)
	}
	return nil, fmt.Errorf("unsupported backup driver %q", opts.Driver)
}

// Open returns a Store over the driver named by opts.
func Open(ctx context.Context, opts Options, storeOpts ...Option) (*Store, error) {
	blobs, err := OpenBlobs(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("opening %s backup store: %w", opts.Driver, err)
	}
	return New(blobs, storeOpts...), nil
}
