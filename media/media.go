// Package media turns the image references of a product into local files
// that a browser file input can attach.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrMissingImage is matched by errors for images that cannot be found.
var ErrMissingImage = errors.New("image not found")

// Error reports a single image reference that could not be resolved.
type Error struct {
	Ref string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("image %s: %v", e.Ref, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ObjectGetter is the part of the S3 client the resolver uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ClientFunc builds the S3 client on first use, so runs with only local
// images never load AWS configuration.
type ClientFunc func(ctx context.Context) (ObjectGetter, error)

// NewS3Client loads the default AWS configuration. endpoint, when set,
// points the client at an S3-compatible service such as LocalStack.
func NewS3Client(endpoint string) ClientFunc {
	return func(ctx context.Context) (ObjectGetter, error) {
		cfg, err := awscfg.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return s3.NewFromConfig(cfg, func(o *s3.Options) {
			if endpoint != "" {
				o.UsePathStyle = true
				o.BaseEndpoint = aws.String(endpoint)
			}
		}), nil
	}
}

// Resolver maps image references to absolute local paths. Local paths are
// checked for existence; s3://bucket/key references are downloaded into a
// scratch directory and cached for the rest of the run.
type Resolver struct {
	// BaseDir anchors relative paths. Empty means the working directory.
	BaseDir string

	newClient ClientFunc

	mu      sync.Mutex
	client  ObjectGetter
	scratch string
	cache   *lru.Cache[string, string]
}

// NewResolver builds a resolver caching up to cacheSize downloads.
func NewResolver(newClient ClientFunc, cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.NewWithEvict[string, string](cacheSize, func(_ string, local string) {
		os.Remove(local)
	})
	if err != nil {
		return nil, fmt.Errorf("image cache: %w", err)
	}
	return &Resolver{newClient: newClient, cache: cache}, nil
}

// Resolve returns an absolute local path for every reference, in order.
func (r *Resolver) Resolve(ctx context.Context, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		local, err := r.resolveOne(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, local)
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, "s3://") {
		return r.fetch(ctx, ref)
	}

	p := ref
	if !filepath.IsAbs(p) && r.BaseDir != "" {
		p = filepath.Join(r.BaseDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", &Error{Ref: ref, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &Error{Ref: ref, Err: ErrMissingImage}
		}
		return "", &Error{Ref: ref, Err: err}
	}
	if info.IsDir() {
		return "", &Error{Ref: ref, Err: fmt.Errorf("is a directory")}
	}
	return abs, nil
}

func (r *Resolver) fetch(ctx context.Context, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if local, ok := r.cache.Get(ref); ok {
		return local, nil
	}

	bucket, key, err := parseS3(ref)
	if err != nil {
		return "", &Error{Ref: ref, Err: err}
	}
	if r.client == nil {
		if r.newClient == nil {
			return "", &Error{Ref: ref, Err: fmt.Errorf("no s3 client configured")}
		}
		client, err := r.newClient(ctx)
		if err != nil {
			return "", &Error{Ref: ref, Err: err}
		}
		r.client = client
	}
	if r.scratch == "" {
		dir, err := os.MkdirTemp("", "listing-images-*")
		if err != nil {
			return "", &Error{Ref: ref, Err: err}
		}
		r.scratch = dir
	}

	obj, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", &Error{Ref: ref, Err: fmt.Errorf("get object: %w", err)}
	}
	defer obj.Body.Close()

	f, err := os.CreateTemp(r.scratch, "*-"+path.Base(key))
	if err != nil {
		return "", &Error{Ref: ref, Err: err}
	}
	n, copyErr := io.Copy(f, obj.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(f.Name())
		return "", &Error{Ref: ref, Err: errors.Join(copyErr, closeErr)}
	}

	slog.Debug("image downloaded",
		slog.String("ref", ref),
		slog.String("path", f.Name()),
		slog.Int64("bytes", n),
	)
	r.cache.Add(ref, f.Name())
	return f.Name(), nil
}

// Close removes downloaded files.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
	if r.scratch == "" {
		return nil
	}
	err := os.RemoveAll(r.scratch)
	r.scratch = ""
	return err
}

func parseS3(ref string) (bucket, key string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 uri: %w", err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri must be s3://bucket/key")
	}
	return u.Host, key, nil
}
