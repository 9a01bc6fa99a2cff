// Package storage is the local-disk object store. Bodies live under
// root/bucket/filepath; download URLs carry an HMAC signature with an
// expiry so they can be handed to clients without exposing the tree.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"talkroom_server/internal/config"
	"talkroom_server/pkg/constants"
	"talkroom_server/pkg/errorx"

	"go.uber.org/zap"
)

// Object is one body to store.
type Object struct {
	Bucket   string
	Filepath string
	Data     []byte
}

// Store writes and signs objects for one configured root.
type Store struct {
	root    string
	bucket  string
	secret  []byte
	baseURL string
}

// New builds the store from config and ensures the root exists.
func New(cfg *config.StorageConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, errorx.Wrapf(err, errorx.CodeInternalServerError, "create storage root %s", cfg.Root)
	}
	return &Store{
		root:    cfg.Root,
		bucket:  cfg.BucketName,
		secret:  []byte(cfg.URLSecret),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// Bucket is the default bucket name for new objects.
func (s *Store) Bucket() string { return s.bucket }

func (s *Store) diskPath(bucket, fpath string) (string, error) {
	full := filepath.Join(s.root, bucket, filepath.FromSlash(fpath))
	if !strings.HasPrefix(full, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", errorx.Newf(errorx.CodeInvalid, "object path escapes storage root: %s", fpath)
	}
	return full, nil
}

// Upload writes one object, creating parent directories as needed.
func (s *Store) Upload(ctx context.Context, obj Object) error {
	if err := ctx.Err(); err != nil {
		return errorx.Wrap(err, errorx.CodeInternalServerError, "upload cancelled")
	}
	full, err := s.diskPath(obj.Bucket, obj.Filepath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errorx.Wrapf(err, errorx.CodeInternalServerError, "create object dir for %s", obj.Filepath)
	}
	if err := os.WriteFile(full, obj.Data, 0o644); err != nil {
		return errorx.Wrapf(err, errorx.CodeInternalServerError, "write object %s", obj.Filepath)
	}
	return nil
}

// UploadAll stores a batch; multiple objects go in parallel. A failed
// object is logged and reported as a nil slot so callers can keep the
// positions of the survivors.
func (s *Store) UploadAll(ctx context.Context, objs []Object) []*Object {
	results := make([]*Object, len(objs))
	if len(objs) == 1 {
		if err := s.Upload(ctx, objs[0]); err != nil {
			zap.L().Error("object upload failed",
				zap.String("filepath", objs[0].Filepath), zap.Error(err))
			return results
		}
		results[0] = &objs[0]
		return results
	}

	var wg sync.WaitGroup
	for i := range objs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Upload(ctx, objs[i]); err != nil {
				zap.L().Error("object upload failed",
					zap.String("filepath", objs[i].Filepath), zap.Error(err))
				return
			}
			results[i] = &objs[i]
		}(i)
	}
	wg.Wait()
	return results
}

// Exists reports whether the object body is on disk.
func (s *Store) Exists(bucket, fpath string) (bool, error) {
	full, err := s.diskPath(bucket, fpath)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(full)
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, errorx.Wrapf(statErr, errorx.CodeInternalServerError, "stat object %s", fpath)
}

// Read returns the object body.
func (s *Store) Read(bucket, fpath string) ([]byte, error) {
	full, err := s.diskPath(bucket, fpath)
	if err != nil {
		return nil, err
	}
	data, readErr := os.ReadFile(full)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, errorx.Newf(errorx.CodeNotFound, "object %s not found", fpath)
		}
		return nil, errorx.Wrapf(readErr, errorx.CodeInternalServerError, "read object %s", fpath)
	}
	return data, nil
}

func (s *Store) sign(bucket, fpath string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s/%s:%d", bucket, fpath, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedURL returns a time-limited download URL for an object.
func (s *Store) SignedURL(bucket, fpath string) string {
	expires := time.Now().Add(constants.PresignedURLExpiry).Unix()
	sig := s.sign(bucket, fpath, expires)
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", sig)
	return fmt.Sprintf("%s/media/%s/%s?%s", s.baseURL, bucket, fpath, q.Encode())
}

// VerifyURL checks the signature and expiry of a download request.
func (s *Store) VerifyURL(bucket, fpath, expiresStr, signature string) error {
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return errorx.New(errorx.CodeInvalid)
	}
	if time.Now().Unix() > expires {
		return errorx.Newf(errorx.CodePermissionDenied, "download url expired")
	}
	want := s.sign(bucket, fpath, expires)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return errorx.Newf(errorx.CodePermissionDenied, "bad download signature")
	}
	return nil
}
