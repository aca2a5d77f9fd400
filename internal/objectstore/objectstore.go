// Package objectstore wraps the shared S3/MinIO bucket. Folders are key
// prefixes, optionally backed by a zero-byte "<path>/" marker object.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"edu-data-console/internal/logger"
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrExists      = errors.New("target already exists")
	ErrInvalidPath = errors.New("invalid path")
)

// API is the subset of the S3 client the service uses.
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Config holds storage configuration
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	Bucket        string
	PublicBaseURL string
}

// Enabled returns true if storage is properly configured
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

func (c Config) endpointURL() string {
	if strings.HasPrefix(c.Endpoint, "http://") || strings.HasPrefix(c.Endpoint, "https://") {
		return strings.TrimRight(c.Endpoint, "/")
	}
	return "http://" + strings.TrimRight(c.Endpoint, "/")
}

// Service provides the folder/object operations of the admin console.
type Service struct {
	api        API
	presign    *s3.PresignClient
	bucket     string
	publicBase string
}

// New connects to an S3-compatible endpoint with path-style addressing.
func New(ctx context.Context, cfg Config) (*Service, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("object store not configured")
	}

	endpoint := cfg.endpointURL()
	customResolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               endpoint,
				HostnameImmutable: true,
				SigningRegion:     cfg.Region,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
		awsconfig.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	base := cfg.PublicBaseURL
	if base == "" {
		base = endpoint
	}

	logger.Info("object store initialized", "endpoint", endpoint, "bucket", cfg.Bucket)

	svc := NewWithAPI(client, cfg.Bucket, base)
	svc.presign = s3.NewPresignClient(client)
	return svc, nil
}

// NewWithAPI builds a service over an existing client.
func NewWithAPI(api API, bucket, publicBase string) *Service {
	return &Service{api: api, bucket: bucket, publicBase: strings.TrimRight(publicBase, "/")}
}

func (s *Service) Bucket() string { return s.bucket }

// URL is the public URL of key in the shared bucket.
func (s *Service) URL(key string) string {
	return PublicURL(s.publicBase, s.bucket, key)
}

type Folder struct {
	Name     string `json:"name"`
	FullPath string `json:"fullPath"`
}

type File struct {
	ObjectKey    string     `json:"object_key"`
	Name         string     `json:"name"`
	Size         int64      `json:"size"`
	ETag         string     `json:"etag"`
	LastModified *time.Time `json:"last_modified"`
	URL          string     `json:"url"`
}

type Listing struct {
	Bucket  string   `json:"bucket"`
	Path    string   `json:"path"`
	Prefix  string   `json:"prefix"`
	Folders []Folder `json:"folders"`
	Files   []File   `json:"files"`
}

// List returns the direct child folders and files of path.
func (s *Service) List(ctx context.Context, p string) (*Listing, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	prefix := FolderMarker(p)
	out := &Listing{Bucket: s.bucket, Path: p, Prefix: prefix, Folders: []Folder{}, Files: []File{}}

	var token *string
	for {
		page, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			full := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			if name := baseName(full); name != "" {
				out.Folders = append(out.Folders, Folder{Name: name, FullPath: full})
			}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			out.Files = append(out.Files, File{
				ObjectKey:    key,
				Name:         baseName(key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
				LastModified: obj.LastModified,
				URL:          s.URL(key),
			})
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}

	sort.SliceStable(out.Folders, func(i, j int) bool {
		return strings.ToLower(out.Folders[i].Name) < strings.ToLower(out.Folders[j].Name)
	})
	sort.SliceStable(out.Files, func(i, j int) bool {
		return strings.ToLower(out.Files[i].Name) < strings.ToLower(out.Files[j].Name)
	})
	return out, nil
}

// CreateFolder writes the folder marker; ErrExists when the prefix already
// holds anything.
func (s *Service) CreateFolder(ctx context.Context, p string) (string, error) {
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", fmt.Errorf("%w: full_path is required", ErrInvalidPath)
	}
	marker := FolderMarker(p)
	has, err := s.prefixHasAnything(ctx, marker)
	if err != nil {
		return "", err
	}
	if has {
		return "", fmt.Errorf("folder %q: %w", p, ErrExists)
	}
	if err := s.Put(ctx, marker, bytes.NewReader(nil), 0, "application/octet-stream"); err != nil {
		return "", err
	}
	return marker, nil
}

// RenameFolder copies every object under oldPath to newPath and then deletes
// the originals. Returns the number of objects copied.
func (s *Service) RenameFolder(ctx context.Context, oldPath, newPath string) (int, error) {
	oldPath, err := CleanPath(oldPath)
	if err != nil {
		return 0, err
	}
	newPath, err = CleanPath(newPath)
	if err != nil {
		return 0, err
	}
	if oldPath == "" || newPath == "" {
		return 0, fmt.Errorf("%w: old_path and new_path are required", ErrInvalidPath)
	}
	if oldPath == newPath {
		return 0, fmt.Errorf("%w: new_path is the same as old_path", ErrInvalidPath)
	}
	oldPrefix, newPrefix := FolderMarker(oldPath), FolderMarker(newPath)
	if strings.HasPrefix(newPrefix, oldPrefix) {
		return 0, fmt.Errorf("%w: new_path must not be inside old_path", ErrInvalidPath)
	}

	has, err := s.prefixHasAnything(ctx, oldPrefix)
	if err != nil {
		return 0, err
	}
	if !has {
		return 0, fmt.Errorf("folder %q: %w", oldPath, ErrNotFound)
	}
	if has, err = s.prefixHasAnything(ctx, newPrefix); err != nil {
		return 0, err
	} else if has {
		return 0, fmt.Errorf("folder %q: %w", newPath, ErrExists)
	}

	keys, err := s.listAll(ctx, oldPrefix)
	if err != nil {
		return 0, err
	}
	copied := 0
	for _, key := range keys {
		if err := s.copy(ctx, key, newPrefix+strings.TrimPrefix(key, oldPrefix)); err != nil {
			return copied, err
		}
		if key != oldPrefix {
			copied++
		}
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		return copied, err
	}
	logger.Info("folder renamed", "old_path", oldPath, "new_path", newPath, "copied", copied)
	return copied, nil
}

// RenameObject renames a file within its folder and returns the new key.
func (s *Service) RenameObject(ctx context.Context, objectKey, newName string) (string, error) {
	if strings.ContainsAny(newName, `/\`) {
		return "", fmt.Errorf("%w: new_name must not contain '/' or '\\'", ErrInvalidPath)
	}
	newName = strings.TrimSpace(newName)
	oldKey, err := CleanPath(objectKey)
	if err != nil {
		return "", err
	}
	if oldKey == "" || newName == "" {
		return "", fmt.Errorf("%w: object_key and new_name are required", ErrInvalidPath)
	}
	newKey := newName
	if parent := parentOf(oldKey); parent != "" {
		newKey = parent + "/" + newName
	}
	if newKey == oldKey {
		return "", fmt.Errorf("%w: new name is the same as current", ErrInvalidPath)
	}

	if ok, err := s.Exists(ctx, oldKey); err != nil {
		return "", err
	} else if !ok {
		return "", fmt.Errorf("object %q: %w", oldKey, ErrNotFound)
	}
	if ok, err := s.Exists(ctx, newKey); err != nil {
		return "", err
	} else if ok {
		return "", fmt.Errorf("object %q: %w", newKey, ErrExists)
	}

	if err := s.copy(ctx, oldKey, newKey); err != nil {
		return "", err
	}
	if err := s.Delete(ctx, oldKey); err != nil {
		return "", err
	}
	return newKey, nil
}

// Upload is one file of a multipart upload.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type UploadedFile struct {
	Filename  string `json:"filename"`
	ObjectKey string `json:"object_key"`
	ETag      string `json:"etag,omitempty"`
	URL       string `json:"url"`
}

type FailedFile struct {
	Filename  string `json:"filename"`
	ObjectKey string `json:"object_key,omitempty"`
	Error     string `json:"error"`
}

type UploadResult struct {
	Bucket        string         `json:"bucket"`
	Path          string         `json:"path"`
	UploadedCount int            `json:"uploaded_count"`
	FailedCount   int            `json:"failed_count"`
	Uploaded      []UploadedFile `json:"uploaded"`
	Failed        []FailedFile   `json:"failed"`
}

// UploadFiles stores files under path. Failures are reported per file and
// never overwrite an existing object.
func (s *Service) UploadFiles(ctx context.Context, p string, files []Upload) (*UploadResult, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files provided", ErrInvalidPath)
	}
	prefix := FolderMarker(p)
	res := &UploadResult{Bucket: s.bucket, Path: p, Uploaded: []UploadedFile{}, Failed: []FailedFile{}}
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		name := baseName(strings.ReplaceAll(f.Filename, `\`, "/"))
		if name == "" {
			res.Failed = append(res.Failed, FailedFile{Error: "Missing filename"})
			continue
		}
		key := prefix + name
		if seen[key] {
			res.Failed = append(res.Failed, FailedFile{Filename: name, ObjectKey: key, Error: "Duplicate in request batch"})
			continue
		}
		seen[key] = true

		exists, err := s.Exists(ctx, key)
		if err != nil {
			res.Failed = append(res.Failed, FailedFile{Filename: name, ObjectKey: key, Error: err.Error()})
			continue
		}
		if exists {
			res.Failed = append(res.Failed, FailedFile{Filename: name, ObjectKey: key, Error: "Already exists"})
			continue
		}

		etag, err := s.put(ctx, key, f.Body, f.Size, f.ContentType)
		if err != nil {
			res.Failed = append(res.Failed, FailedFile{Filename: name, ObjectKey: key, Error: err.Error()})
			continue
		}
		res.Uploaded = append(res.Uploaded, UploadedFile{Filename: name, ObjectKey: key, ETag: etag, URL: s.URL(key)})
	}

	res.UploadedCount = len(res.Uploaded)
	res.FailedCount = len(res.Failed)
	return res, nil
}

// InsertItem creates one object under path. With no file an empty text object
// is written, named name or item-<unix>.txt.
func (s *Service) InsertItem(ctx context.Context, p, name string, file *Upload) (string, error) {
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}

	var filename string
	if file != nil && file.Filename != "" {
		filename = baseName(strings.ReplaceAll(file.Filename, `\`, "/"))
	} else {
		filename = strings.TrimSpace(name)
		if filename == "" {
			filename = fmt.Sprintf("item-%d.txt", time.Now().Unix())
		}
		if strings.ContainsAny(filename, `/\`) {
			return "", fmt.Errorf("%w: name must not contain '/' or '\\'", ErrInvalidPath)
		}
	}
	key := FolderMarker(p) + filename

	if ok, err := s.Exists(ctx, key); err != nil {
		return "", err
	} else if ok {
		return "", fmt.Errorf("object %q: %w", key, ErrExists)
	}

	if file != nil {
		_, err = s.put(ctx, key, file.Body, file.Size, file.ContentType)
	} else {
		_, err = s.put(ctx, key, bytes.NewReader(nil), 0, "text/plain")
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

// DeleteFolder removes every object under path including its marker.
func (s *Service) DeleteFolder(ctx context.Context, p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	if p == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidPath)
	}
	prefix := FolderMarker(p)
	keys, err := s.listAll(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("folder %q: %w", p, ErrNotFound)
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		return err
	}
	logger.Info("folder deleted", "path", p, "objects", len(keys))
	return nil
}

// DeleteObject removes a single file; ErrNotFound when absent.
func (s *Service) DeleteObject(ctx context.Context, objectKey string) (string, error) {
	key, err := CleanPath(objectKey)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("%w: object_key is required", ErrInvalidPath)
	}
	if ok, err := s.Exists(ctx, key); err != nil {
		return "", err
	} else if !ok {
		return "", fmt.Errorf("object %q: %w", key, ErrNotFound)
	}
	return key, s.Delete(ctx, key)
}

// Get opens an object for reading.
func (s *Service) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("object %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	return out.Body, nil
}

// Put writes an object, overwriting any existing one.
func (s *Service) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.put(ctx, key, body, size, contentType)
	return err
}

func (s *Service) put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	out, err := s.api.PutObject(ctx, in)
	if err != nil {
		logger.Error("failed to upload object", "key", key, "error", err)
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return strings.Trim(aws.ToString(out.ETag), `"`), nil
}

// Exists checks if an object exists in storage
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object failed: %w", err)
	}
	return true, nil
}

// Delete removes an object from storage
func (s *Service) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// PresignGet returns a time-limited download URL.
func (s *Service) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s.presign == nil {
		return s.URL(key), nil
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("presign failed: %w", err)
	}
	return req.URL, nil
}

func (s *Service) prefixHasAnything(ctx context.Context, prefix string) (bool, error) {
	out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("list objects: %w", err)
	}
	return len(out.Contents) > 0, nil
}

func (s *Service) listAll(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		page, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return keys, nil
		}
		token = page.NextContinuationToken
	}
}

func (s *Service) copy(ctx context.Context, from, to string) error {
	_, err := s.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(s.bucket + "/" + escapeKey(from)),
	})
	if err != nil {
		return fmt.Errorf("copy %s -> %s: %w", from, to, err)
	}
	return nil
}

// deleteKeys removes keys in batches of 1000, the S3 DeleteObjects limit.
func (s *Service) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += 1000 {
		end := min(start+1000, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			msgs := make([]string, 0, len(out.Errors))
			for _, e := range out.Errors {
				msgs = append(msgs, aws.ToString(e.Key)+": "+aws.ToString(e.Message))
			}
			return fmt.Errorf("delete errors: %s", strings.Join(msgs, "; "))
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NotFound") || strings.Contains(msg, "404") || strings.Contains(msg, "NoSuchKey")
}
