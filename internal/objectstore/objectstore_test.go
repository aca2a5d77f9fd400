package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memS3 is an in-memory bucket implementing API.
type memS3 struct {
	objects map[string][]byte
}

func newMemS3(keys ...string) *memS3 {
	m := &memS3{objects: map[string][]byte{}}
	for _, k := range keys {
		m.objects[k] = []byte("x")
	}
	return m
}

func (m *memS3) sortedKeys() []string {
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *memS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	seen := map[string]bool{}
	for _, k := range m.sortedKeys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(m.objects[k]))),
			ETag: aws.String(`"etag"`),
		})
		if in.MaxKeys != nil && int32(len(out.Contents)) >= *in.MaxKeys {
			break
		}
	}
	return out, nil
}

func (m *memS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := m.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{ETag: aws.String(`"new"`)}, nil
}

func (m *memS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	src := aws.ToString(in.CopySource)
	src = src[strings.Index(src, "/")+1:]
	src, _ = url.PathUnescape(src)
	b, ok := m.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	m.objects[aws.ToString(in.Key)] = b
	return &s3.CopyObjectOutput{}, nil
}

func (m *memS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, id := range in.Delete.Objects {
		delete(m.objects, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func newTestService(keys ...string) (*Service, *memS3) {
	mem := newMemS3(keys...)
	return NewWithAPI(mem, "edu", "http://minio:9000/"), mem
}

func TestCleanPath(t *testing.T) {
	cases := []struct {
		in, want string
		bad      bool
	}{
		{"/documents/class-10/", "documents/class-10", false},
		{"  a/b ", "a/b", false},
		{"", "", false},
		{`a\b`, "", true},
		{"a/../b", "", true},
		{"..", "", true},
		{"a/..b", "a/..b", false},
	}
	for _, tc := range cases {
		got, err := CleanPath(tc.in)
		if tc.bad {
			assert.ErrorIs(t, err, ErrInvalidPath, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
	assert.Equal(t, "", FolderMarker(""))
	assert.Equal(t, "a/b/", FolderMarker("a/b"))
}

func TestPublicURLRoundTrip(t *testing.T) {
	u := PublicURL("http://minio:9000/", "edu", "documents/Tin học/bài 1.pdf")
	assert.Equal(t, "http://minio:9000/edu/documents/Tin%20h%E1%BB%8Dc/b%C3%A0i%201.pdf", u)

	bucket, key, err := ParsePublicURL(u)
	require.NoError(t, err)
	assert.Equal(t, "edu", bucket)
	assert.Equal(t, "documents/Tin học/bài 1.pdf", key)

	_, _, err = ParsePublicURL("http://minio:9000/only-bucket")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestExt(t *testing.T) {
	assert.Equal(t, "docx", Ext("a/b/Lesson.DOCX"))
	assert.Equal(t, "pdf", Ext("a/b.pdf?x=1"))
	assert.Equal(t, "", Ext("a.b/c"))
}

func TestListReturnsDirectChildrenSorted(t *testing.T) {
	svc, _ := newTestService(
		"documents/",
		"documents/b.pdf",
		"documents/A.docx",
		"documents/class-10/",
		"documents/class-10/x.pdf",
		"documents/Class-11/y.pdf",
	)
	l, err := svc.List(context.Background(), "/documents/")
	require.NoError(t, err)
	assert.Equal(t, "documents/", l.Prefix)
	require.Len(t, l.Folders, 2)
	assert.Equal(t, "class-10", l.Folders[0].Name)
	assert.Equal(t, "Class-11", l.Folders[1].Name)
	require.Len(t, l.Files, 2)
	assert.Equal(t, "A.docx", l.Files[0].Name)
	assert.Equal(t, "etag", l.Files[0].ETag)
	assert.Equal(t, "http://minio:9000/edu/documents/b.pdf", l.Files[1].URL)
}

func TestCreateFolder(t *testing.T) {
	svc, mem := newTestService("existing/file.txt")
	ctx := context.Background()

	marker, err := svc.CreateFolder(ctx, "new/folder")
	require.NoError(t, err)
	assert.Equal(t, "new/folder/", marker)
	assert.Contains(t, mem.objects, "new/folder/")

	_, err = svc.CreateFolder(ctx, "existing")
	assert.ErrorIs(t, err, ErrExists)

	_, err = svc.CreateFolder(ctx, "/")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestRenameFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("moves every object", func(t *testing.T) {
		svc, mem := newTestService("a/", "a/x.pdf", "a/sub/y.pdf", "other/z.pdf")
		n, err := svc.RenameFolder(ctx, "a", "b")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"b/", "b/sub/y.pdf", "b/x.pdf", "other/z.pdf"}, mem.sortedKeys())
	})

	t.Run("rejects same and nested targets", func(t *testing.T) {
		svc, _ := newTestService("a/x.pdf")
		_, err := svc.RenameFolder(ctx, "a", "a/")
		assert.ErrorIs(t, err, ErrInvalidPath)
		_, err = svc.RenameFolder(ctx, "a", "a/inner")
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("missing source and existing target", func(t *testing.T) {
		svc, _ := newTestService("a/x.pdf", "b/y.pdf")
		_, err := svc.RenameFolder(ctx, "nope", "c")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.RenameFolder(ctx, "a", "b")
		assert.ErrorIs(t, err, ErrExists)
	})
}

func TestRenameObject(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService("docs/old.pdf", "docs/taken.pdf")

	newKey, err := svc.RenameObject(ctx, "docs/old.pdf", "new.pdf")
	require.NoError(t, err)
	assert.Equal(t, "docs/new.pdf", newKey)
	assert.NotContains(t, mem.objects, "docs/old.pdf")

	_, err = svc.RenameObject(ctx, "docs/new.pdf", "x/y.pdf")
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = svc.RenameObject(ctx, "docs/new.pdf", "taken.pdf")
	assert.ErrorIs(t, err, ErrExists)
	_, err = svc.RenameObject(ctx, "docs/missing.pdf", "z.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.RenameObject(ctx, "docs/new.pdf", "new.pdf")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestUploadFilesReportsPerFileFailures(t *testing.T) {
	svc, mem := newTestService("docs/exists.pdf")
	res, err := svc.UploadFiles(context.Background(), "docs", []Upload{
		{Filename: "a.pdf", Size: 3, Body: strings.NewReader("abc")},
		{Filename: "a.pdf", Size: 3, Body: strings.NewReader("abc")},
		{Filename: "exists.pdf", Size: 1, Body: strings.NewReader("z")},
		{Filename: "", Body: strings.NewReader("")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UploadedCount)
	assert.Equal(t, 3, res.FailedCount)
	assert.Equal(t, "docs/a.pdf", res.Uploaded[0].ObjectKey)
	assert.Equal(t, "Duplicate in request batch", res.Failed[0].Error)
	assert.Equal(t, "Already exists", res.Failed[1].Error)
	assert.Equal(t, "Missing filename", res.Failed[2].Error)
	assert.Equal(t, []byte("abc"), mem.objects["docs/a.pdf"])
}

func TestInsertItem(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService()

	key, err := svc.InsertItem(ctx, "docs", "", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "docs/item-"))
	assert.True(t, strings.HasSuffix(key, ".txt"))

	key, err = svc.InsertItem(ctx, "docs", "", &Upload{Filename: "real.pdf", Size: 2, Body: strings.NewReader("hi")})
	require.NoError(t, err)
	assert.Equal(t, "docs/real.pdf", key)
	assert.Equal(t, []byte("hi"), mem.objects[key])

	_, err = svc.InsertItem(ctx, "docs", "real.pdf", nil)
	assert.ErrorIs(t, err, ErrExists)
	_, err = svc.InsertItem(ctx, "docs", "bad/name", nil)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestDeleteFolderAndObject(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService("a/", "a/x.pdf", "a/b/y.pdf", "keep.pdf")

	require.NoError(t, svc.DeleteFolder(ctx, "a"))
	assert.Equal(t, []string{"keep.pdf"}, mem.sortedKeys())
	assert.ErrorIs(t, svc.DeleteFolder(ctx, "a"), ErrNotFound)

	key, err := svc.DeleteObject(ctx, "/keep.pdf")
	require.NoError(t, err)
	assert.Equal(t, "keep.pdf", key)
	_, err = svc.DeleteObject(ctx, "keep.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMissingObject(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExistsAndPresignFallback(t *testing.T) {
	svc, _ := newTestService("docs/a.pdf")
	ctx := context.Background()

	ok, err := svc.Exists(ctx, "docs/a.pdf")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.Exists(ctx, "docs/b.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	// Without a presign client the public URL is returned.
	link, err := svc.PresignGet(ctx, "docs/a.pdf", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/edu/docs/a.pdf", link)
}
