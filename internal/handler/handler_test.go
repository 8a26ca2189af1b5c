package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osdev-labs/myfs/server/internal/memfs"
	"github.com/osdev-labs/myfs/server/internal/pkg/kerrors"
	"github.com/osdev-labs/myfs/server/internal/service"
	"github.com/osdev-labs/myfs/server/pkg/logging"
)

const testToken = "test-mount"

func newTestHandler(t *testing.T) (*Handler, int64) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := logging.MakeContextWithLogger(context.Background(), logger)

	svc := service.NewFileSystemService(memfs.NewRegistry(memfs.Limits{}))
	_, err := svc.Mount(ctx, testToken, "")
	require.NoError(t, err)
	root, err := svc.GetRoot(ctx, testToken)
	require.NoError(t, err)
	return NewHandler(svc), root.Ino
}

// call issues a GET with query values and returns the decoded return code
// and the payload after the 8-byte code header.
func call(t *testing.T, fn http.HandlerFunc, q url.Values) (int64, []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/?"+q.Encode(), nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	req = req.WithContext(logging.MakeContextWithLogger(req.Context(), logger))
	rec := httptest.NewRecorder()
	fn(rec, req)

	body := rec.Body.Bytes()
	require.GreaterOrEqual(t, len(body), 8, "response shorter than the code header")
	code := int64(binary.LittleEndian.Uint64(body[:8]))
	return code, body[8:]
}

func TestHandleMountWireFormat(t *testing.T) {
	h, _ := newTestHandler(t)

	code, payload := call(t, h.HandleMount, url.Values{
		"token": {"other"},
	})
	require.Equal(t, int64(0), code)

	// token comes first, null-terminated
	nul := bytes.IndexByte(payload, 0)
	require.Greater(t, nul, 0)
	assert.Equal(t, "other", string(payload[:nul]))

	// then the mount info block: magic, block_size, inodes, options[64]
	info := payload[nul+1:]
	require.Len(t, info, 8+8+8+64)
	assert.Equal(t, memfs.Magic, binary.LittleEndian.Uint64(info[:8]))
	assert.Equal(t, memfs.DefaultBlockSize, int64(binary.LittleEndian.Uint64(info[8:16])))
	assert.Equal(t, int64(1), int64(binary.LittleEndian.Uint64(info[16:24])))
}

func TestHandleMountGeneratedToken(t *testing.T) {
	h, _ := newTestHandler(t)

	code, payload := call(t, h.HandleMount, url.Values{})
	require.Equal(t, int64(0), code)

	nul := bytes.IndexByte(payload, 0)
	require.Greater(t, nul, 0, "a generated token must be echoed back")
}

func TestHandleGetRootMeta(t *testing.T) {
	h, rootIno := newTestHandler(t)

	code, payload := call(t, h.HandleGetRoot, url.Values{"token": {testToken}})
	require.Equal(t, int64(0), code)

	// ino, parent_ino, type, mode, size, nlink
	require.Len(t, payload, 8+8+2+4+8+4)
	assert.Equal(t, rootIno, int64(binary.LittleEndian.Uint64(payload[:8])))
	assert.Equal(t, rootIno, int64(binary.LittleEndian.Uint64(payload[8:16])))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(payload[16:18])))
	assert.Equal(t, memfs.S_IFDIR|memfs.DefaultMode, binary.LittleEndian.Uint32(payload[18:22]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(payload[30:34]))
}

func TestHandleLookupNotFound(t *testing.T) {
	h, rootIno := newTestHandler(t)

	code, _ := call(t, h.HandleLookup, url.Values{
		"token":  {testToken},
		"parent": {formatInt(rootIno)},
		"name":   {"missing"},
	})
	assert.Equal(t, kerrors.ENOENT, code)
}

func TestHandleMissingParams(t *testing.T) {
	h, _ := newTestHandler(t)

	code, _ := call(t, h.HandleLookup, url.Values{"token": {testToken}})
	assert.Equal(t, kerrors.EINVAL_NEG, code)

	code, _ = call(t, h.HandleUmount, url.Values{})
	assert.Equal(t, kerrors.EINVAL_NEG, code)
}

func TestHandleMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.HandleLookup(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleWriteAndRead(t *testing.T) {
	h, rootIno := newTestHandler(t)

	code, payload := call(t, h.HandleCreateFile, url.Values{
		"token":  {testToken},
		"parent": {formatInt(rootIno)},
		"name":   {"f"},
		"mode":   {"420"}, // 0o644
	})
	require.Equal(t, int64(0), code)
	ino := int64(binary.LittleEndian.Uint64(payload[:8]))

	data := []byte("wire bytes")
	code, payload = call(t, h.HandleWrite, url.Values{
		"token":  {testToken},
		"ino":    {formatInt(ino)},
		"len":    {formatInt(int64(len(data)))},
		"offset": {"0"},
		"data":   {base64.StdEncoding.EncodeToString(data)},
	})
	require.Equal(t, int64(0), code)
	require.Len(t, payload, 8)
	assert.Equal(t, int64(len(data)), int64(binary.LittleEndian.Uint64(payload)))

	code, payload = call(t, h.HandleRead, url.Values{
		"token":  {testToken},
		"ino":    {formatInt(ino)},
		"len":    {formatInt(int64(len(data)))},
		"offset": {"0"},
	})
	require.Equal(t, int64(0), code)
	assert.Equal(t, data, payload)
}

func TestHandleWriteBadBase64(t *testing.T) {
	h, _ := newTestHandler(t)

	code, _ := call(t, h.HandleWrite, url.Values{
		"token":  {testToken},
		"ino":    {"1000"},
		"len":    {"3"},
		"offset": {"0"},
		"data":   {"%%%not-base64%%%"},
	})
	assert.Equal(t, kerrors.EINVAL_NEG, code)
}

func TestHandleIterateDirDirent(t *testing.T) {
	h, rootIno := newTestHandler(t)

	code, _ := call(t, h.HandleMkdir, url.Values{
		"token":  {testToken},
		"parent": {formatInt(rootIno)},
		"name":   {"sub"},
		"mode":   {"493"}, // 0o755
	})
	require.Equal(t, int64(0), code)

	code, payload := call(t, h.HandleIterateDir, url.Values{
		"token":   {testToken},
		"dir_ino": {formatInt(rootIno)},
		"offset":  {"0"},
	})
	require.Equal(t, int64(0), code)

	// name[256], ino, type
	require.Len(t, payload, 256+8+2)
	nul := bytes.IndexByte(payload[:256], 0)
	assert.Equal(t, "sub", string(payload[:nul]))
	assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(payload[264:266])))

	code, _ = call(t, h.HandleIterateDir, url.Values{
		"token":   {testToken},
		"dir_ino": {formatInt(rootIno)},
		"offset":  {"1"},
	})
	assert.Equal(t, kerrors.ENOENT, code, "iteration past the end")
}

func TestHandleReadlinkString(t *testing.T) {
	h, rootIno := newTestHandler(t)

	code, payload := call(t, h.HandleSymlink, url.Values{
		"token":  {testToken},
		"parent": {formatInt(rootIno)},
		"name":   {"l"},
		"target": {"/tmp/somewhere"},
	})
	require.Equal(t, int64(0), code)
	ino := int64(binary.LittleEndian.Uint64(payload[:8]))

	code, payload = call(t, h.HandleReadlink, url.Values{
		"token": {testToken},
		"ino":   {formatInt(ino)},
	})
	require.Equal(t, int64(0), code)
	assert.Equal(t, append([]byte("/tmp/somewhere"), 0), payload)
}

func TestHandleCountLinksUint32(t *testing.T) {
	h, rootIno := newTestHandler(t)

	code, payload := call(t, h.HandleCountLinks, url.Values{
		"token": {testToken},
		"ino":   {formatInt(rootIno)},
	})
	require.Equal(t, int64(0), code)
	require.Len(t, payload, 4)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(payload))
}

func TestHandleHealthCheck(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealthCheck(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"myfs-server"}`, rec.Body.String())
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
