package handler

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/osdev-labs/myfs/server/internal/metrics"
	"github.com/osdev-labs/myfs/server/internal/models"
	"github.com/osdev-labs/myfs/server/internal/pkg/kerrors"
	"github.com/osdev-labs/myfs/server/internal/service"
	"github.com/osdev-labs/myfs/server/pkg/binary"
)

// Handler maps the kernel client's HTTP surface onto the filesystem service.
// Every endpoint is a GET with query parameters and answers with the binary
// wire format the client module decodes.
type Handler struct {
	service service.FileSystemService
}

func NewHandler(service service.FileSystemService) *Handler {
	return &Handler{service: service}
}

// respond writes the binary reply and records the operation outcome.
func respond(w http.ResponseWriter, op string, code int64, data []byte) {
	metrics.ObserveOp(op, code)
	_ = binary.WriteResponse(w, code, data)
}

func mapErrorToCode(err error) int64 {
	if serviceErr, ok := err.(*service.ServiceError); ok {
		return serviceErr.Code
	}
	return kerrors.ENOMEM_NEG
}

// params wraps query-parameter parsing; the first parse failure sticks.
type params struct {
	q   map[string][]string
	bad bool
}

func newParams(r *http.Request) *params {
	return &params{q: r.URL.Query()}
}

func (p *params) str(key string) string {
	vs := p.q[key]
	if len(vs) == 0 || vs[0] == "" {
		p.bad = true
		return ""
	}
	return vs[0]
}

func (p *params) optional(key string) string {
	vs := p.q[key]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func (p *params) int64(key string) int64 {
	v, err := strconv.ParseInt(p.str(key), 10, 64)
	if err != nil {
		p.bad = true
	}
	return v
}

func (p *params) uint64(key string) uint64 {
	v, err := strconv.ParseUint(p.str(key), 10, 64)
	if err != nil {
		p.bad = true
	}
	return v
}

func (p *params) uint32(key string) uint32 {
	v, err := strconv.ParseUint(p.str(key), 10, 32)
	if err != nil {
		p.bad = true
	}
	return uint32(v)
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (h *Handler) writeMeta(w http.ResponseWriter, op string, meta *models.NodeMeta) {
	data, err := binary.EncodeNodeMeta(meta)
	if err != nil {
		respond(w, op, kerrors.ENOMEM_NEG, nil)
		return
	}
	respond(w, op, 0, data)
}

func (h *Handler) HandleMount(w http.ResponseWriter, r *http.Request) {
	const op = "mount"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.optional("token")
	options := p.optional("options")

	info, err := h.service.Mount(r.Context(), token, options)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}

	// token is echoed back null-terminated so a generated one reaches the
	// client, followed by the self-description block
	head := append([]byte(info.Token), 0)
	data, err := binary.EncodeMountInfo(info)
	if err != nil {
		respond(w, op, kerrors.ENOMEM_NEG, nil)
		return
	}
	respond(w, op, 0, append(head, data...))
}

func (h *Handler) HandleUmount(w http.ResponseWriter, r *http.Request) {
	const op = "umount"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	if err := h.service.Unmount(r.Context(), token); err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	respond(w, op, 0, nil)
}

func (h *Handler) HandleStatfs(w http.ResponseWriter, r *http.Request) {
	const op = "statfs"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	info, err := h.service.Statfs(r.Context(), token)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	data, err := binary.EncodeMountInfo(info)
	if err != nil {
		respond(w, op, kerrors.ENOMEM_NEG, nil)
		return
	}
	respond(w, op, 0, data)
}

func (h *Handler) HandleGetRoot(w http.ResponseWriter, r *http.Request) {
	const op = "get_root"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	meta, err := h.service.GetRoot(r.Context(), token)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	h.writeMeta(w, op, meta)
}

func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	const op = "lookup"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	parent := p.int64("parent")
	name := p.str("name")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	meta, err := h.service.Lookup(r.Context(), token, parent, name)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	h.writeMeta(w, op, meta)
}

func (h *Handler) HandleIterateDir(w http.ResponseWriter, r *http.Request) {
	const op = "iterate_dir"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	dirIno := p.int64("dir_ino")
	offset := p.uint64("offset")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	dirent, err := h.service.IterateDir(r.Context(), token, dirIno, &offset)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}

	data, err := binary.EncodeDirent(dirent)
	if err != nil {
		respond(w, op, kerrors.ENOMEM_NEG, nil)
		return
	}
	respond(w, op, 0, data)
}

func (h *Handler) HandleCreateFile(w http.ResponseWriter, r *http.Request) {
	const op = "create_file"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	parent := p.int64("parent")
	name := p.str("name")
	mode := p.uint32("mode")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	meta, err := h.service.CreateFile(r.Context(), token, parent, name, mode)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	h.writeMeta(w, op, meta)
}

func (h *Handler) HandleMkdir(w http.ResponseWriter, r *http.Request) {
	const op = "mkdir"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	parent := p.int64("parent")
	name := p.str("name")
	mode := p.uint32("mode")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	meta, err := h.service.CreateDir(r.Context(), token, parent, name, mode)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	h.writeMeta(w, op, meta)
}

func (h *Handler) HandleRmdir(w http.ResponseWriter, r *http.Request) {
	const op = "rmdir"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	parent := p.int64("parent")
	name := p.str("name")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	if err := h.service.Rmdir(r.Context(), token, parent, name); err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	respond(w, op, 0, nil)
}

func (h *Handler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	const op = "unlink"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	parent := p.int64("parent")
	name := p.str("name")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	if err := h.service.Unlink(r.Context(), token, parent, name); err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	respond(w, op, 0, nil)
}

func (h *Handler) HandleLink(w http.ResponseWriter, r *http.Request) {
	const op = "link"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	targetIno := p.int64("target_ino")
	parent := p.int64("parent")
	name := p.str("name")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	if err := h.service.Link(r.Context(), token, targetIno, parent, name); err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	respond(w, op, 0, nil)
}

func (h *Handler) HandleSymlink(w http.ResponseWriter, r *http.Request) {
	const op = "symlink"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	parent := p.int64("parent")
	name := p.str("name")
	target := p.str("target")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	meta, err := h.service.Symlink(r.Context(), token, parent, name, target)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	h.writeMeta(w, op, meta)
}

func (h *Handler) HandleMknod(w http.ResponseWriter, r *http.Request) {
	const op = "mknod"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	parent := p.int64("parent")
	name := p.str("name")
	mode := p.uint32("mode")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}
	// major/minor are only meaningful for device nodes; tolerate absence
	var dev models.DeviceID
	if v, err := strconv.ParseUint(p.optional("major"), 10, 32); err == nil {
		dev.Major = uint32(v)
	}
	if v, err := strconv.ParseUint(p.optional("minor"), 10, 32); err == nil {
		dev.Minor = uint32(v)
	}

	meta, err := h.service.Mknod(r.Context(), token, parent, name, mode, dev)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	h.writeMeta(w, op, meta)
}

func (h *Handler) HandleRename(w http.ResponseWriter, r *http.Request) {
	const op = "rename"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	srcParent := p.int64("src_parent")
	srcName := p.str("src_name")
	dstParent := p.int64("dst_parent")
	dstName := p.str("dst_name")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	if err := h.service.Rename(r.Context(), token, srcParent, srcName, dstParent, dstName); err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	respond(w, op, 0, nil)
}

func (h *Handler) HandleTmpfile(w http.ResponseWriter, r *http.Request) {
	const op = "tmpfile"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	mode := p.uint32("mode")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	meta, err := h.service.Tmpfile(r.Context(), token, mode)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	h.writeMeta(w, op, meta)
}

func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	const op = "release"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	ino := p.int64("ino")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	if err := h.service.ReleaseHandle(r.Context(), token, ino); err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	respond(w, op, 0, nil)
}

func (h *Handler) HandleRead(w http.ResponseWriter, r *http.Request) {
	const op = "read"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	ino := p.int64("ino")
	length := p.uint64("len")
	offset := p.int64("offset")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	buffer := make([]byte, length)
	read, err := h.service.Read(r.Context(), token, ino, buffer, offset)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	respond(w, op, 0, buffer[:read])
}

func (h *Handler) HandleWrite(w http.ResponseWriter, r *http.Request) {
	const op = "write"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	ino := p.int64("ino")
	length := p.uint64("len")
	offset := p.int64("offset")
	dataBase64 := p.str("data")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	data, err := base64.StdEncoding.DecodeString(dataBase64)
	if err != nil {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}
	if uint64(len(data)) < length {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	written, err := h.service.Write(r.Context(), token, ino, data, length, offset)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	metrics.ObserveOp(op, 0)
	_ = binary.WriteInt64Response(w, 0, written)
}

func (h *Handler) HandleReadlink(w http.ResponseWriter, r *http.Request) {
	const op = "readlink"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	ino := p.int64("ino")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	target, err := h.service.Readlink(r.Context(), token, ino)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	metrics.ObserveOp(op, 0)
	_ = binary.WriteStringResponse(w, 0, target)
}

func (h *Handler) HandleCountLinks(w http.ResponseWriter, r *http.Request) {
	const op = "count_links"
	if !requireGet(w, r) {
		return
	}

	p := newParams(r)
	token := p.str("token")
	ino := p.int64("ino")
	if p.bad {
		respond(w, op, kerrors.EINVAL_NEG, nil)
		return
	}

	count, err := h.service.CountLinks(r.Context(), token, ino)
	if err != nil {
		respond(w, op, mapErrorToCode(err), nil)
		return
	}
	metrics.ObserveOp(op, 0)
	_ = binary.WriteUint32Response(w, 0, count)
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","service":"myfs-server"}`))
}
