package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// System endpoints
	mux.HandleFunc("/health", h.HandleHealthCheck)
	mux.Handle("/metrics", promhttp.Handler())

	// Mount lifecycle
	mux.HandleFunc("/api/mount", h.HandleMount)
	mux.HandleFunc("/api/umount", h.HandleUmount)
	mux.HandleFunc("/api/statfs", h.HandleStatfs)

	// Namespace operations
	mux.HandleFunc("/api/get_root", h.HandleGetRoot)
	mux.HandleFunc("/api/lookup", h.HandleLookup)
	mux.HandleFunc("/api/iterate_dir", h.HandleIterateDir)
	mux.HandleFunc("/api/create_file", h.HandleCreateFile)
	mux.HandleFunc("/api/mkdir", h.HandleMkdir)
	mux.HandleFunc("/api/rmdir", h.HandleRmdir)
	mux.HandleFunc("/api/unlink", h.HandleUnlink)
	mux.HandleFunc("/api/link", h.HandleLink)
	mux.HandleFunc("/api/symlink", h.HandleSymlink)
	mux.HandleFunc("/api/mknod", h.HandleMknod)
	mux.HandleFunc("/api/rename", h.HandleRename)
	mux.HandleFunc("/api/tmpfile", h.HandleTmpfile)
	mux.HandleFunc("/api/release", h.HandleRelease)

	// Content and attributes
	mux.HandleFunc("/api/read", h.HandleRead)
	mux.HandleFunc("/api/write", h.HandleWrite)
	mux.HandleFunc("/api/readlink", h.HandleReadlink)
	mux.HandleFunc("/api/count_links", h.HandleCountLinks)
}
