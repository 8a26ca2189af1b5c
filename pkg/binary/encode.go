package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/http"

	"github.com/osdev-labs/myfs/server/internal/models"
)

// Wire layout matches the structs the kernel client reads, little-endian,
// fixed width.

func EncodeNodeMeta(meta *models.NodeMeta) ([]byte, error) {
	buf := new(bytes.Buffer)

	// ino (int64, 8 bytes)
	if err := binary.Write(buf, binary.LittleEndian, meta.Ino); err != nil {
		return nil, fmt.Errorf("failed to encode ino: %w", err)
	}

	// parent_ino (int64, 8 bytes)
	if err := binary.Write(buf, binary.LittleEndian, meta.ParentIno); err != nil {
		return nil, fmt.Errorf("failed to encode parent_ino: %w", err)
	}

	// type (int16, 2 bytes)
	if err := binary.Write(buf, binary.LittleEndian, int16(meta.Type)); err != nil {
		return nil, fmt.Errorf("failed to encode type: %w", err)
	}

	// mode (uint32, 4 bytes)
	if err := binary.Write(buf, binary.LittleEndian, meta.Mode); err != nil {
		return nil, fmt.Errorf("failed to encode mode: %w", err)
	}

	// size (int64, 8 bytes)
	if err := binary.Write(buf, binary.LittleEndian, meta.Size); err != nil {
		return nil, fmt.Errorf("failed to encode size: %w", err)
	}

	// nlink (uint32, 4 bytes)
	if err := binary.Write(buf, binary.LittleEndian, meta.Nlink); err != nil {
		return nil, fmt.Errorf("failed to encode nlink: %w", err)
	}

	return buf.Bytes(), nil
}

func EncodeDirent(dirent *models.Dirent) ([]byte, error) {
	buf := new(bytes.Buffer)

	// name (char[256], null-terminated, padded with zeros)
	nameBytes := make([]byte, 256)
	copy(nameBytes, dirent.Name)
	if _, err := buf.Write(nameBytes); err != nil {
		return nil, fmt.Errorf("failed to encode name: %w", err)
	}

	// ino (int64, 8 bytes)
	if err := binary.Write(buf, binary.LittleEndian, dirent.Ino); err != nil {
		return nil, fmt.Errorf("failed to encode ino: %w", err)
	}

	// type (int16, 2 bytes)
	if err := binary.Write(buf, binary.LittleEndian, int16(dirent.Type)); err != nil {
		return nil, fmt.Errorf("failed to encode type: %w", err)
	}

	return buf.Bytes(), nil
}

func EncodeMountInfo(info *models.MountInfo) ([]byte, error) {
	buf := new(bytes.Buffer)

	// magic (uint64, 8 bytes)
	if err := binary.Write(buf, binary.LittleEndian, info.Magic); err != nil {
		return nil, fmt.Errorf("failed to encode magic: %w", err)
	}

	// block_size (int64, 8 bytes)
	if err := binary.Write(buf, binary.LittleEndian, info.BlockSize); err != nil {
		return nil, fmt.Errorf("failed to encode block_size: %w", err)
	}

	// inodes (int64, 8 bytes)
	if err := binary.Write(buf, binary.LittleEndian, info.Inodes); err != nil {
		return nil, fmt.Errorf("failed to encode inodes: %w", err)
	}

	// options (char[64], null-terminated, padded with zeros)
	optBytes := make([]byte, 64)
	copy(optBytes, info.Options)
	if _, err := buf.Write(optBytes); err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}

	return buf.Bytes(), nil
}

func WriteResponse(w http.ResponseWriter, code int64, data []byte) error {
	response := new(bytes.Buffer)

	// return code (int64, 8 bytes)
	if err := binary.Write(response, binary.LittleEndian, code); err != nil {
		return fmt.Errorf("failed to write response code: %w", err)
	}

	if data != nil {
		if _, err := response.Write(data); err != nil {
			return fmt.Errorf("failed to write response data: %w", err)
		}
	}

	body := response.Bytes()

	// Set headers
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	_, err := w.Write(body)
	return err
}

func WriteUint32Response(w http.ResponseWriter, code int64, value uint32) error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, value); err != nil {
		return err
	}
	return WriteResponse(w, code, buf.Bytes())
}

func WriteInt64Response(w http.ResponseWriter, code int64, value int64) error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, value); err != nil {
		return err
	}
	return WriteResponse(w, code, buf.Bytes())
}

// WriteStringResponse sends a null-terminated string payload (readlink,
// show_options).
func WriteStringResponse(w http.ResponseWriter, code int64, value string) error {
	return WriteResponse(w, code, append([]byte(value), 0))
}
