package models

type NodeType int16

const (
	NodeTypeDir     NodeType = 0 // MYFS_NODE_DIR
	NodeTypeFile    NodeType = 1 // MYFS_NODE_FILE
	NodeTypeSymlink NodeType = 2 // MYFS_NODE_LNK
	NodeTypeCharDev NodeType = 3 // MYFS_NODE_CHR
	NodeTypeBlkDev  NodeType = 4 // MYFS_NODE_BLK
	NodeTypeFifo    NodeType = 5 // MYFS_NODE_FIFO
	NodeTypeSocket  NodeType = 6 // MYFS_NODE_SOCK
)

func (t NodeType) IsSpecial() bool {
	switch t {
	case NodeTypeCharDev, NodeTypeBlkDev, NodeTypeFifo, NodeTypeSocket:
		return true
	}
	return false
}

// DeviceID is the major/minor pair carried by special nodes.
type DeviceID struct {
	Major uint32
	Minor uint32
}

type NodeMeta struct {
	Ino       int64    `json:"ino"`
	ParentIno int64    `json:"parent_ino"`
	Type      NodeType `json:"type"`
	Mode      uint32   `json:"mode"` // umode_t, type bits included
	Size      int64    `json:"size"`
	Nlink     uint32   `json:"nlink"`
}

type Dirent struct {
	Name string   `json:"name"`
	Ino  int64    `json:"ino"`
	Type NodeType `json:"type"`
}

// MountInfo is the self-description reported back to the host
// (magic, version, option echo), the /proc/mounts analogue.
type MountInfo struct {
	Token     string `json:"token"`
	Magic     uint64 `json:"magic"`
	Version   string `json:"version"`
	Options   string `json:"options"`
	BlockSize int64  `json:"block_size"`
	Inodes    int64  `json:"inodes"`
}
