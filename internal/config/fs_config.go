package config

// FSConfig bounds every mount created by this server. Zero values fall back
// to the built-in defaults (unlimited inodes, 4 KiB blocks, 2 GiB files).
type FSConfig struct {
	MaxInodes   int64 `yaml:"max_inodes" env:"FS_MAX_INODES" env-default:"0"`
	MaxFileSize int64 `yaml:"max_file_size" env:"FS_MAX_FILE_SIZE" env-default:"0"`
	BlockSize   int64 `yaml:"block_size" env:"FS_BLOCK_SIZE" env-default:"0"`
}
