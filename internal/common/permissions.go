package common

// File permission constants shared by config, history and credential files
const (
	// FilePermissionSecure is used for config, credential and history files
	FilePermissionSecure = 0600

	// FilePermissionNormal is used for tokenized templates and other outputs
	FilePermissionNormal = 0644

	// DirPermissionSecure is used for ~/.lakedeploy and its children
	DirPermissionSecure = 0700

	// DirPermissionNormal is used for output directories
	DirPermissionNormal = 0755
)
