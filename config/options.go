package config

import "time"

var (
	GDriveResolveRequestTimeout  = 30 * time.Second
	TeraboxResolveRequestTimeout = 30 * time.Second
	TeraboxPageRequestTimeout    = 30 * time.Second
	DirectDownloadRequestTimeout = 1 * time.Hour
	RangedPartDownloadTimeout    = 5 * time.Minute
	ThumbnailDownloadTimeout     = 30 * time.Second
	MediaProbeTimeout            = 30 * time.Second
	ProgressEditInterval         = 3 * time.Second
)
