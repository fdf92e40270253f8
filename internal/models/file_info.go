package models

import "time"

// FileInfo represents metadata about a stored reference image.
type FileInfo struct {
	ID         string    `json:"id"` // slug the file is stored under
	Name       string    `json:"name"`
	Path       string    `json:"-"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}
