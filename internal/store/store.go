// Package store persists encrypted lesson packages on the device.
package store

import (
	"encoding/hex"
	"fmt"
	"sort"

	"lessonvault/internal/offline"
)

// entryName maps a content id to a flat, path-safe name.
func entryName(contentID string) (string, error) {
	if contentID == "" {
		return "", fmt.Errorf("content id required")
	}
	return hex.EncodeToString([]byte(contentID)), nil
}

// sortIndex orders entries by download time, then content id.
func sortIndex(entries []offline.IndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].DownloadedAt.Equal(entries[j].DownloadedAt) {
			return entries[i].DownloadedAt.Before(entries[j].DownloadedAt)
		}
		return entries[i].ContentID < entries[j].ContentID
	})
}

// exhausted wraps err as ErrStorageExhausted when it reports a full disk or
// quota, and returns it unchanged otherwise.
func exhausted(err error) error {
	if err != nil && isNoSpace(err) {
		return fmt.Errorf("%w: %v", offline.ErrStorageExhausted, err)
	}
	return err
}
