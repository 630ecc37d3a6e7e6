package wal

import (
	"fmt"
	"os"
	"time"

	"github.com/alpacahq/cmdlog/utils/log"
)

func Move(oldFP, newFP string) error {
	err := os.Rename(oldFP, newFP)
	if err != nil {
		return fmt.Errorf("failed to move %s to %s:%w", oldFP, newFP, err)
	}
	log.Info("moved %s to %s", oldFP, newFP)
	return nil
}

// MoveAside renames a replayed log out of the way so that a new log can be
// created at the same path. The new name never matches DefaultFilePattern.
func MoveAside(path string, now time.Time) (string, error) {
	newPath := fmt.Sprintf("%s.%d.replayed", path, now.UTC().UnixNano())
	if err := Move(path, newPath); err != nil {
		return "", err
	}
	return newPath, nil
}
