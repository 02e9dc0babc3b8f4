// Package ttsutils provides file, path, and formatting helpers shared by the
// model loader, the request handler, and the worker.
package ttsutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Common path constants.
const (
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Error message and format string constants.
const (
	errModelNotFoundMsg               = "model file not found"
	errNotADirectoryMsg               = "expected a directory"
	errIsADirectoryMsg                = "expected a regular file"
	errFmtFailedToCreateDir           = "failed to create directory %s: %w"
	errFmtCouldNotResolveAbsolutePath = "could not resolve absolute path for %q: %w"
	errFmtErrorCheckingModelPath      = "error checking model path %q: %w"
	errFmtPathKind                    = "%w: %s"
)

var (
	// ErrModelNotFound is returned when a model file or directory cannot be located.
	ErrModelNotFound = errors.New(errModelNotFoundMsg)
	// ErrNotADirectory is returned when a directory was expected but a file was found.
	ErrNotADirectory = errors.New(errNotADirectoryMsg)
	// ErrIsADirectory is returned when a file was expected but a directory was found.
	ErrIsADirectory = errors.New(errIsADirectoryMsg)
)

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(
				errFmtFailedToCreateDir,
				path,
				mkdirErr,
			)
		}
	}

	return nil
}

// ResolveFile returns the absolute path of an existing regular file.
func ResolveFile(path string) (string, error) {
	absPath, info, err := resolveSinglePath(path)
	if err != nil {
		return "", err
	}

	if info.IsDir() {
		return "", fmt.Errorf(errFmtPathKind, ErrIsADirectory, absPath)
	}

	return absPath, nil
}

// ResolveDir returns the absolute path of an existing directory.
func ResolveDir(path string) (string, error) {
	absPath, info, err := resolveSinglePath(path)
	if err != nil {
		return "", err
	}

	if !info.IsDir() {
		return "", fmt.Errorf(errFmtPathKind, ErrNotADirectory, absPath)
	}

	return absPath, nil
}

// resolveSinglePath stats path and returns its absolute form. A missing path
// is reported as ErrModelNotFound; any other stat failure is returned as is.
func resolveSinglePath(path string) (string, os.FileInfo, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return "", nil, fmt.Errorf(errFmtPathKind, ErrModelNotFound, path)
		}

		return "", nil, fmt.Errorf(errFmtErrorCheckingModelPath, path, statErr)
	}

	absPath, errAbs := filepath.Abs(path)
	if errAbs != nil {
		return "", nil, fmt.Errorf(
			errFmtCouldNotResolveAbsolutePath,
			path,
			errAbs,
		)
	}

	return absPath, info, nil
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a byte count in a human-readable string (e.g., "1.2 GB",
// "500.5 MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// SanitizeFilename removes or replaces characters that are invalid in object
// names and most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		" ", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
