package utils

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxInputFileSize caps files handed to snippets and tools
const MaxInputFileSize = 10 << 20

var mimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".json": "application/json",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".xml":  "application/xml",
	".html": "text/html",
	".csv":  "text/csv",
}

var textExts = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".yaml": true, ".yml": true, ".xml": true,
	".html": true, ".css": true, ".js": true, ".ts": true, ".go": true, ".py": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".rs": true, ".sh": true,
	".csv": true, ".toml": true, ".ini": true, ".log": true, ".sql": true,
}

// ReadFileContent reads a regular file as text, refusing files above MaxInputFileSize
func ReadFileContent(filePath string) (string, error) {
	size, err := GetFileSize(filePath)
	if err != nil {
		return "", err
	}
	if size > MaxInputFileSize {
		return "", fmt.Errorf("file %s is too large: %d bytes", filepath.Base(filePath), size)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return string(data), nil
}

// ReadFileAsImageMarkdown reads an image and embeds it as a markdown data URL,
// the inline image form understood by the llm package
func ReadFileAsImageMarkdown(filePath string) (string, error) {
	if !IsImageFile(filePath) {
		return "", fmt.Errorf("not an image: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	return fmt.Sprintf("![img-%s](data:%s;base64,%s)", name, GetMimeType(filePath), base64.StdEncoding.EncodeToString(data)), nil
}

// ReadFileForPrompt returns a file as prompt text: images as inline markdown,
// everything else as plain text
func ReadFileForPrompt(filePath string) (string, error) {
	if IsImageFile(filePath) {
		return ReadFileAsImageMarkdown(filePath)
	}
	return ReadFileContent(filePath)
}

// GetMimeType returns the MIME type based on file extension
func GetMimeType(filePath string) string {
	if mime, ok := mimeTypes[strings.ToLower(filepath.Ext(filePath))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsImageFile checks if the file is an image
func IsImageFile(filePath string) bool {
	return strings.HasPrefix(GetMimeType(filePath), "image/")
}

// IsTextFile checks if the file is a text file
func IsTextFile(filePath string) bool {
	return textExts[strings.ToLower(filepath.Ext(filePath))]
}

// GetFileSize returns the file size in bytes
func GetFileSize(filePath string) (int64, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to get file info: %w", err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", filePath)
	}
	return info.Size(), nil
}
