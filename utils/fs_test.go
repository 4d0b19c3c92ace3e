package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileOperations_DetectPartialDownload(t *testing.T) {
	fileOps := NewFileOperations()

	t.Run("existing_partial_file", func(t *testing.T) {
		outputPath := filepath.Join(t.TempDir(), "test.zip")
		if err := os.WriteFile(outputPath+".part", make([]byte, 1024), 0644); err != nil {
			t.Fatalf("Failed to create part file: %v", err)
		}

		exists, size, err := fileOps.DetectPartialDownload(outputPath)
		if err != nil {
			t.Fatalf("Failed to detect partial download: %v", err)
		}
		if !exists {
			t.Errorf("Expected partial download to be detected")
		}
		if size != 1024 {
			t.Errorf("Expected size 1024, got %d", size)
		}
	})

	t.Run("no_partial_file", func(t *testing.T) {
		exists, size, err := fileOps.DetectPartialDownload(filepath.Join(t.TempDir(), "test.zip"))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if exists || size != 0 {
			t.Errorf("Expected no partial download, got exists=%v size=%d", exists, size)
		}
	})
}

func TestFileOperations_ValidatePartialFile(t *testing.T) {
	fileOps := NewFileOperations()
	partPath := filepath.Join(t.TempDir(), "test.zip.part")
	if err := os.WriteFile(partPath, make([]byte, 1024), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		expected int64
		wantErr  bool
	}{
		{"smaller_than_expected", 2048, false},
		{"unknown_size", 0, false},
		{"larger_than_expected", 512, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fileOps.ValidatePartialFile(partPath, tt.expected)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePartialFile() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := fileOps.ValidatePartialFile(filepath.Join(t.TempDir(), "missing.part"), 10); err == nil {
		t.Error("missing partial file should fail validation")
	}
}

func TestFileOperations_SafeJoin(t *testing.T) {
	fileOps := NewFileOperations()
	dir := filepath.Join("out")

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "movie.mkv", filepath.Join(dir, "movie.mkv"), false},
		{"nested", "Season 1/ep1.mkv", filepath.Join(dir, "Season 1", "ep1.mkv"), false},
		{"traversal", "../../etc/passwd", filepath.Join(dir, "etc", "passwd"), false},
		{"backslashes", `sub\file?.txt`, filepath.Join(dir, "sub", "file_.txt"), false},
		{"empty", "..", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fileOps.SafeJoin(dir, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SafeJoin() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SafeJoin() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileOperations_ExistingMethods(t *testing.T) {
	fileOps := NewFileOperations()

	t.Run("ensure_dir", func(t *testing.T) {
		testPath := filepath.Join(t.TempDir(), "subdir", "test.txt")
		if err := fileOps.EnsureDir(testPath); err != nil {
			t.Fatalf("Failed to ensure directory: %v", err)
		}
		if _, err := os.Stat(filepath.Dir(testPath)); os.IsNotExist(err) {
			t.Errorf("Directory was not created")
		}
	})

	t.Run("atomic_rename", func(t *testing.T) {
		tempDir := t.TempDir()
		oldPath := filepath.Join(tempDir, "old.txt")
		newPath := filepath.Join(tempDir, "new.txt")

		if err := os.WriteFile(oldPath, []byte("test content"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := fileOps.AtomicRename(oldPath, newPath); err != nil {
			t.Fatalf("Failed to rename file: %v", err)
		}
		if fileOps.FileExists(oldPath) {
			t.Errorf("Old file should not exist after rename")
		}
		content, err := os.ReadFile(newPath)
		if err != nil || string(content) != "test content" {
			t.Errorf("File content mismatch after rename: %q, %v", content, err)
		}
	})
}
