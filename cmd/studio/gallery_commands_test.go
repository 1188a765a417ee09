package main

import (
	"path/filepath"
	"testing"
	"time"

	"studio/internal/testsupport"
)

func seedGallery(t *testing.T, outputDir, metadataDir string) {
	t.Helper()
	now := time.Now()
	testsupport.WriteFileAt(t, filepath.Join(metadataDir, "old_gen.png"), "png", now.Add(-time.Hour))
	testsupport.WriteFileAt(t, filepath.Join(metadataDir, "old_gen.json"), `{"prompt":"old"}`, now.Add(-time.Hour))
	testsupport.WriteFileAt(t, filepath.Join(outputDir, "old_gen.mp4"), "video", now.Add(-time.Hour))

	testsupport.WriteFileAt(t, filepath.Join(metadataDir, "new_gen.png"), "png", now)
	testsupport.WriteFileAt(t, filepath.Join(metadataDir, "new_gen.json"), `{"prompt":"новый","steps":30}`, now)
	testsupport.WriteFileAt(t, filepath.Join(outputDir, "new_gen_1.mp4"), "video", now.Add(-time.Minute))
	testsupport.WriteFileAt(t, filepath.Join(outputDir, "new_gen_2.mp4"), "video", now)
}

func TestGalleryListAndShowOffline(t *testing.T) {
	env := setupOfflineEnv(t)
	seedGallery(t, env.cfg.Paths.OutputDir, env.cfg.Paths.MetadataDir)

	stdout, _, err := runCLI(t, env.configPath, "gallery", "list")
	if err != nil {
		t.Fatalf("gallery list: %v", err)
	}
	requireContains(t, stdout, "new_gen")
	requireContains(t, stdout, "old_gen")

	stdout, _, err = runCLI(t, env.configPath, "gallery", "show", "0")
	if err != nil {
		t.Fatalf("gallery show: %v", err)
	}
	requireContains(t, stdout, filepath.Join(env.cfg.Paths.OutputDir, "new_gen_2.mp4"))
	requireContains(t, stdout, `"prompt": "новый"`)

	stdout, _, err = runCLI(t, env.configPath, "gallery", "show", "missing_prefix")
	if err != nil {
		t.Fatalf("gallery show prefix: %v", err)
	}
	requireContains(t, stdout, "Video or JSON not found.")

	stdout, _, err = runCLI(t, env.configPath, "gallery", "show", "9")
	if err != nil {
		t.Fatalf("gallery show out of range: %v", err)
	}
	requireContains(t, stdout, "Nothing selected")
}

func TestGalleryThroughDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	seedGallery(t, env.cfg.Paths.OutputDir, env.cfg.Paths.MetadataDir)

	stdout, _, err := runCLI(t, env.configPath, "gallery", "show", "old_gen")
	if err != nil {
		t.Fatalf("gallery show: %v", err)
	}
	requireContains(t, stdout, filepath.Join(env.cfg.Paths.OutputDir, "old_gen.mp4"))
}

func TestGalleryShowPrefixFlagForDigitPrefix(t *testing.T) {
	env := setupOfflineEnv(t)
	seedGallery(t, env.cfg.Paths.OutputDir, env.cfg.Paths.MetadataDir)
	older := time.Now().Add(-2 * time.Hour)
	testsupport.WriteFileAt(t, filepath.Join(env.cfg.Paths.MetadataDir, "12345.png"), "png", older)
	testsupport.WriteFileAt(t, filepath.Join(env.cfg.Paths.MetadataDir, "12345.json"), `{"prompt":"digits"}`, older)
	testsupport.WriteFileAt(t, filepath.Join(env.cfg.Paths.OutputDir, "12345.mp4"), "video", older)

	// Bare digits are an index and fall off the end of a three-entry list.
	stdout, _, err := runCLI(t, env.configPath, "gallery", "show", "12345")
	if err != nil {
		t.Fatalf("gallery show digits: %v", err)
	}
	requireContains(t, stdout, "Nothing selected")

	stdout, _, err = runCLI(t, env.configPath, "gallery", "show", "--prefix", "12345")
	if err != nil {
		t.Fatalf("gallery show --prefix: %v", err)
	}
	requireField(t, stdout, "Prefix", "12345")
	requireContains(t, stdout, filepath.Join(env.cfg.Paths.OutputDir, "12345.mp4"))
	requireContains(t, stdout, `"prompt": "digits"`)

	if _, _, err := runCLI(t, env.configPath, "gallery", "show", "--prefix", "12345", "0"); err == nil {
		t.Fatal("expected error when both --prefix and an argument are given")
	}
}

func TestGalleryShowHelpExplainsIndexRescan(t *testing.T) {
	env := setupOfflineEnv(t)
	stdout, _, err := runCLI(t, env.configPath, "gallery", "show", "--help")
	if err != nil {
		t.Fatalf("gallery show --help: %v", err)
	}
	requireContains(t, stdout, "rescanned on every call")
	requireContains(t, stdout, "--prefix")
}
